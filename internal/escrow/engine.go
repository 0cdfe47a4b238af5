package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/ledger"
	"github.com/gigmesh/settlement/internal/oracle"
	"github.com/gigmesh/settlement/internal/orderbook"
)

// AttestationReader is the narrow read escrow needs from the attestation
// verifier: release is gated on this and nothing else.
type AttestationReader interface {
	IsDeliveryConfirmed(ctx context.Context, jobID uint64) (bool, error)
}

// EarningsCreditor is the staking engine's credit capability. It returns
// whether the provider holds an active stake position and was credited; a
// false return means escrow pays the provider directly.
type EarningsCreditor interface {
	CreditEarnings(ctx context.Context, provider common.Address, amount sdkmath.Int) (bool, error)
}

type EngineConfig struct {
	Store        Store
	Book         *orderbook.Book
	Oracle       *oracle.Oracle
	Ledger       *ledger.Ledger
	Attestations AttestationReader

	// Creditor may be nil when the deployment runs without the staking
	// mechanic; all releases then pay providers directly.
	Creditor EarningsCreditor

	// Vault custodies funded deposits. StakeVault backs earnings credited
	// to staked providers instead of a direct transfer.
	Vault        common.Address
	StakeVault   common.Address
	FeeCollector common.Address

	// Operator is the privileged dispute-resolution role allowed to refund.
	Operator common.Address

	SlippageBps uint32
	FeeBps      uint32

	Now func() time.Time
	Log *slog.Logger
}

// Engine custodies job funds and gates their movement. Every settlement
// path marks the deposit terminal before any value moves, so a reentrant
// call observes an already-settled deposit and is rejected by the guards.
type Engine struct {
	store  Store
	book   *orderbook.Book
	oracle *oracle.Oracle
	ledger *ledger.Ledger
	attest AttestationReader

	creditor EarningsCreditor

	vault        common.Address
	stakeVault   common.Address
	feeCollector common.Address
	operator     common.Address

	slippageBps uint32
	feeBps      uint32

	now func() time.Time
	log *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil || cfg.Book == nil || cfg.Oracle == nil || cfg.Ledger == nil || cfg.Attestations == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidConfig)
	}
	if cfg.Vault == (common.Address{}) || cfg.FeeCollector == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing vault or fee collector account", ErrInvalidConfig)
	}
	if cfg.Operator == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing operator", ErrInvalidConfig)
	}
	if cfg.Creditor != nil && cfg.StakeVault == (common.Address{}) {
		return nil, fmt.Errorf("%w: creditor set without stake vault", ErrInvalidConfig)
	}
	if cfg.SlippageBps >= maxBps {
		return nil, fmt.Errorf("%w: slippage bps must be < %d", ErrInvalidConfig, maxBps)
	}
	if cfg.FeeBps >= maxBps {
		return nil, fmt.Errorf("%w: fee bps must be < %d", ErrInvalidConfig, maxBps)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		store:        cfg.Store,
		book:         cfg.Book,
		oracle:       cfg.Oracle,
		ledger:       cfg.Ledger,
		attest:       cfg.Attestations,
		creditor:     cfg.Creditor,
		vault:        cfg.Vault,
		stakeVault:   cfg.StakeVault,
		feeCollector: cfg.FeeCollector,
		operator:     cfg.Operator,
		slippageBps:  cfg.SlippageBps,
		feeBps:       cfg.FeeBps,
		now:          now,
		log:          log,
	}, nil
}

// FundJob accepts the poster's value transfer for a job. The deposit
// records the actual transferred amount, not the USD-derived estimate:
// release pays out what was received, never a recomputed figure from a
// second oracle read.
func (e *Engine) FundJob(ctx context.Context, caller common.Address, jobID uint64, provider common.Address, usdBudget, transferred sdkmath.Int) (Deposit, error) {
	if usdBudget.IsNil() || !usdBudget.IsPositive() {
		return Deposit{}, fmt.Errorf("%w: usd budget must be > 0", ErrInvalidDeposit)
	}
	if transferred.IsNil() || !transferred.IsPositive() {
		return Deposit{}, fmt.Errorf("%w: transferred amount must be > 0", ErrInvalidDeposit)
	}

	job, err := e.book.GetJob(ctx, jobID)
	if err != nil {
		return Deposit{}, err
	}
	if job.Status != orderbook.StatusAssigned && job.Status != orderbook.StatusCompleted {
		return Deposit{}, fmt.Errorf("%w: job is %s", ErrWrongState, job.Status)
	}
	if provider != job.Provider {
		return Deposit{}, ErrProviderMismatch
	}
	if caller != job.Poster {
		return Deposit{}, ErrNotParty
	}
	if existing, err := e.store.Get(ctx, jobID); err == nil && existing.Funded {
		return Deposit{}, ErrAlreadyFunded
	}

	required, err := e.oracle.UsdToNative(ctx, usdBudget)
	if err != nil {
		return Deposit{}, fmt.Errorf("escrow: validate funding: %w", err)
	}
	minAccepted := applyBps(required, maxBps-e.slippageBps)
	if transferred.LT(minAccepted) {
		return Deposit{}, fmt.Errorf("%w: transferred %s, need at least %s (required %s, slippage %d bps)",
			ErrInsufficientFunds, transferred, minAccepted, required, e.slippageBps)
	}

	// Accept the payment into the vault, then record custody. The incoming
	// transfer is the funding call's attached value; if the caller cannot
	// cover it the operation fails before any record exists.
	if err := e.ledger.Transfer(caller, e.vault, transferred); err != nil {
		return Deposit{}, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	d := Deposit{
		JobID:    jobID,
		Poster:   job.Poster,
		Provider: job.Provider,
		Amount:   transferred,
		Funded:   true,
		FundedAt: e.now(),
	}
	if err := e.store.Create(ctx, d); err != nil {
		// Undo the acceptance; the deposit record is the source of truth.
		if uerr := e.ledger.Transfer(e.vault, caller, transferred); uerr != nil {
			e.log.Error("undo funding transfer failed",
				"job_id", jobID,
				"poster", caller.Hex(),
				"amount", transferred.String(),
				"err", uerr,
			)
		}
		return Deposit{}, err
	}

	e.log.Info("job funded",
		"job_id", jobID,
		"poster", d.Poster.Hex(),
		"amount", d.Amount.String(),
	)
	return d, nil
}

// ReleaseToProvider settles a funded deposit to the provider, minus the
// platform fee. Attestation is the single non-bypassable gate; there is no
// privileged override here.
func (e *Engine) ReleaseToProvider(ctx context.Context, caller common.Address, jobID uint64) (Deposit, error) {
	d, err := e.store.Get(ctx, jobID)
	if err != nil {
		return Deposit{}, err
	}
	if caller != d.Poster && caller != d.Provider {
		return Deposit{}, ErrNotParty
	}
	if d.Settled() {
		return Deposit{}, ErrAlreadySettled
	}

	confirmed, err := e.attest.IsDeliveryConfirmed(ctx, jobID)
	if err != nil {
		return Deposit{}, fmt.Errorf("escrow: check attestation: %w", err)
	}
	if !confirmed {
		return Deposit{}, ErrNotAttested
	}

	// The job must be COMPLETED before the deposit turns terminal. Checking
	// here keeps the deposit recoverable (refundable) when the order book
	// would reject the transition; marking first would strand the funds.
	job, err := e.book.GetJob(ctx, jobID)
	if err != nil {
		return Deposit{}, err
	}
	if job.Status != orderbook.StatusCompleted {
		return Deposit{}, fmt.Errorf("%w: job is %s", ErrWrongState, job.Status)
	}

	// State first, transfers second.
	d, err = e.store.MarkReleased(ctx, jobID, e.now())
	if err != nil {
		return Deposit{}, err
	}
	if _, err := e.book.MarkReleased(ctx, jobID); err != nil {
		return Deposit{}, fmt.Errorf("escrow: transition job: %w", err)
	}

	fee := applyBps(d.Amount, e.feeBps)
	net := d.Amount.Sub(fee)

	if err := e.ledger.Transfer(e.vault, e.feeCollector, fee); err != nil {
		return Deposit{}, fmt.Errorf("escrow: pay fee: %w", err)
	}

	credited := false
	if e.creditor != nil {
		credited, err = e.creditor.CreditEarnings(ctx, d.Provider, net)
		if err != nil {
			return Deposit{}, fmt.Errorf("escrow: credit earnings: %w", err)
		}
	}
	dest := d.Provider
	if credited {
		dest = e.stakeVault
	}
	if err := e.ledger.Transfer(e.vault, dest, net); err != nil {
		return Deposit{}, fmt.Errorf("escrow: pay provider: %w", err)
	}

	e.log.Info("deposit released",
		"job_id", jobID,
		"provider", d.Provider.Hex(),
		"net", net.String(),
		"fee", fee.String(),
		"staked", credited,
	)
	return d, nil
}

// Refund is the operator-only dispute escape hatch for jobs that can never
// be attested. It deliberately requires no particular order-book state:
// disputes can arise at any point after funding.
func (e *Engine) Refund(ctx context.Context, caller common.Address, jobID uint64) (Deposit, error) {
	if caller != e.operator {
		return Deposit{}, ErrNotOperator
	}

	d, err := e.store.Get(ctx, jobID)
	if err != nil {
		return Deposit{}, err
	}
	if d.Settled() {
		return Deposit{}, ErrAlreadySettled
	}

	d, err = e.store.MarkRefunded(ctx, jobID, e.now())
	if err != nil {
		return Deposit{}, err
	}
	if err := e.ledger.Transfer(e.vault, d.Poster, d.Amount); err != nil {
		return Deposit{}, fmt.Errorf("escrow: refund poster: %w", err)
	}

	e.log.Info("deposit refunded",
		"job_id", jobID,
		"poster", d.Poster.Hex(),
		"amount", d.Amount.String(),
	)
	return d, nil
}

func (e *Engine) GetDeposit(ctx context.Context, jobID uint64) (Deposit, error) {
	return e.store.Get(ctx, jobID)
}

func applyBps(amount sdkmath.Int, bps uint32) sdkmath.Int {
	return amount.MulRaw(int64(bps)).QuoRaw(maxBps)
}
