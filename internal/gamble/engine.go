package gamble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/ledger"
	"github.com/gigmesh/settlement/internal/randomness"
)

// EngineConfig wires the staking engine to its stores and accounts.
type EngineConfig struct {
	Store  Store
	Ledger *ledger.Ledger
	Random randomness.Source

	// Vault holds every staked amount plus all unresolved earnings.
	Vault common.Address
	// LossPool receives lost earnings and funds win bonuses.
	LossPool common.Address
	// FeeCollector receives house and safe-withdraw fees.
	FeeCollector common.Address

	MinimumStake sdkmath.Int

	HouseFeeBps        uint32
	SafeWithdrawFeeBps uint32
	MaxRandomAge       time.Duration

	Now func() time.Time
	Log *slog.Logger
}

// Engine runs the provider staking game: stake to enable earnings
// routing, then resolve accumulated earnings with a coin-flip cashout or
// a fee-bearing safe withdraw.
type Engine struct {
	store  Store
	ledg   *ledger.Ledger
	random randomness.Source

	vault        common.Address
	lossPool     common.Address
	feeCollector common.Address

	minimumStake sdkmath.Int

	houseFeeBps        uint32
	safeWithdrawFeeBps uint32
	maxRandomAge       time.Duration

	now func() time.Time
	log *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store required", ErrInvalidConfig)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: ledger required", ErrInvalidConfig)
	}
	if cfg.Random == nil {
		return nil, fmt.Errorf("%w: randomness source required", ErrInvalidConfig)
	}
	if cfg.Vault == (common.Address{}) || cfg.LossPool == (common.Address{}) || cfg.FeeCollector == (common.Address{}) {
		return nil, fmt.Errorf("%w: vault, loss pool and fee collector required", ErrInvalidConfig)
	}
	if cfg.HouseFeeBps > maxBps || cfg.SafeWithdrawFeeBps > maxBps {
		return nil, fmt.Errorf("%w: fee bps above %d", ErrInvalidConfig, maxBps)
	}

	minStake := cfg.MinimumStake
	if minStake.IsNil() {
		minStake = sdkmath.ZeroInt()
	}
	if minStake.IsNegative() {
		return nil, fmt.Errorf("%w: minimum stake must be >= 0", ErrInvalidConfig)
	}

	houseFee := cfg.HouseFeeBps
	if houseFee == 0 {
		houseFee = DefaultHouseFeeBps
	}
	safeFee := cfg.SafeWithdrawFeeBps
	if safeFee == 0 {
		safeFee = DefaultSafeWithdrawFeeBps
	}
	maxAge := cfg.MaxRandomAge
	if maxAge <= 0 {
		maxAge = DefaultMaxRandomAge
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
		store:              cfg.Store,
		ledg:               cfg.Ledger,
		random:             cfg.Random,
		vault:              cfg.Vault,
		lossPool:           cfg.LossPool,
		feeCollector:       cfg.FeeCollector,
		minimumStake:       minStake,
		houseFeeBps:        houseFee,
		safeWithdrawFeeBps: safeFee,
		maxRandomAge:       maxAge,
		now:                now,
		log:                log,
	}, nil
}

// Stake moves amount from the caller into the stake vault and activates
// the caller's position. A provider can hold at most one active stake.
func (e *Engine) Stake(ctx context.Context, caller common.Address, amount sdkmath.Int) (Position, error) {
	if caller == (common.Address{}) {
		return Position{}, fmt.Errorf("%w: zero caller", ErrInvalidAmount)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return Position{}, fmt.Errorf("%w: stake must be > 0", ErrInvalidAmount)
	}
	if amount.LT(e.minimumStake) {
		return Position{}, fmt.Errorf("%w: minimum %s", ErrBelowMinimumStake, e.minimumStake)
	}

	pos, err := e.store.Get(ctx, caller)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Position{}, err
	}
	if err == nil && pos.IsStaked {
		return Position{}, ErrAlreadyStaked
	}

	if err := e.ledg.Transfer(caller, e.vault, amount); err != nil {
		return Position{}, err
	}
	pos, err = e.store.SetStaked(ctx, caller, amount, e.now())
	if err != nil {
		if undoErr := e.ledg.Transfer(e.vault, caller, amount); undoErr != nil {
			return Position{}, fmt.Errorf("record stake: %w (refund failed: %v)", err, undoErr)
		}
		return Position{}, err
	}

	e.log.Info("stake opened", "provider", caller.Hex(), "amount", amount.String())
	return pos, nil
}

// Unstake deactivates the position and returns the staked principal.
// Accumulated earnings stay on the position and remain resolvable.
func (e *Engine) Unstake(ctx context.Context, caller common.Address) (Position, error) {
	pos, returned, err := e.store.SetUnstaked(ctx, caller, e.now())
	if err != nil {
		return Position{}, err
	}
	if returned.IsPositive() {
		if err := e.ledg.Transfer(e.vault, caller, returned); err != nil {
			return Position{}, fmt.Errorf("return stake: %w", err)
		}
	}

	e.log.Info("stake closed", "provider", caller.Hex(), "returned", returned.String())
	return pos, nil
}

// CreditEarnings records amount as resolvable earnings for provider. It
// reports false without error when the provider has no active stake, in
// which case the caller keeps custody of the value. The corresponding
// value must already sit in the stake vault when credited is true.
func (e *Engine) CreditEarnings(ctx context.Context, provider common.Address, amount sdkmath.Int) (bool, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return false, fmt.Errorf("%w: credit must be > 0", ErrInvalidAmount)
	}

	pos, err := e.store.Get(ctx, provider)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !pos.IsStaked {
		return false, nil
	}

	if _, err := e.store.Credit(ctx, provider, amount, e.now()); err != nil {
		return false, err
	}
	e.log.Info("earnings credited", "provider", provider.Hex(), "amount", amount.String())
	return true, nil
}

// Cashout resolves all accumulated earnings with a double-or-nothing
// flip. The house fee comes off the top either way. On an even draw the
// caller receives the net earnings plus a bonus from the loss pool,
// capped at whatever the pool holds. On an odd draw the net earnings
// move to the loss pool.
func (e *Engine) Cashout(ctx context.Context, caller common.Address) (Outcome, sdkmath.Int, error) {
	pos, err := e.store.Get(ctx, caller)
	if err != nil {
		return 0, sdkmath.Int{}, err
	}
	if pos.AccumulatedEarnings.IsZero() {
		return 0, sdkmath.Int{}, ErrNoEarnings
	}

	sample, err := e.random.Draw(ctx)
	if err != nil {
		return 0, sdkmath.Int{}, fmt.Errorf("draw randomness: %w", err)
	}
	if !sample.Secure {
		return 0, sdkmath.Int{}, ErrInsecureRandom
	}
	// A sample without an observation time has no provable freshness and
	// settles nothing.
	now := e.now()
	if sample.ObservedAt.IsZero() || now.Sub(sample.ObservedAt) > e.maxRandomAge {
		return 0, sdkmath.Int{}, ErrStaleRandom
	}

	win := sample.Value.Bit(0) == 0
	outcome := OutcomeLoss
	if win {
		outcome = OutcomeWin
	}

	_, earnings, err := e.store.Settle(ctx, caller, outcome, now)
	if err != nil {
		return 0, sdkmath.Int{}, err
	}

	fee := applyBps(earnings, e.houseFeeBps)
	net := earnings.Sub(fee)

	if fee.IsPositive() {
		if err := e.ledg.Transfer(e.vault, e.feeCollector, fee); err != nil {
			return 0, sdkmath.Int{}, fmt.Errorf("collect house fee: %w", err)
		}
	}

	if !win {
		if net.IsPositive() {
			if err := e.ledg.Transfer(e.vault, e.lossPool, net); err != nil {
				return 0, sdkmath.Int{}, fmt.Errorf("move lost earnings: %w", err)
			}
		}
		e.log.Info("cashout lost", "provider", caller.Hex(), "earnings", earnings.String())
		return OutcomeLoss, sdkmath.ZeroInt(), nil
	}

	payout := net
	if net.IsPositive() {
		if err := e.ledg.Transfer(e.vault, caller, net); err != nil {
			return 0, sdkmath.Int{}, fmt.Errorf("pay winnings: %w", err)
		}
		bonus := sdkmath.MinInt(net, e.ledg.Balance(e.lossPool))
		if bonus.IsPositive() {
			if err := e.ledg.Transfer(e.lossPool, caller, bonus); err != nil {
				return 0, sdkmath.Int{}, fmt.Errorf("pay bonus: %w", err)
			}
			payout = payout.Add(bonus)
		}
	}

	e.log.Info("cashout won", "provider", caller.Hex(), "earnings", earnings.String(), "payout", payout.String())
	return OutcomeWin, payout, nil
}

// SafeWithdraw resolves all accumulated earnings without a flip for a
// larger fee. The net amount goes straight to the caller.
func (e *Engine) SafeWithdraw(ctx context.Context, caller common.Address) (sdkmath.Int, error) {
	_, earnings, err := e.store.Settle(ctx, caller, OutcomeSafeWithdraw, e.now())
	if err != nil {
		return sdkmath.Int{}, err
	}

	fee := applyBps(earnings, e.safeWithdrawFeeBps)
	net := earnings.Sub(fee)

	if fee.IsPositive() {
		if err := e.ledg.Transfer(e.vault, e.feeCollector, fee); err != nil {
			return sdkmath.Int{}, fmt.Errorf("collect withdraw fee: %w", err)
		}
	}
	if net.IsPositive() {
		if err := e.ledg.Transfer(e.vault, caller, net); err != nil {
			return sdkmath.Int{}, fmt.Errorf("pay withdrawal: %w", err)
		}
	}

	e.log.Info("safe withdraw", "provider", caller.Hex(), "earnings", earnings.String(), "net", net.String())
	return net, nil
}

// PreviewCashout reports the fee, the guaranteed-win payout before any
// bonus, and the bonus currently available from the loss pool. It does
// not draw randomness or mutate state.
func (e *Engine) PreviewCashout(ctx context.Context, provider common.Address) (fee, net, bonus sdkmath.Int, err error) {
	pos, err := e.store.Get(ctx, provider)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, err
	}
	if pos.AccumulatedEarnings.IsZero() {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, ErrNoEarnings
	}

	fee = applyBps(pos.AccumulatedEarnings, e.houseFeeBps)
	net = pos.AccumulatedEarnings.Sub(fee)
	bonus = sdkmath.MinInt(net, e.ledg.Balance(e.lossPool))
	return fee, net, bonus, nil
}

// PreviewSafeWithdraw reports the fee and net amount a safe withdraw
// would pay right now.
func (e *Engine) PreviewSafeWithdraw(ctx context.Context, provider common.Address) (fee, net sdkmath.Int, err error) {
	pos, err := e.store.Get(ctx, provider)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if pos.AccumulatedEarnings.IsZero() {
		return sdkmath.Int{}, sdkmath.Int{}, ErrNoEarnings
	}

	fee = applyBps(pos.AccumulatedEarnings, e.safeWithdrawFeeBps)
	net = pos.AccumulatedEarnings.Sub(fee)
	return fee, net, nil
}

// GetStakeInfo returns the provider's position.
func (e *Engine) GetStakeInfo(ctx context.Context, provider common.Address) (Position, error) {
	return e.store.Get(ctx, provider)
}

func applyBps(amount sdkmath.Int, bps uint32) sdkmath.Int {
	return amount.MulRaw(int64(bps)).QuoRaw(maxBps)
}
