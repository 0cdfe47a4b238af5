package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultSlippageBps absorbs price movement between quote display and
	// funding submission.
	DefaultSlippageBps = 500

	// DefaultFeeBps is the platform fee taken on release.
	DefaultFeeBps = 200

	maxBps = 10_000
)

var (
	ErrInvalidConfig     = errors.New("escrow: invalid config")
	ErrInvalidDeposit    = errors.New("escrow: invalid deposit")
	ErrNotFound          = errors.New("escrow: deposit not found")
	ErrAlreadyFunded     = errors.New("escrow: job already funded")
	ErrAlreadySettled    = errors.New("escrow: deposit already settled")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrProviderMismatch  = errors.New("escrow: provider mismatch")
	ErrWrongState        = errors.New("escrow: job not fundable")
	ErrNotAttested       = errors.New("escrow: delivery not attested")
	ErrNotParty          = errors.New("escrow: caller is not a party to the job")
	ErrNotOperator       = errors.New("escrow: caller is not the operator")
)

// Deposit is the append-only custody record for one job. Funded precedes
// exactly one of released/refunded, never both; records are never deleted.
type Deposit struct {
	JobID    uint64
	Poster   common.Address
	Provider common.Address

	// Amount is the native value actually received at funding time, not a
	// USD-derived estimate. Release pays out exactly this figure.
	Amount sdkmath.Int

	Funded   bool
	Released bool
	Refunded bool

	FundedAt  time.Time
	SettledAt time.Time
}

func (d Deposit) Validate() error {
	if d.JobID == 0 {
		return fmt.Errorf("%w: missing job id", ErrInvalidDeposit)
	}
	if d.Poster == (common.Address{}) || d.Provider == (common.Address{}) {
		return fmt.Errorf("%w: missing party", ErrInvalidDeposit)
	}
	if d.Amount.IsNil() || !d.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidDeposit)
	}
	if !d.Funded {
		return fmt.Errorf("%w: deposit must be funded", ErrInvalidDeposit)
	}
	if d.Released || d.Refunded {
		return fmt.Errorf("%w: new deposit cannot be settled", ErrInvalidDeposit)
	}
	return nil
}

// Settled reports whether the deposit reached a terminal state.
func (d Deposit) Settled() bool {
	return d.Released || d.Refunded
}

// Store owns Deposit persistence. MarkReleased and MarkRefunded enforce
// the funded-and-unsettled guard so a reentrant caller observes a deposit
// that is already terminal.
type Store interface {
	Create(ctx context.Context, d Deposit) error
	Get(ctx context.Context, jobID uint64) (Deposit, error)
	MarkReleased(ctx context.Context, jobID uint64, at time.Time) (Deposit, error)
	MarkRefunded(ctx context.Context, jobID uint64, at time.Time) (Deposit, error)
}
