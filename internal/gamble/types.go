package gamble

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultHouseFeeBps is taken off earnings before a cashout flip.
	DefaultHouseFeeBps = 500

	// DefaultSafeWithdrawFeeBps is the no-gamble exit fee.
	DefaultSafeWithdrawFeeBps = 2000

	// DefaultMaxRandomAge bounds the age of a randomness sample used to
	// settle a cashout.
	DefaultMaxRandomAge = 2 * time.Minute

	maxBps = 10_000
)

var (
	ErrInvalidConfig     = errors.New("gamble: invalid config")
	ErrInvalidAmount     = errors.New("gamble: invalid amount")
	ErrNotFound          = errors.New("gamble: position not found")
	ErrAlreadyStaked     = errors.New("gamble: already staked")
	ErrNotStaked         = errors.New("gamble: not staked")
	ErrBelowMinimumStake = errors.New("gamble: stake below minimum")
	ErrNoEarnings        = errors.New("gamble: no accumulated earnings")
	ErrInsecureRandom    = errors.New("gamble: randomness source is not secure")
	ErrStaleRandom       = errors.New("gamble: randomness sample too old")
)

// Position is one provider's stake-and-earnings record. Earnings are
// mutated only by the escrow credit path and the cashout/withdraw
// resolutions; the stake amount only by Stake/Unstake.
type Position struct {
	Provider common.Address

	StakedAmount        sdkmath.Int
	AccumulatedEarnings sdkmath.Int

	Wins   uint64
	Losses uint64

	IsStaked bool

	StakedAt  time.Time
	UpdatedAt time.Time
}

// Outcome is how accumulated earnings were resolved.
type Outcome uint8

const (
	OutcomeWin Outcome = iota + 1
	OutcomeLoss
	OutcomeSafeWithdraw
)

// Store owns Position persistence. Settle resets earnings to zero and
// bumps the win/loss counter for gamble outcomes; it returns the earnings
// balance that was resolved.
type Store interface {
	Get(ctx context.Context, provider common.Address) (Position, error)
	SetStaked(ctx context.Context, provider common.Address, amount sdkmath.Int, at time.Time) (Position, error)
	SetUnstaked(ctx context.Context, provider common.Address, at time.Time) (Position, sdkmath.Int, error)
	Credit(ctx context.Context, provider common.Address, amount sdkmath.Int, at time.Time) (Position, error)
	Settle(ctx context.Context, provider common.Address, outcome Outcome, at time.Time) (Position, sdkmath.Int, error)
}
