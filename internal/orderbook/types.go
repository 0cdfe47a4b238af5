package orderbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidConfig   = errors.New("orderbook: invalid config")
	ErrInvalidJob      = errors.New("orderbook: invalid job")
	ErrInvalidDeadline = errors.New("orderbook: deadline must be in the future")
	ErrNotFound        = errors.New("orderbook: job not found")
	ErrWrongState      = errors.New("orderbook: wrong job state")
	ErrNotPoster       = errors.New("orderbook: caller is not the poster")
	ErrNotProvider     = errors.New("orderbook: caller is not the provider")
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusOpen
	StatusAssigned
	StatusCompleted
	StatusReleased
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAssigned:
		return "assigned"
	case StatusCompleted:
		return "completed"
	case StatusReleased:
		return "released"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

// Job is the order-book record for one unit of work. MaxPriceUsd is an
// 18-decimal fixed-point USD budget; MaxPriceNative is the native-unit
// equivalent derived once at creation time.
type Job struct {
	ID       uint64
	Poster   common.Address
	Provider common.Address // zero until assigned

	MetadataRef    string
	MaxPriceUsd    sdkmath.Int
	MaxPriceNative sdkmath.Int
	Deadline       time.Time

	DeliveryProofHash common.Hash
	Status            Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j Job) Validate() error {
	if j.Poster == (common.Address{}) {
		return fmt.Errorf("%w: missing poster", ErrInvalidJob)
	}
	if strings.TrimSpace(j.MetadataRef) == "" {
		return fmt.Errorf("%w: missing metadata ref", ErrInvalidJob)
	}
	if j.MaxPriceUsd.IsNil() || !j.MaxPriceUsd.IsPositive() {
		return fmt.Errorf("%w: max price must be > 0", ErrInvalidJob)
	}
	if j.MaxPriceNative.IsNil() || !j.MaxPriceNative.IsPositive() {
		return fmt.Errorf("%w: derived native price must be > 0", ErrInvalidJob)
	}
	if j.Deadline.IsZero() {
		return fmt.Errorf("%w: missing deadline", ErrInvalidJob)
	}
	return nil
}

// Store owns Job persistence. Transition methods enforce the state machine
// guards; party authorization lives in Book, which resolves callers against
// the stored job first.
type Store interface {
	Insert(ctx context.Context, j Job) (Job, error)
	Get(ctx context.Context, id uint64) (Job, error)
	Assign(ctx context.Context, id uint64, provider common.Address, at time.Time) (Job, error)
	Complete(ctx context.Context, id uint64, proofHash common.Hash, at time.Time) (Job, error)
	Release(ctx context.Context, id uint64, at time.Time) (Job, error)
	Cancel(ctx context.Context, id uint64, at time.Time) (Job, error)
}
