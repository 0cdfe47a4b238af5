package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// DefaultMaxStaleness is the maximum accepted age of a feed observation.
const DefaultMaxStaleness = 5 * time.Minute

const maxFeedDecimals = 18

var (
	ErrInvalidConfig = errors.New("oracle: invalid config")
	ErrInvalidAmount = errors.New("oracle: invalid amount")
	ErrBadFeed       = errors.New("oracle: bad feed data")
	ErrStaleData     = errors.New("oracle: stale feed data")
)

// Feed is a single upstream observation: native units per USD, fixed-point
// with the given decimal exponent.
type Feed struct {
	Value      sdkmath.Int
	Decimals   uint8
	ObservedAt time.Time
}

// FeedSource resolves the live feed value at call time.
type FeedSource interface {
	FetchFeed(ctx context.Context) (Feed, error)
}

// Quote is an ephemeral price observation. It must be consumed immediately:
// staleness is evaluated against "now" at use time, so a cached Quote is
// worthless by construction.
type Quote struct {
	NativePerUsd sdkmath.Int
	Decimals     uint8
	ObservedAt   time.Time
}

type Config struct {
	Source FeedSource

	// MaxStaleness bounds now-ObservedAt. Defaults to DefaultMaxStaleness
	// when zero.
	MaxStaleness time.Duration

	Now func() time.Time
}

// Oracle converts between 18-decimal fixed-point USD amounts and native
// units. Every conversion re-reads the upstream feed; there is no cache.
type Oracle struct {
	source       FeedSource
	maxStaleness time.Duration
	now          func() time.Time
}

func New(cfg Config) (*Oracle, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: nil feed source", ErrInvalidConfig)
	}
	if cfg.MaxStaleness < 0 {
		return nil, fmt.Errorf("%w: max staleness must be >= 0", ErrInvalidConfig)
	}
	maxStaleness := cfg.MaxStaleness
	if maxStaleness == 0 {
		maxStaleness = DefaultMaxStaleness
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Oracle{source: cfg.Source, maxStaleness: maxStaleness, now: now}, nil
}

// Quote fetches the live feed and rejects it if stale. This is the single
// most important guard: a replayed or delayed favorable price must fail
// unconditionally.
func (o *Oracle) Quote(ctx context.Context) (Quote, error) {
	feed, err := o.source.FetchFeed(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: fetch feed: %w", err)
	}
	if feed.Value.IsNil() || !feed.Value.IsPositive() {
		return Quote{}, fmt.Errorf("%w: non-positive feed value", ErrBadFeed)
	}
	if feed.Decimals > maxFeedDecimals {
		return Quote{}, fmt.Errorf("%w: feed decimals %d out of range", ErrBadFeed, feed.Decimals)
	}
	if feed.ObservedAt.IsZero() {
		return Quote{}, fmt.Errorf("%w: missing observation time", ErrBadFeed)
	}

	age := o.now().Sub(feed.ObservedAt)
	if age > o.maxStaleness {
		return Quote{}, fmt.Errorf("%w: observation is %s old (max %s)", ErrStaleData, age.Truncate(time.Second), o.maxStaleness)
	}

	return Quote{
		NativePerUsd: feed.Value,
		Decimals:     feed.Decimals,
		ObservedAt:   feed.ObservedAt,
	}, nil
}

// UsdToNative converts an 18-decimal fixed-point USD amount into native
// units, rounding down. Flooring protects the payer: a conversion used to
// derive an obligation can never overstate it.
func (o *Oracle) UsdToNative(ctx context.Context, amountUsd sdkmath.Int) (sdkmath.Int, error) {
	if err := validateAmount(amountUsd); err != nil {
		return sdkmath.Int{}, err
	}
	q, err := o.Quote(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return usdToNative(amountUsd, q), nil
}

// NativeToUsd converts native units into an 18-decimal fixed-point USD
// amount, rounding down.
func (o *Oracle) NativeToUsd(ctx context.Context, amountNative sdkmath.Int) (sdkmath.Int, error) {
	if err := validateAmount(amountNative); err != nil {
		return sdkmath.Int{}, err
	}
	q, err := o.Quote(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	// amountUsd = amountNative * 10^decimals / value, floored.
	return amountNative.Mul(pow10(q.Decimals)).Quo(q.NativePerUsd), nil
}

func usdToNative(amountUsd sdkmath.Int, q Quote) sdkmath.Int {
	// amountNative = amountUsd * value / 10^decimals, floored.
	return amountUsd.Mul(q.NativePerUsd).Quo(pow10(q.Decimals))
}

// UsdToNativeCeil is the ceiling-rounded counterpart, for checks where
// rounding down would let an obligation be underfunded.
func UsdToNativeCeil(amountUsd sdkmath.Int, q Quote) sdkmath.Int {
	scale := pow10(q.Decimals)
	num := amountUsd.Mul(q.NativePerUsd).Add(scale).Sub(sdkmath.OneInt())
	return num.Quo(scale)
}

// UsdToNativeAt converts with an already-held Quote. Escrow uses this so a
// funding check binds to the exact observation it validated, instead of
// issuing a second feed read mid-operation.
func UsdToNativeAt(amountUsd sdkmath.Int, q Quote) (sdkmath.Int, error) {
	if err := validateAmount(amountUsd); err != nil {
		return sdkmath.Int{}, err
	}
	if q.NativePerUsd.IsNil() || !q.NativePerUsd.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: non-positive quote", ErrBadFeed)
	}
	return usdToNative(amountUsd, q), nil
}

func validateAmount(v sdkmath.Int) error {
	if v.IsNil() {
		return fmt.Errorf("%w: nil amount", ErrInvalidAmount)
	}
	if v.IsNegative() {
		return fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	return nil
}

func pow10(decimals uint8) sdkmath.Int {
	out := sdkmath.OneInt()
	ten := sdkmath.NewInt(10)
	for i := uint8(0); i < decimals; i++ {
		out = out.Mul(ten)
	}
	return out
}
