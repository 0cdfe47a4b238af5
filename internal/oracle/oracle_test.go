package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func units(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, 18)
}

func newTestOracle(t *testing.T, value sdkmath.Int, decimals uint8, now time.Time) (*Oracle, *StaticSource) {
	t.Helper()

	src, err := NewStaticSource(value, decimals, fixedNow(now))
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}
	o, err := New(Config{Source: src, Now: fixedNow(now)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, src
}

func TestUsdToNative_ScenarioPrice(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// $0.025 per native unit = 40 native per USD, 8 feed decimals.
	o, _ := newTestOracle(t, sdkmath.NewInt(40_0000_0000), 8, now)

	got, err := o.UsdToNative(context.Background(), units(50))
	if err != nil {
		t.Fatalf("UsdToNative: %v", err)
	}
	if want := units(2000); !got.Equal(want) {
		t.Fatalf("UsdToNative: got %s want %s", got, want)
	}

	back, err := o.NativeToUsd(context.Background(), got)
	if err != nil {
		t.Fatalf("NativeToUsd: %v", err)
	}
	if want := units(50); !back.Equal(want) {
		t.Fatalf("NativeToUsd: got %s want %s", back, want)
	}
}

func TestQuote_RejectsStaleData(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o, src := newTestOracle(t, sdkmath.NewInt(40_0000_0000), 8, now)

	// Just inside the staleness window.
	src.SetFeed(sdkmath.NewInt(40_0000_0000), 8, now.Add(-DefaultMaxStaleness))
	if _, err := o.Quote(context.Background()); err != nil {
		t.Fatalf("Quote at max staleness: %v", err)
	}

	// One second past it.
	src.SetFeed(sdkmath.NewInt(40_0000_0000), 8, now.Add(-DefaultMaxStaleness-time.Second))
	_, err := o.Quote(context.Background())
	if !errors.Is(err, ErrStaleData) {
		t.Fatalf("expected ErrStaleData, got %v", err)
	}

	// Staleness applies to conversions too, never a silently cached value.
	if _, err := o.UsdToNative(context.Background(), units(1)); !errors.Is(err, ErrStaleData) {
		t.Fatalf("expected ErrStaleData from UsdToNative, got %v", err)
	}
}

func TestQuote_RejectsBadFeed(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o, src := newTestOracle(t, sdkmath.NewInt(1), 8, now)

	src.SetFeed(sdkmath.NewInt(0), 8, now)
	if _, err := o.Quote(context.Background()); !errors.Is(err, ErrBadFeed) {
		t.Fatalf("expected ErrBadFeed for zero value, got %v", err)
	}

	src.SetFeed(sdkmath.NewInt(-5), 8, now)
	if _, err := o.Quote(context.Background()); !errors.Is(err, ErrBadFeed) {
		t.Fatalf("expected ErrBadFeed for negative value, got %v", err)
	}
}

func TestConversion_RoundTripBound(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Awkward price so flooring actually bites: 37 native per 3 USD.
	o, _ := newTestOracle(t, sdkmath.NewInt(12_3333_3333), 8, now)

	cases := []sdkmath.Int{
		units(1),
		units(50),
		sdkmath.NewInt(999_999_999_999_999_999),
		sdkmath.NewInt(7),
	}
	for _, usd := range cases {
		native, err := o.UsdToNative(context.Background(), usd)
		if err != nil {
			t.Fatalf("UsdToNative(%s): %v", usd, err)
		}
		back, err := o.NativeToUsd(context.Background(), native)
		if err != nil {
			t.Fatalf("NativeToUsd(%s): %v", native, err)
		}
		// Never in the payer's favor: the round trip can only lose value.
		if back.GT(usd) {
			t.Fatalf("round trip gained value: %s -> %s", usd, back)
		}
		// And by at most one rounding unit in each direction.
		diff := usd.Sub(back)
		if diff.GT(sdkmath.NewInt(2)) {
			t.Fatalf("round trip lost %s (> 2 rounding units) for %s", diff, usd)
		}
	}
}

func TestUsdToNativeCeil_RoundsUp(t *testing.T) {
	t.Parallel()

	q := Quote{NativePerUsd: sdkmath.NewInt(3), Decimals: 1}
	// 7 * 3 / 10 = 2.1: floor 2, ceil 3.
	if got, err := UsdToNativeAt(sdkmath.NewInt(7), q); err != nil || !got.Equal(sdkmath.NewInt(2)) {
		t.Fatalf("floor: got %s, %v", got, err)
	}
	if got := UsdToNativeCeil(sdkmath.NewInt(7), q); !got.Equal(sdkmath.NewInt(3)) {
		t.Fatalf("ceil: got %s want 3", got)
	}
	// Exact quotient is unchanged by ceil.
	if got := UsdToNativeCeil(sdkmath.NewInt(10), q); !got.Equal(sdkmath.NewInt(3)) {
		t.Fatalf("ceil exact: got %s want 3", got)
	}
}

func TestConversion_RejectsInvalidAmounts(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	o, _ := newTestOracle(t, sdkmath.NewInt(40_0000_0000), 8, now)

	if _, err := o.UsdToNative(context.Background(), sdkmath.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := o.NativeToUsd(context.Background(), sdkmath.Int{}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}
