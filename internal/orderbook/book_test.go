package orderbook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/oracle"
)

var (
	poster   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	provider = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000c03")
)

func units(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, 18)
}

func newTestBook(t *testing.T, now time.Time) *Book {
	t.Helper()

	nowFn := func() time.Time { return now }
	// 40 native per USD ($0.025 per native unit), 8 feed decimals.
	src, err := oracle.NewStaticSource(sdkmath.NewInt(40_0000_0000), 8, nowFn)
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}
	o, err := oracle.New(oracle.Config{Source: src, Now: nowFn})
	if err != nil {
		t.Fatalf("oracle.New: %v", err)
	}
	b, err := NewBook(BookConfig{
		Store:  NewMemoryStore(),
		Oracle: o,
		Now:    nowFn,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewBook: %v", err)
	}
	return b
}

func TestCreateJob_DerivesNativePrice(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBook(t, now)

	job, err := b.CreateJob(context.Background(), poster, "ipfs://job-meta", units(50), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID != 1 {
		t.Fatalf("id: got %d want 1", job.ID)
	}
	if job.Status != StatusOpen {
		t.Fatalf("status: got %s want open", job.Status)
	}
	if want := units(2000); !job.MaxPriceNative.Equal(want) {
		t.Fatalf("native price: got %s want %s", job.MaxPriceNative, want)
	}

	// IDs are monotonic.
	job2, err := b.CreateJob(context.Background(), poster, "ipfs://job-meta-2", units(10), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJob #2: %v", err)
	}
	if job2.ID != 2 {
		t.Fatalf("id #2: got %d want 2", job2.ID)
	}
}

func TestCreateJob_RejectsPastDeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBook(t, now)

	_, err := b.CreateJob(context.Background(), poster, "ipfs://job-meta", units(50), now)
	if !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("expected ErrInvalidDeadline for deadline == now, got %v", err)
	}
	_, err = b.CreateJob(context.Background(), poster, "ipfs://job-meta", units(50), now.Add(-time.Minute))
	if !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("expected ErrInvalidDeadline for past deadline, got %v", err)
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBook(t, now)
	ctx := context.Background()

	job, err := b.CreateJob(ctx, poster, "ipfs://job-meta", units(50), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err = b.AssignProvider(ctx, poster, job.ID, provider)
	if err != nil {
		t.Fatalf("AssignProvider: %v", err)
	}
	if job.Status != StatusAssigned || job.Provider != provider {
		t.Fatalf("after assign: status=%s provider=%s", job.Status, job.Provider.Hex())
	}

	proof := common.HexToHash("0x11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff")
	job, err = b.MarkCompleted(ctx, provider, job.ID, proof)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if job.Status != StatusCompleted || job.DeliveryProofHash != proof {
		t.Fatalf("after complete: status=%s proof=%s", job.Status, job.DeliveryProofHash.Hex())
	}

	job, err = b.MarkReleased(ctx, job.ID)
	if err != nil {
		t.Fatalf("MarkReleased: %v", err)
	}
	if job.Status != StatusReleased {
		t.Fatalf("after release: got %s", job.Status)
	}

	// Terminal: nothing moves a released job.
	if _, err := b.CancelJob(ctx, poster, job.ID); !errors.Is(err, ErrWrongState) {
		t.Fatalf("cancel released: expected ErrWrongState, got %v", err)
	}
	if _, err := b.MarkReleased(ctx, job.ID); !errors.Is(err, ErrWrongState) {
		t.Fatalf("double release: expected ErrWrongState, got %v", err)
	}
}

func TestAuthorization(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBook(t, now)
	ctx := context.Background()

	job, err := b.CreateJob(ctx, poster, "ipfs://job-meta", units(50), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := b.AssignProvider(ctx, stranger, job.ID, provider); !errors.Is(err, ErrNotPoster) {
		t.Fatalf("assign by stranger: expected ErrNotPoster, got %v", err)
	}
	if _, err := b.CancelJob(ctx, stranger, job.ID); !errors.Is(err, ErrNotPoster) {
		t.Fatalf("cancel by stranger: expected ErrNotPoster, got %v", err)
	}

	if _, err := b.AssignProvider(ctx, poster, job.ID, provider); err != nil {
		t.Fatalf("AssignProvider: %v", err)
	}
	proof := common.HexToHash("0x01")
	if _, err := b.MarkCompleted(ctx, poster, job.ID, proof); !errors.Is(err, ErrNotProvider) {
		t.Fatalf("complete by poster: expected ErrNotProvider, got %v", err)
	}
}

func TestTransitions_NoSkippingStates(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBook(t, now)
	ctx := context.Background()

	job, err := b.CreateJob(ctx, poster, "ipfs://job-meta", units(50), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// OPEN cannot complete or release.
	if _, err := b.MarkCompleted(ctx, provider, job.ID, common.HexToHash("0x01")); !errors.Is(err, ErrNotProvider) {
		// Provider is unset while OPEN, so the party check fires first.
		t.Fatalf("complete while open: got %v", err)
	}
	if _, err := b.MarkReleased(ctx, job.ID); !errors.Is(err, ErrWrongState) {
		t.Fatalf("release while open: expected ErrWrongState, got %v", err)
	}

	// Cancel from ASSIGNED is allowed, then everything is closed.
	if _, err := b.AssignProvider(ctx, poster, job.ID, provider); err != nil {
		t.Fatalf("AssignProvider: %v", err)
	}
	if _, err := b.CancelJob(ctx, poster, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if _, err := b.MarkCompleted(ctx, provider, job.ID, common.HexToHash("0x01")); !errors.Is(err, ErrWrongState) {
		t.Fatalf("complete after cancel: expected ErrWrongState, got %v", err)
	}
	if _, err := b.MarkReleased(ctx, job.ID); !errors.Is(err, ErrWrongState) {
		t.Fatalf("release after cancel: expected ErrWrongState, got %v", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBook(t, now)

	if _, err := b.GetJob(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
