package orderbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmesh/settlement/internal/oracle"
)

type BookConfig struct {
	Store  Store
	Oracle *oracle.Oracle

	Now func() time.Time
	Log *slog.Logger
}

// Book is the job lifecycle state machine. It resolves the caller against
// the stored job for every mutation; the store enforces the state guards.
type Book struct {
	store  Store
	oracle *oracle.Oracle
	now    func() time.Time
	log    *slog.Logger
}

func NewBook(cfg BookConfig) (*Book, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("%w: nil oracle", ErrInvalidConfig)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Book{store: cfg.Store, oracle: cfg.Oracle, now: now, log: log}, nil
}

// CreateJob opens a job for the poster. The native-unit budget is derived
// from the live feed exactly once, here; funding later re-validates against
// a fresh quote with slippage tolerance.
func (b *Book) CreateJob(ctx context.Context, poster common.Address, metadataRef string, maxPriceUsd sdkmath.Int, deadline time.Time) (Job, error) {
	now := b.now()
	if !deadline.After(now) {
		return Job{}, ErrInvalidDeadline
	}

	maxPriceNative, err := b.oracle.UsdToNative(ctx, maxPriceUsd)
	if err != nil {
		return Job{}, fmt.Errorf("orderbook: price job: %w", err)
	}

	job, err := b.store.Insert(ctx, Job{
		Poster:         poster,
		MetadataRef:    metadataRef,
		MaxPriceUsd:    maxPriceUsd,
		MaxPriceNative: maxPriceNative,
		Deadline:       deadline.UTC(),
		Status:         StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return Job{}, err
	}

	b.log.Info("job created",
		"job_id", job.ID,
		"poster", job.Poster.Hex(),
		"max_price_usd", job.MaxPriceUsd.String(),
		"max_price_native", job.MaxPriceNative.String(),
	)
	return job, nil
}

// AssignProvider records the provider chosen by the poster. Reassignment is
// deliberately unsupported: cancel-and-recreate is the only recovery path
// for an unresponsive provider.
func (b *Book) AssignProvider(ctx context.Context, caller common.Address, jobID uint64, provider common.Address) (Job, error) {
	job, err := b.store.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != job.Poster {
		return Job{}, ErrNotPoster
	}
	return b.store.Assign(ctx, jobID, provider, b.now())
}

// MarkCompleted records the provider's delivery commitment. The proof hash
// is opaque here; the attestation network later confirms against it.
func (b *Book) MarkCompleted(ctx context.Context, caller common.Address, jobID uint64, proofHash common.Hash) (Job, error) {
	job, err := b.store.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != job.Provider {
		return Job{}, ErrNotProvider
	}
	return b.store.Complete(ctx, jobID, proofHash, b.now())
}

// CancelJob is poster-only and allowed while OPEN or ASSIGNED. Once the
// provider has marked completion the work is claimed and cancellation is
// closed off.
func (b *Book) CancelJob(ctx context.Context, caller common.Address, jobID uint64) (Job, error) {
	job, err := b.store.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if caller != job.Poster {
		return Job{}, ErrNotPoster
	}
	return b.store.Cancel(ctx, jobID, b.now())
}

// MarkReleased transitions a completed job to RELEASED. It carries no
// caller check: it is invoked only by the escrow engine as the final step
// of a gated release.
func (b *Book) MarkReleased(ctx context.Context, jobID uint64) (Job, error) {
	return b.store.Release(ctx, jobID, b.now())
}

func (b *Book) GetJob(ctx context.Context, jobID uint64) (Job, error) {
	return b.store.Get(ctx, jobID)
}

// QuoteUsdToNative is a side-effect-free passthrough for UI display.
func (b *Book) QuoteUsdToNative(ctx context.Context, amountUsd sdkmath.Int) (sdkmath.Int, error) {
	return b.oracle.UsdToNative(ctx, amountUsd)
}
