package leases

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// KeeperConfig configures a lease keeper.
type KeeperConfig struct {
	Store Store
	Name  string
	Owner string

	// TTL is the lease lifetime. Renewals happen every TTL/3.
	TTL time.Duration

	// RetryInterval is the wait between failed acquisition attempts.
	// Defaults to TTL when <= 0.
	RetryInterval time.Duration

	Log *slog.Logger
}

// Keeper acquires a named lease and keeps it renewed while running a
// protected function. If the lease is lost, the protected function's
// context is cancelled and acquisition starts over.
type Keeper struct {
	store Store
	name  string
	owner string

	ttl   time.Duration
	retry time.Duration

	log *slog.Logger
}

func NewKeeper(cfg KeeperConfig) (*Keeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store required", ErrInvalidInput)
	}
	if err := validate(cfg.Name, cfg.Owner, cfg.TTL); err != nil {
		return nil, err
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = cfg.TTL
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Keeper{
		store: cfg.Store,
		name:  cfg.Name,
		owner: cfg.Owner,
		ttl:   cfg.TTL,
		retry: retry,
		log:   log,
	}, nil
}

// Run blocks until ctx is cancelled. Each time the lease is acquired, fn
// runs with a context that is cancelled when the lease is lost or ctx
// ends. fn returning an error drops the lease and retries.
func (k *Keeper) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, acquired, err := k.store.TryAcquire(ctx, k.name, k.owner, k.ttl)
		if err != nil {
			k.log.Error("lease acquire failed", "lease", k.name, "err", err)
		}
		if !acquired {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(k.retry):
			}
			continue
		}

		k.log.Info("lease acquired", "lease", k.name, "owner", k.owner)
		err = k.hold(ctx, fn)
		if relErr := k.store.Release(context.WithoutCancel(ctx), k.name, k.owner); relErr != nil {
			k.log.Warn("lease release failed", "lease", k.name, "err", relErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			k.log.Error("leader function failed", "lease", k.name, "err", err)
		}
	}
}

func (k *Keeper) hold(ctx context.Context, fn func(ctx context.Context) error) error {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(leaseCtx) }()

	ticker := time.NewTicker(k.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			cancel()
			return <-errCh
		case <-ticker.C:
			_, renewed, err := k.store.Renew(ctx, k.name, k.owner, k.ttl)
			if err != nil || !renewed {
				k.log.Warn("lease lost", "lease", k.name, "err", err)
				cancel()
				return <-errCh
			}
		}
	}
}
