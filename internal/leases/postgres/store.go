// Package postgres backs the lease store with a single relayer_leases
// table. Expiry is judged against the database clock so competing
// instances never depend on their own wall clocks agreeing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gigmesh/settlement/internal/leases"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("leases/postgres: invalid config")

const leaseColumns = `name, owner, expires_at`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("leases/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (leases.Lease, bool, error) {
	if s == nil || s.pool == nil {
		return leases.Lease{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := validateInput(name, owner, ttl); err != nil {
		return leases.Lease{}, false, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO relayer_leases (name, owner, expires_at)
		VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at,
			acquired_at = now(),
			renewed_at = now()
		WHERE relayer_leases.expires_at <= now()
		RETURNING `+leaseColumns,
		name, owner, ttlMilliseconds(ttl),
	)
	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// An unexpired lease blocked the upsert; report its holder.
			cur, gerr := s.Get(ctx, name)
			if gerr != nil {
				return leases.Lease{}, false, gerr
			}
			return cur, false, nil
		}
		return leases.Lease{}, false, fmt.Errorf("leases/postgres: try acquire: %w", err)
	}
	return lease, true, nil
}

func (s *Store) Renew(ctx context.Context, name, owner string, ttl time.Duration) (leases.Lease, bool, error) {
	if s == nil || s.pool == nil {
		return leases.Lease{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := validateInput(name, owner, ttl); err != nil {
		return leases.Lease{}, false, err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE relayer_leases
		SET expires_at = now() + ($3::bigint * interval '1 millisecond'),
			renewed_at = now()
		WHERE name = $1 AND owner = $2
		RETURNING `+leaseColumns,
		name, owner, ttlMilliseconds(ttl),
	)
	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			cur, gerr := s.Get(ctx, name)
			if errors.Is(gerr, leases.ErrNotFound) {
				return leases.Lease{}, false, leases.ErrNotFound
			}
			if gerr != nil {
				return leases.Lease{}, false, gerr
			}
			if cur.Owner != owner {
				return leases.Lease{}, false, leases.ErrNotOwner
			}
			return leases.Lease{}, false, fmt.Errorf("leases/postgres: renew: unexpected no rows")
		}
		return leases.Lease{}, false, fmt.Errorf("leases/postgres: renew: %w", err)
	}
	return lease, true, nil
}

func (s *Store) Release(ctx context.Context, name, owner string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if name == "" || owner == "" {
		return leases.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM relayer_leases WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return fmt.Errorf("leases/postgres: release: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Releasing an absent lease is a no-op; releasing someone else's is
	// a caller bug.
	cur, gerr := s.Get(ctx, name)
	if errors.Is(gerr, leases.ErrNotFound) {
		return nil
	}
	if gerr != nil {
		return gerr
	}
	if cur.Owner != owner {
		return leases.ErrNotOwner
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (leases.Lease, error) {
	if s == nil || s.pool == nil {
		return leases.Lease{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if name == "" {
		return leases.Lease{}, leases.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `SELECT `+leaseColumns+` FROM relayer_leases WHERE name = $1`, name)
	lease, err := scanLease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return leases.Lease{}, leases.ErrNotFound
		}
		return leases.Lease{}, fmt.Errorf("leases/postgres: get: %w", err)
	}
	return lease, nil
}

func scanLease(row pgx.Row) (leases.Lease, error) {
	var out leases.Lease
	if err := row.Scan(&out.Name, &out.Owner, &out.ExpiresAt); err != nil {
		return leases.Lease{}, err
	}
	return out, nil
}

func ttlMilliseconds(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return 1
	}
	return ms
}

func validateInput(name, owner string, ttl time.Duration) error {
	if name == "" || owner == "" || ttl <= 0 {
		return leases.ErrInvalidInput
	}
	return nil
}

var _ leases.Store = (*Store)(nil)
