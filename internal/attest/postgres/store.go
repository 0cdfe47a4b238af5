package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gigmesh/settlement/internal/attest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("attest/postgres: invalid config")

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
		return fmt.Errorf("attest/postgres: ensure schema: %w", err)
	}
	return nil
}

// Confirm inserts the confirmation once. A conflicting insert means the
// job was already confirmed; the stored record wins.
func (s *Store) Confirm(ctx context.Context, jobID uint64, at time.Time) (attest.Record, bool, error) {
	if s == nil || s.pool == nil {
		return attest.Record{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if jobID == 0 {
		return attest.Record{}, false, fmt.Errorf("%w: missing job id", attest.ErrInvalidMessage)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO attest_records (job_id, confirmed, attested_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (job_id) DO NOTHING
	`, int64(jobID), at)
	if err != nil {
		return attest.Record{}, false, fmt.Errorf("attest/postgres: confirm: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return attest.Record{JobID: jobID, Confirmed: true, AttestedAt: at}, true, nil
	}

	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return attest.Record{}, false, err
	}
	return rec, false, nil
}

func (s *Store) Get(ctx context.Context, jobID uint64) (attest.Record, error) {
	if s == nil || s.pool == nil {
		return attest.Record{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var (
		id         int64
		confirmed  bool
		attestedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, confirmed, attested_at FROM attest_records WHERE job_id = $1
	`, int64(jobID)).Scan(&id, &confirmed, &attestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return attest.Record{}, attest.ErrNotFound
	}
	if err != nil {
		return attest.Record{}, fmt.Errorf("attest/postgres: get: %w", err)
	}

	return attest.Record{JobID: uint64(id), Confirmed: confirmed, AttestedAt: attestedAt}, nil
}

var _ attest.Store = (*Store)(nil)
