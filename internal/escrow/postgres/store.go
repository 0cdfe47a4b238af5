package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gigmesh/settlement/internal/escrow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("escrow/postgres: invalid config")

const depositColumns = `
	job_id,
	poster,
	provider,
	amount::text,
	funded,
	released,
	refunded,
	funded_at,
	settled_at
`

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
		return fmt.Errorf("escrow/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, d escrow.Deposit) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := d.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_deposits (
			job_id,
			poster,
			provider,
			amount,
			funded,
			funded_at
		) VALUES ($1,$2,$3,$4::numeric,TRUE,$5)
		ON CONFLICT (job_id) DO NOTHING
	`, int64(d.JobID), d.Poster.Bytes(), d.Provider.Bytes(), d.Amount.String(), d.FundedAt)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %d", escrow.ErrAlreadyFunded, d.JobID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID uint64) (escrow.Deposit, error) {
	if s == nil || s.pool == nil {
		return escrow.Deposit{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	row := s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM escrow_deposits WHERE job_id = $1`, int64(jobID))
	d, err := scanDeposit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Deposit{}, escrow.ErrNotFound
	}
	if err != nil {
		return escrow.Deposit{}, fmt.Errorf("escrow/postgres: get: %w", err)
	}
	return d, nil
}

func (s *Store) MarkReleased(ctx context.Context, jobID uint64, at time.Time) (escrow.Deposit, error) {
	return s.markSettled(ctx, jobID, "released", at)
}

func (s *Store) MarkRefunded(ctx context.Context, jobID uint64, at time.Time) (escrow.Deposit, error) {
	return s.markSettled(ctx, jobID, "refunded", at)
}

func (s *Store) markSettled(ctx context.Context, jobID uint64, column string, at time.Time) (escrow.Deposit, error) {
	if s == nil || s.pool == nil {
		return escrow.Deposit{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	// column is one of two compile-time constants, never user input.
	row := s.pool.QueryRow(ctx, `
		UPDATE escrow_deposits
		SET `+column+` = TRUE, settled_at = $2
		WHERE job_id = $1 AND funded AND NOT released AND NOT refunded
		RETURNING `+depositColumns,
		int64(jobID), at,
	)
	d, err := scanDeposit(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return escrow.Deposit{}, fmt.Errorf("escrow/postgres: mark %s: %w", column, err)
	}

	cur, gerr := s.Get(ctx, jobID)
	if gerr != nil {
		return escrow.Deposit{}, gerr
	}
	if cur.Settled() {
		return escrow.Deposit{}, fmt.Errorf("%w: job %d", escrow.ErrAlreadySettled, jobID)
	}
	return escrow.Deposit{}, fmt.Errorf("escrow/postgres: mark %s: unexpected no rows for job %d", column, jobID)
}

func scanDeposit(row pgx.Row) (escrow.Deposit, error) {
	var (
		jobID       int64
		posterRaw   []byte
		providerRaw []byte
		amountText  string
		funded      bool
		released    bool
		refunded    bool
		fundedAt    time.Time
		settledAt   *time.Time
	)
	if err := row.Scan(
		&jobID,
		&posterRaw,
		&providerRaw,
		&amountText,
		&funded,
		&released,
		&refunded,
		&fundedAt,
		&settledAt,
	); err != nil {
		return escrow.Deposit{}, err
	}

	amount, ok := sdkmath.NewIntFromString(amountText)
	if !ok {
		return escrow.Deposit{}, fmt.Errorf("parse amount %q", amountText)
	}

	d := escrow.Deposit{
		JobID:    uint64(jobID),
		Poster:   common.BytesToAddress(posterRaw),
		Provider: common.BytesToAddress(providerRaw),
		Amount:   amount,
		Funded:   funded,
		Released: released,
		Refunded: refunded,
		FundedAt: fundedAt,
	}
	if settledAt != nil {
		d.SettledAt = *settledAt
	}
	return d, nil
}

var _ escrow.Store = (*Store)(nil)
