package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gigmesh/settlement/internal/orderbook"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("orderbook/postgres: invalid config")

const jobColumns = `
	id,
	poster,
	provider,
	metadata_ref,
	max_price_usd::text,
	max_price_native::text,
	deadline,
	delivery_proof_hash,
	status,
	created_at,
	updated_at
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
		return fmt.Errorf("orderbook/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, j orderbook.Job) (orderbook.Job, error) {
	if s == nil || s.pool == nil {
		return orderbook.Job{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := j.Validate(); err != nil {
		return orderbook.Job{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO orderbook_jobs (
			poster,
			metadata_ref,
			max_price_usd,
			max_price_native,
			deadline,
			status,
			created_at,
			updated_at
		) VALUES ($1,$2,$3::numeric,$4::numeric,$5,$6,$7,$7)
		RETURNING `+jobColumns,
		j.Poster.Bytes(),
		j.MetadataRef,
		j.MaxPriceUsd.String(),
		j.MaxPriceNative.String(),
		j.Deadline,
		int16(orderbook.StatusOpen),
		j.CreatedAt,
	)
	out, err := scanJob(row)
	if err != nil {
		return orderbook.Job{}, fmt.Errorf("orderbook/postgres: insert: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id uint64) (orderbook.Job, error) {
	if s == nil || s.pool == nil {
		return orderbook.Job{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM orderbook_jobs WHERE id = $1`, int64(id))
	out, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderbook.Job{}, orderbook.ErrNotFound
	}
	if err != nil {
		return orderbook.Job{}, fmt.Errorf("orderbook/postgres: get: %w", err)
	}
	return out, nil
}

func (s *Store) Assign(ctx context.Context, id uint64, provider common.Address, at time.Time) (orderbook.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orderbook_jobs
		SET provider = $2, status = $3, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+jobColumns,
		int64(id), provider.Bytes(), int16(orderbook.StatusAssigned), at, int16(orderbook.StatusOpen),
	)
	return s.finishTransition(ctx, id, row, "assign")
}

func (s *Store) Complete(ctx context.Context, id uint64, proofHash common.Hash, at time.Time) (orderbook.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orderbook_jobs
		SET delivery_proof_hash = $2, status = $3, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+jobColumns,
		int64(id), proofHash.Bytes(), int16(orderbook.StatusCompleted), at, int16(orderbook.StatusAssigned),
	)
	return s.finishTransition(ctx, id, row, "complete")
}

func (s *Store) Release(ctx context.Context, id uint64, at time.Time) (orderbook.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orderbook_jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+jobColumns,
		int64(id), int16(orderbook.StatusReleased), at, int16(orderbook.StatusCompleted),
	)
	return s.finishTransition(ctx, id, row, "release")
}

func (s *Store) Cancel(ctx context.Context, id uint64, at time.Time) (orderbook.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orderbook_jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING `+jobColumns,
		int64(id), int16(orderbook.StatusCancelled), at, int16(orderbook.StatusOpen), int16(orderbook.StatusAssigned),
	)
	return s.finishTransition(ctx, id, row, "cancel")
}

// finishTransition maps a no-rows transition result onto ErrNotFound or
// ErrWrongState by re-reading the job.
func (s *Store) finishTransition(ctx context.Context, id uint64, row pgx.Row, op string) (orderbook.Job, error) {
	if s == nil || s.pool == nil {
		return orderbook.Job{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	out, err := scanJob(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return orderbook.Job{}, fmt.Errorf("orderbook/postgres: %s: %w", op, err)
	}

	cur, gerr := s.Get(ctx, id)
	if gerr != nil {
		return orderbook.Job{}, gerr
	}
	return orderbook.Job{}, fmt.Errorf("%w: job %d is %s", orderbook.ErrWrongState, id, cur.Status)
}

func scanJob(row pgx.Row) (orderbook.Job, error) {
	var (
		id            int64
		posterRaw     []byte
		providerRaw   []byte
		metadataRef   string
		maxUsdText    string
		maxNativeText string
		deadline      time.Time
		proofHashRaw  []byte
		status        int16
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(
		&id,
		&posterRaw,
		&providerRaw,
		&metadataRef,
		&maxUsdText,
		&maxNativeText,
		&deadline,
		&proofHashRaw,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return orderbook.Job{}, err
	}

	maxUsd, ok := sdkmath.NewIntFromString(maxUsdText)
	if !ok {
		return orderbook.Job{}, fmt.Errorf("parse max_price_usd %q", maxUsdText)
	}
	maxNative, ok := sdkmath.NewIntFromString(maxNativeText)
	if !ok {
		return orderbook.Job{}, fmt.Errorf("parse max_price_native %q", maxNativeText)
	}

	j := orderbook.Job{
		ID:             uint64(id),
		Poster:         common.BytesToAddress(posterRaw),
		MetadataRef:    metadataRef,
		MaxPriceUsd:    maxUsd,
		MaxPriceNative: maxNative,
		Deadline:       deadline,
		Status:         orderbook.Status(status),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if len(providerRaw) == 20 {
		j.Provider = common.BytesToAddress(providerRaw)
	}
	if len(proofHashRaw) == 32 {
		j.DeliveryProofHash = common.BytesToHash(proofHashRaw)
	}
	return j, nil
}

var _ orderbook.Store = (*Store)(nil)
