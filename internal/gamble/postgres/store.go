package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gigmesh/settlement/internal/gamble"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidConfig = errors.New("gamble/postgres: invalid config")

const positionColumns = `
	provider,
	staked_amount::text,
	accumulated_earnings::text,
	wins,
	losses,
	is_staked,
	staked_at,
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
		return fmt.Errorf("gamble/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, provider common.Address) (gamble.Position, error) {
	if s == nil || s.pool == nil {
		return gamble.Position{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM gamble_positions WHERE provider = $1`, provider.Bytes())
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return gamble.Position{}, gamble.ErrNotFound
	}
	if err != nil {
		return gamble.Position{}, fmt.Errorf("gamble/postgres: get: %w", err)
	}
	return pos, nil
}

func (s *Store) SetStaked(ctx context.Context, provider common.Address, amount sdkmath.Int, at time.Time) (gamble.Position, error) {
	if s == nil || s.pool == nil {
		return gamble.Position{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return gamble.Position{}, fmt.Errorf("%w: stake must be > 0", gamble.ErrInvalidAmount)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO gamble_positions (
			provider,
			staked_amount,
			accumulated_earnings,
			is_staked,
			staked_at,
			updated_at
		) VALUES ($1,$2::numeric,0,TRUE,$3,$3)
		ON CONFLICT (provider) DO UPDATE
		SET staked_amount = EXCLUDED.staked_amount,
			is_staked = TRUE,
			staked_at = EXCLUDED.staked_at,
			updated_at = EXCLUDED.updated_at
		WHERE NOT gamble_positions.is_staked
		RETURNING `+positionColumns,
		provider.Bytes(), amount.String(), at,
	)
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return gamble.Position{}, gamble.ErrAlreadyStaked
	}
	if err != nil {
		return gamble.Position{}, fmt.Errorf("gamble/postgres: set staked: %w", err)
	}
	return pos, nil
}

func (s *Store) SetUnstaked(ctx context.Context, provider common.Address, at time.Time) (gamble.Position, sdkmath.Int, error) {
	if s == nil || s.pool == nil {
		return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var returnedText string
	row := s.pool.QueryRow(ctx, `
		UPDATE gamble_positions
		SET staked_amount = 0, is_staked = FALSE, updated_at = $2
		WHERE provider = $1 AND is_staked
		RETURNING `+positionColumns+`, (SELECT staked_amount::text FROM gamble_positions WHERE provider = $1)
	`, provider.Bytes(), at)
	pos, err := scanPositionWith(row, &returnedText)
	if err == nil {
		returned, ok := sdkmath.NewIntFromString(returnedText)
		if !ok {
			return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("gamble/postgres: parse returned stake %q", returnedText)
		}
		return pos, returned, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("gamble/postgres: set unstaked: %w", err)
	}

	if _, gerr := s.Get(ctx, provider); errors.Is(gerr, gamble.ErrNotFound) {
		return gamble.Position{}, sdkmath.Int{}, gamble.ErrNotFound
	} else if gerr != nil {
		return gamble.Position{}, sdkmath.Int{}, gerr
	}
	return gamble.Position{}, sdkmath.Int{}, gamble.ErrNotStaked
}

func (s *Store) Credit(ctx context.Context, provider common.Address, amount sdkmath.Int, at time.Time) (gamble.Position, error) {
	if s == nil || s.pool == nil {
		return gamble.Position{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return gamble.Position{}, fmt.Errorf("%w: credit must be > 0", gamble.ErrInvalidAmount)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE gamble_positions
		SET accumulated_earnings = accumulated_earnings + $2::numeric, updated_at = $3
		WHERE provider = $1
		RETURNING `+positionColumns,
		provider.Bytes(), amount.String(), at,
	)
	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return gamble.Position{}, gamble.ErrNotFound
	}
	if err != nil {
		return gamble.Position{}, fmt.Errorf("gamble/postgres: credit: %w", err)
	}
	return pos, nil
}

func (s *Store) Settle(ctx context.Context, provider common.Address, outcome gamble.Outcome, at time.Time) (gamble.Position, sdkmath.Int, error) {
	if s == nil || s.pool == nil {
		return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var winInc, lossInc int64
	switch outcome {
	case gamble.OutcomeWin:
		winInc = 1
	case gamble.OutcomeLoss:
		lossInc = 1
	case gamble.OutcomeSafeWithdraw:
	default:
		return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("%w: unknown outcome %d", gamble.ErrInvalidAmount, outcome)
	}

	var resolvedText string
	row := s.pool.QueryRow(ctx, `
		UPDATE gamble_positions
		SET accumulated_earnings = 0,
			wins = wins + $2,
			losses = losses + $3,
			updated_at = $4
		WHERE provider = $1 AND accumulated_earnings > 0
		RETURNING `+positionColumns+`, (SELECT accumulated_earnings::text FROM gamble_positions WHERE provider = $1)
	`, provider.Bytes(), winInc, lossInc, at)
	pos, err := scanPositionWith(row, &resolvedText)
	if err == nil {
		resolved, ok := sdkmath.NewIntFromString(resolvedText)
		if !ok {
			return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("gamble/postgres: parse resolved earnings %q", resolvedText)
		}
		return pos, resolved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return gamble.Position{}, sdkmath.Int{}, fmt.Errorf("gamble/postgres: settle: %w", err)
	}

	if _, gerr := s.Get(ctx, provider); errors.Is(gerr, gamble.ErrNotFound) {
		return gamble.Position{}, sdkmath.Int{}, gamble.ErrNotFound
	} else if gerr != nil {
		return gamble.Position{}, sdkmath.Int{}, gerr
	}
	return gamble.Position{}, sdkmath.Int{}, gamble.ErrNoEarnings
}

func scanPosition(row pgx.Row) (gamble.Position, error) {
	return scanPositionInto(row, nil)
}

func scanPositionWith(row pgx.Row, extra *string) (gamble.Position, error) {
	return scanPositionInto(row, extra)
}

func scanPositionInto(row pgx.Row, extra *string) (gamble.Position, error) {
	var (
		providerRaw  []byte
		stakedText   string
		earningsText string
		wins         int64
		losses       int64
		isStaked     bool
		stakedAt     time.Time
		updatedAt    time.Time
	)
	dests := []any{
		&providerRaw,
		&stakedText,
		&earningsText,
		&wins,
		&losses,
		&isStaked,
		&stakedAt,
		&updatedAt,
	}
	if extra != nil {
		dests = append(dests, extra)
	}
	if err := row.Scan(dests...); err != nil {
		return gamble.Position{}, err
	}

	staked, ok := sdkmath.NewIntFromString(stakedText)
	if !ok {
		return gamble.Position{}, fmt.Errorf("parse staked_amount %q", stakedText)
	}
	earnings, ok := sdkmath.NewIntFromString(earningsText)
	if !ok {
		return gamble.Position{}, fmt.Errorf("parse accumulated_earnings %q", earningsText)
	}

	return gamble.Position{
		Provider:            common.BytesToAddress(providerRaw),
		StakedAmount:        staked,
		AccumulatedEarnings: earnings,
		Wins:                uint64(wins),
		Losses:              uint64(losses),
		IsStaked:            isStaked,
		StakedAt:            stakedAt,
		UpdatedAt:           updatedAt,
	}, nil
}

var _ gamble.Store = (*Store)(nil)
