package gamble

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu        sync.Mutex
	positions map[common.Address]Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[common.Address]Position)}
}

func (s *MemoryStore) Get(_ context.Context, provider common.Address) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[provider]
	if !ok {
		return Position{}, ErrNotFound
	}
	return pos, nil
}

func (s *MemoryStore) SetStaked(_ context.Context, provider common.Address, amount sdkmath.Int, at time.Time) (Position, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return Position{}, fmt.Errorf("%w: stake must be > 0", ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[provider]
	if ok && pos.IsStaked {
		return Position{}, ErrAlreadyStaked
	}
	if !ok {
		pos = Position{
			Provider:            provider,
			AccumulatedEarnings: sdkmath.ZeroInt(),
		}
	}

	pos.StakedAmount = amount
	pos.IsStaked = true
	pos.StakedAt = at
	pos.UpdatedAt = at
	s.positions[provider] = pos
	return pos, nil
}

func (s *MemoryStore) SetUnstaked(_ context.Context, provider common.Address, at time.Time) (Position, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[provider]
	if !ok {
		return Position{}, sdkmath.Int{}, ErrNotFound
	}
	if !pos.IsStaked {
		return Position{}, sdkmath.Int{}, ErrNotStaked
	}

	returned := pos.StakedAmount
	pos.StakedAmount = sdkmath.ZeroInt()
	pos.IsStaked = false
	pos.UpdatedAt = at
	s.positions[provider] = pos
	return pos, returned, nil
}

func (s *MemoryStore) Credit(_ context.Context, provider common.Address, amount sdkmath.Int, at time.Time) (Position, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return Position{}, fmt.Errorf("%w: credit must be > 0", ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[provider]
	if !ok {
		return Position{}, ErrNotFound
	}

	pos.AccumulatedEarnings = pos.AccumulatedEarnings.Add(amount)
	pos.UpdatedAt = at
	s.positions[provider] = pos
	return pos, nil
}

func (s *MemoryStore) Settle(_ context.Context, provider common.Address, outcome Outcome, at time.Time) (Position, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[provider]
	if !ok {
		return Position{}, sdkmath.Int{}, ErrNotFound
	}
	if pos.AccumulatedEarnings.IsZero() {
		return Position{}, sdkmath.Int{}, ErrNoEarnings
	}

	resolved := pos.AccumulatedEarnings
	pos.AccumulatedEarnings = sdkmath.ZeroInt()
	switch outcome {
	case OutcomeWin:
		pos.Wins++
	case OutcomeLoss:
		pos.Losses++
	case OutcomeSafeWithdraw:
		// No counter: a safe withdraw is not a gamble outcome.
	default:
		return Position{}, sdkmath.Int{}, fmt.Errorf("%w: unknown outcome %d", ErrInvalidAmount, outcome)
	}
	pos.UpdatedAt = at
	s.positions[provider] = pos
	return pos, resolved, nil
}

var _ Store = (*MemoryStore)(nil)
