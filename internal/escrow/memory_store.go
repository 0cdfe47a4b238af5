package escrow

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	deposits map[uint64]Deposit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deposits: make(map[uint64]Deposit)}
}

func (s *MemoryStore) Create(_ context.Context, d Deposit) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[d.JobID]; ok {
		return ErrAlreadyFunded
	}
	s.deposits[d.JobID] = d
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID uint64) (Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[jobID]
	if !ok {
		return Deposit{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) MarkReleased(_ context.Context, jobID uint64, at time.Time) (Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[jobID]
	if !ok {
		return Deposit{}, ErrNotFound
	}
	if d.Settled() {
		return Deposit{}, ErrAlreadySettled
	}

	d.Released = true
	d.SettledAt = at
	s.deposits[jobID] = d
	return d, nil
}

func (s *MemoryStore) MarkRefunded(_ context.Context, jobID uint64, at time.Time) (Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[jobID]
	if !ok {
		return Deposit{}, ErrNotFound
	}
	if d.Settled() {
		return Deposit{}, ErrAlreadySettled
	}

	d.Refunded = true
	d.SettledAt = at
	s.deposits[jobID] = d
	return d, nil
}

var _ Store = (*MemoryStore)(nil)
