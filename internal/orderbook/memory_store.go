package orderbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu     sync.Mutex
	nextID uint64
	jobs   map[uint64]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		jobs:   make(map[uint64]Job),
	}
}

func (s *MemoryStore) Insert(_ context.Context, j Job) (Job, error) {
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	if j.Status != StatusOpen {
		return Job{}, fmt.Errorf("%w: new job must be open", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j.ID = s.nextID
	s.nextID++
	s.jobs[j.ID] = j
	return j, nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j, nil
}

func (s *MemoryStore) Assign(_ context.Context, id uint64, provider common.Address, at time.Time) (Job, error) {
	if provider == (common.Address{}) {
		return Job{}, fmt.Errorf("%w: missing provider", ErrInvalidJob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if j.Status != StatusOpen {
		return Job{}, fmt.Errorf("%w: job is %s, want open", ErrWrongState, j.Status)
	}

	j.Provider = provider
	j.Status = StatusAssigned
	j.UpdatedAt = at
	s.jobs[id] = j
	return j, nil
}

func (s *MemoryStore) Complete(_ context.Context, id uint64, proofHash common.Hash, at time.Time) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if j.Status != StatusAssigned {
		return Job{}, fmt.Errorf("%w: job is %s, want assigned", ErrWrongState, j.Status)
	}

	j.DeliveryProofHash = proofHash
	j.Status = StatusCompleted
	j.UpdatedAt = at
	s.jobs[id] = j
	return j, nil
}

func (s *MemoryStore) Release(_ context.Context, id uint64, at time.Time) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if j.Status != StatusCompleted {
		return Job{}, fmt.Errorf("%w: job is %s, want completed", ErrWrongState, j.Status)
	}

	j.Status = StatusReleased
	j.UpdatedAt = at
	s.jobs[id] = j
	return j, nil
}

func (s *MemoryStore) Cancel(_ context.Context, id uint64, at time.Time) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if j.Status != StatusOpen && j.Status != StatusAssigned {
		return Job{}, fmt.Errorf("%w: job is %s, want open or assigned", ErrWrongState, j.Status)
	}

	j.Status = StatusCancelled
	j.UpdatedAt = at
	s.jobs[id] = j
	return j, nil
}

var _ Store = (*MemoryStore)(nil)
