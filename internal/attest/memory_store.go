package attest

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[uint64]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uint64]Record)}
}

func (s *MemoryStore) Confirm(_ context.Context, jobID uint64, at time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[jobID]
	if ok && rec.Confirmed {
		return rec, false, nil
	}

	rec = Record{JobID: jobID, Confirmed: true, AttestedAt: at}
	s.records[jobID] = rec
	return rec, true, nil
}

func (s *MemoryStore) Get(_ context.Context, jobID uint64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[jobID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

var _ Store = (*MemoryStore)(nil)
