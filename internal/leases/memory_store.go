package leases

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps leases in process memory. It backs tests and
// single-instance relayer runs where Postgres is not configured.
type MemoryStore struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]Lease
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:  now,
		held: make(map[string]Lease),
	}
}

func (s *MemoryStore) TryAcquire(_ context.Context, name, owner string, ttl time.Duration) (Lease, bool, error) {
	if err := validate(name, owner, ttl); err != nil {
		return Lease{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.held[name]; ok && cur.ExpiresAt.After(now) {
		return cur, false, nil
	}
	lease := Lease{Name: name, Owner: owner, ExpiresAt: now.Add(ttl)}
	s.held[name] = lease
	return lease, true, nil
}

func (s *MemoryStore) Renew(_ context.Context, name, owner string, ttl time.Duration) (Lease, bool, error) {
	if err := validate(name, owner, ttl); err != nil {
		return Lease{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.held[name]
	if !ok {
		return Lease{}, false, ErrNotFound
	}
	if cur.Owner != owner {
		return Lease{}, false, ErrNotOwner
	}

	// An expired lease can still be renewed by its owner as long as
	// nobody has stolen it.
	lease := Lease{Name: name, Owner: owner, ExpiresAt: s.now().Add(ttl)}
	s.held[name] = lease
	return lease, true, nil
}

func (s *MemoryStore) Release(_ context.Context, name, owner string) error {
	if name == "" || owner == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.held[name]
	if !ok {
		return nil
	}
	if cur.Owner != owner {
		return ErrNotOwner
	}
	delete(s.held, name)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (Lease, error) {
	if name == "" {
		return Lease{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.held[name]
	if !ok {
		return Lease{}, ErrNotFound
	}
	return cur, nil
}

var _ Store = (*MemoryStore)(nil)
