package randomness

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// LocalSource draws from the process CSPRNG. It is for local runs and
// tests only: the draws are unpredictable but not publicly auditable, so
// it reports Secure per its configuration rather than by verification.
type LocalSource struct {
	secure bool
	now    func() time.Time
}

func NewLocalSource(secure bool, now func() time.Time) *LocalSource {
	if now == nil {
		now = time.Now
	}
	return &LocalSource{secure: secure, now: now}
}

func (s *LocalSource) Draw(_ context.Context) (Sample, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Sample{}, fmt.Errorf("randomness: local draw: %w", err)
	}
	return Sample{
		Value:      new(big.Int).SetBytes(buf[:]),
		Secure:     s.secure,
		ObservedAt: s.now(),
	}, nil
}
