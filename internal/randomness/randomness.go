// Package randomness wraps the external secure-random provider behind a
// small port. Consumers must check both the security flag and the sample
// age before acting on a draw.
package randomness

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var ErrInvalidConfig = errors.New("randomness: invalid config")

// Sample is one draw from the upstream provider.
type Sample struct {
	Value *big.Int

	// Secure reports whether the provider vouches for this draw (e.g. the
	// beacon signature verified). An insecure draw must never settle money.
	Secure bool

	ObservedAt time.Time
}

// Source draws a fresh random value. Implementations do not cache: each
// call reflects the provider's state at call time.
type Source interface {
	Draw(ctx context.Context) (Sample, error)
}
