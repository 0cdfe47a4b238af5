package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// StaticSource serves a fixed feed value with a caller-controlled
// observation time. It backs local runs and test doubles; production wires
// an on-chain aggregator source instead.
type StaticSource struct {
	mu   sync.Mutex
	feed Feed
	now  func() time.Time

	// pinObservedAt, when set, freezes ObservedAt instead of tracking now.
	pinObservedAt bool
}

func NewStaticSource(value sdkmath.Int, decimals uint8, now func() time.Time) (*StaticSource, error) {
	if value.IsNil() || !value.IsPositive() {
		return nil, fmt.Errorf("%w: static feed value must be > 0", ErrInvalidConfig)
	}
	if decimals > maxFeedDecimals {
		return nil, fmt.Errorf("%w: static feed decimals out of range", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &StaticSource{
		feed: Feed{Value: value, Decimals: decimals},
		now:  now,
	}, nil
}

// SetFeed replaces the served feed. A zero observedAt keeps the source
// fresh (ObservedAt tracks now); a non-zero one pins it, which lets tests
// simulate staleness.
func (s *StaticSource) SetFeed(value sdkmath.Int, decimals uint8, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = Feed{Value: value, Decimals: decimals, ObservedAt: observedAt}
	s.pinObservedAt = !observedAt.IsZero()
}

func (s *StaticSource) FetchFeed(_ context.Context) (Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed := s.feed
	if !s.pinObservedAt {
		feed.ObservedAt = s.now()
	}
	return feed, nil
}
