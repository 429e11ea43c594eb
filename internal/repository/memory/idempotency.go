package memory

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/case-engine/internal/clock"
)

// IdempotencyStore keeps reserved keys in a map until they expire.
type IdempotencyStore struct {
	mu    sync.Mutex
	clock clock.Clock
	keys  map[string]time.Time
}

// NewIdempotencyStore builds the store.
func NewIdempotencyStore(clk clock.Clock) *IdempotencyStore {
	return &IdempotencyStore{clock: clk, keys: map[string]time.Time{}}
}

func (s *IdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if exp, ok := s.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.keys[key] = now.Add(ttl)
	return true, nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
