package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/kkkkikiki/burnpromo/internal/model"
)

type memoryKey struct {
	scope      Scope
	identifier string
}

// MemoryStore keeps counters in process. Only suitable for a single replica.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memoryKey]model.RateLimitEntry
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memoryKey]model.RateLimitEntry)}
}

func (s *MemoryStore) Hit(_ context.Context, scope Scope, identifier string, rule Rule, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	key := memoryKey{scope: scope, identifier: identifier}
	var current *model.RateLimitEntry
	if e, ok := s.entries[key]; ok {
		current = &e
	}

	next, decision, changed := advance(current, scope, identifier, rule, now)
	if changed {
		s.entries[key] = next
	}
	return decision, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepLocked(now), nil
}

func (s *MemoryStore) sweepLocked(now time.Time) int64 {
	var n int64
	for key, e := range s.entries {
		if e.ExpiresAt.Before(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of live counters
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
