package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process. The least recently used keys are
// evicted once maxKeys is reached.
type MemoryStore struct {
	mu      sync.Mutex
	windows *lru.Cache[string, *window]
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxKeys counters.
func NewMemoryStore(maxKeys int) (*MemoryStore, error) {
	cache, err := lru.New[string, *window](maxKeys)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{windows: cache, now: time.Now}, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.windows.Add(key, w)
	}
	w.count++
	return w.count, w.resetAt, nil
}

func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows.Peek(key)
	if !ok || !s.now().Before(w.resetAt) {
		return nil
	}
	if w.count > 0 {
		w.count--
	}
	return nil
}
