package syncerr

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RetryKey identifies one per-(type, context) retry counter.
type RetryKey struct {
	Type    ErrorType
	Context string
}

func (k RetryKey) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.Context)
}

// CounterStore persists retry attempt counters so they survive a handler
// being recreated within the same process or deployment.
type CounterStore interface {
	Attempts(ctx context.Context, key RetryKey) (int, error)
	SetAttempts(ctx context.Context, key RetryKey, attempts int) error
	// ClearContext drops the counters of every error type for errContext.
	ClearContext(ctx context.Context, errContext string) error
}

const defaultCounterEntries = 1024

// MemoryCounterStore keeps counters in a size-bounded LRU.
type MemoryCounterStore struct {
	mu    sync.Mutex
	cache *lru.Cache[RetryKey, int]
}

// NewMemoryCounterStore creates a store holding at most size counters.
func NewMemoryCounterStore(size int) (*MemoryCounterStore, error) {
	if size <= 0 {
		size = defaultCounterEntries
	}
	cache, err := lru.New[RetryKey, int](size)
	if err != nil {
		return nil, fmt.Errorf("create counter cache: %w", err)
	}
	return &MemoryCounterStore{cache: cache}, nil
}

func (s *MemoryCounterStore) Attempts(_ context.Context, key RetryKey) (int, error) {
	attempts, _ := s.cache.Get(key)
	return attempts, nil
}

func (s *MemoryCounterStore) SetAttempts(_ context.Context, key RetryKey, attempts int) error {
	s.cache.Add(key, attempts)
	return nil
}

func (s *MemoryCounterStore) ClearContext(_ context.Context, errContext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.cache.Keys() {
		if key.Context == errContext {
			s.cache.Remove(key)
		}
	}
	return nil
}
