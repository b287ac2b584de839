package counter

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	dErrors "aura/pkg/domain-errors"
)

// InMemoryCounterStore implements CounterStore with process-local state.
// Used in tests and as the last-resort fallback; production uses
// RedisCounterStore.
type InMemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	pingErr error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Option configures an InMemoryCounterStore.
type Option func(*InMemoryCounterStore)

// WithClock replaces the time source, letting tests advance windows without
// sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryCounterStore) {
		s.now = now
	}
}

// New creates an in-memory counter store.
func New(opts ...Option) *InMemoryCounterStore {
	s := &InMemoryCounterStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailPing makes Ping return an unavailability error when down is true.
// Test hook for exercising the fail-open path.
func (s *InMemoryCounterStore) FailPing(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if down {
		s.pingErr = dErrors.New(dErrors.CodeUnavailable, "counter store down")
	} else {
		s.pingErr = nil
	}
}

func (s *InMemoryCounterStore) AllowWindow(_ context.Context, key string, limit int, ttl time.Duration) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveEntry(key)
	var count int64
	if entry != nil {
		count, _ = strconv.ParseInt(entry.value, 10, 64)
	}
	if count >= int64(limit) {
		return false, count, nil
	}
	count++
	if entry == nil {
		s.entries[key] = &memoryEntry{
			value:     strconv.FormatInt(count, 10),
			expiresAt: s.now().Add(ttl),
		}
	} else {
		entry.value = strconv.FormatInt(count, 10)
	}
	return true, count, nil
}

func (s *InMemoryCounterStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveEntry(key)
	if entry == nil {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *InMemoryCounterStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryCounterStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveEntry(key) == nil {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *InMemoryCounterStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.entries {
		if s.liveEntry(key) != nil && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *InMemoryCounterStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// liveEntry returns the entry for key, lazily evicting it when expired.
// Must be called while holding s.mu.
func (s *InMemoryCounterStore) liveEntry(key string) *memoryEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}
