package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = time.Minute

// MemoryStore implements Store in process using go-cache. It suits single
// instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		now:   time.Now,
	}
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// Increment adds one to a non-expiring counter.
func (s *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	if s == nil {
		return 0, ErrNotInitialised
	}
	count, _ := s.increment(key, 0)
	return count, nil
}

// IncrementWithTTL increments the key inside a fixed window.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, ErrNotInitialised
	}
	if window <= 0 {
		window = time.Minute
	}
	count, ttl := s.increment(key, window)
	return count, ttl, nil
}

func (s *MemoryStore) increment(key string, window time.Duration) (int64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	counter := memoryCounter{value: 1}
	if window > 0 {
		counter.expiresAt = now.Add(window)
	}

	if raw, found := s.items.Get(key); found {
		if existing, ok := raw.(memoryCounter); ok && (existing.expiresAt.IsZero() || existing.expiresAt.After(now)) {
			counter.value = existing.value + 1
			if !existing.expiresAt.IsZero() {
				counter.expiresAt = existing.expiresAt
			}
		}
	}

	ttl := gocache.NoExpiration
	if !counter.expiresAt.IsZero() {
		ttl = counter.expiresAt.Sub(now)
	}
	s.items.Set(key, counter, ttl)

	if ttl == gocache.NoExpiration {
		return counter.value, 0
	}
	return counter.value, ttl
}

// Set stores a copy of value.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrNotInitialised
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrNotInitialised
	}
	raw, expiresAt, found := s.items.GetWithExpiration(key)
	if !found || (!expiresAt.IsZero() && !expiresAt.After(s.now())) {
		return nil, false, nil
	}
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...), true, nil
	case memoryCounter:
		return []byte(strconv.FormatInt(v.value, 10)), true, nil
	default:
		return nil, false, nil
	}
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	if s == nil {
		return ErrNotInitialised
	}
	for _, key := range keys {
		s.items.Delete(key)
	}
	return nil
}
