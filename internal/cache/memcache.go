package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheConfig lists memcached servers and the key prefix.
type MemcacheConfig struct {
	Servers []string
	Timeout time.Duration
	Prefix  string
}

// MemcacheStore implements Store on top of gomemcache. Memcached has no TTL
// introspection, so IncrementWithTTL reports the full window.
type MemcacheStore struct {
	client *memcache.Client
	prefix string
}

// NewMemcacheStore builds a client for the configured servers.
func NewMemcacheStore(cfg MemcacheConfig) (*MemcacheStore, error) {
	servers := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("memcached: at least one server is required")
	}

	client := memcache.New(servers...)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return NewMemcacheStoreFromClient(client, cfg.Prefix), nil
}

// NewMemcacheStoreFromClient wraps an existing client.
func NewMemcacheStoreFromClient(client *memcache.Client, prefix string) *MemcacheStore {
	if client == nil {
		return nil
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &MemcacheStore{client: client, prefix: prefix}
}

// Ping checks every configured server.
func (s *MemcacheStore) Ping(context.Context) error {
	if s == nil {
		return ErrNotInitialised
	}
	return s.client.Ping()
}

// Increment adds one to a non-expiring counter.
func (s *MemcacheStore) Increment(_ context.Context, key string) (int64, error) {
	if s == nil {
		return 0, ErrNotInitialised
	}
	return s.incr(s.prefixed(key), 0)
}

// IncrementWithTTL increments the key, creating it with the window as expiry.
func (s *MemcacheStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, ErrNotInitialised
	}
	if window <= 0 {
		window = time.Minute
	}
	count, err := s.incr(s.prefixed(key), window)
	if err != nil {
		return 0, 0, err
	}
	return count, window, nil
}

func (s *MemcacheStore) incr(key string, ttl time.Duration) (int64, error) {
	for attempt := 0; attempt < 3; attempt++ {
		value, err := s.client.Increment(key, 1)
		if err == nil {
			return int64(value), nil
		}
		if !errors.Is(err, memcache.ErrCacheMiss) {
			return 0, err
		}

		err = s.client.Add(&memcache.Item{
			Key:        key,
			Value:      []byte("1"),
			Expiration: expirationSeconds(ttl),
		})
		if err == nil {
			return 1, nil
		}
		if !errors.Is(err, memcache.ErrNotStored) {
			return 0, err
		}
		// another client created the key first; increment it
	}
	return 0, errors.New("memcached: increment " + key + ": contention")
}

// Set stores a value; ttl <= 0 keeps it until evicted.
func (s *MemcacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrNotInitialised
	}
	return s.client.Set(&memcache.Item{
		Key:        s.prefixed(key),
		Value:      value,
		Expiration: expirationSeconds(ttl),
	})
}

// Get fetches a value.
func (s *MemcacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrNotInitialised
	}
	item, err := s.client.Get(s.prefixed(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

// Delete removes keys, ignoring ones that are already gone.
func (s *MemcacheStore) Delete(_ context.Context, keys ...string) error {
	if s == nil {
		return ErrNotInitialised
	}
	for _, key := range keys {
		if err := s.client.Delete(s.prefixed(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}

func (s *MemcacheStore) prefixed(key string) string {
	return s.prefix + key
}

// expirationSeconds rounds a ttl up to whole seconds; memcached treats 0 as
// "never expires".
func expirationSeconds(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	seconds := int64((ttl + time.Second - 1) / time.Second)
	if seconds > 30*24*60*60 {
		// larger values are read as absolute unix timestamps
		return int32(time.Now().Add(ttl).Unix())
	}
	return int32(seconds)
}
