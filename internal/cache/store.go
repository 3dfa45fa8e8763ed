package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialised is returned by methods called on a nil store.
var ErrNotInitialised = errors.New("cache: store not initialised")

// Store represents a shared cache interface used across the application.
// Keys are namespaced by the caller; a ttl <= 0 means the entry never expires.
type Store interface {
	// Increment atomically adds one to a counter that never expires.
	Increment(ctx context.Context, key string) (int64, error)
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
