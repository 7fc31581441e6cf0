package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a TTL key-value store. It backs the shared KV tier (Redis) and
// the instance-local edge tier, and carries the gate's counters, markers
// and advisory locks.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Get returns ErrCacheMiss when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for ttl. A non-positive ttl is a no-op.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// RowStore is the permanent tier. Rows never expire on their own.
type RowStore interface {
	Name() string

	// Load returns ErrCacheMiss when no row exists for key.
	Load(ctx context.Context, key string) (*CacheEntry, error)

	// Save upserts the row for key.
	Save(ctx context.Context, key string, entry *CacheEntry) error

	Close() error
}
