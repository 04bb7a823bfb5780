package cache

import (
	"context"
	"time"
)

// Backend is the durable key/value store behind a Manager. Keys are opaque
// strings; a ttl of 0 means the value does not expire.
//
// Implementations: RedisBackend (shared across processes), SQLiteBackend
// (single host) and MemoryBackend (tests, single process).
type Backend interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and reports how
	// many were removed. Used for best-effort purges only.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Incr atomically increments the integer at key. The ttl is applied only
	// when the counter is created (or had expired); an existing window is
	// never extended.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Ping(ctx context.Context) error
}
