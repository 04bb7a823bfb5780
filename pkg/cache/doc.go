// Package cache provides the namespaced, versioned resource cache.
//
// Entries are stored in a Backend (Redis, SQLite or memory) under keys of the
// form
//
//	<namespace>:<type>:<id>[_<projection hash>]:v<version>
//
// Negative entries ("not found") are first-class values with their own TTL.
// ClearAll bumps the version stored at <namespace>:meta:version, which makes
// every existing key unreachable at once, and then purges old rows on a best
// effort basis.
//
// # Basic Usage
//
//	backend := cache.NewRedisBackend(redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	}))
//	manager := cache.NewManager(backend, "gallery")
//
//	key := cache.Key{Type: cache.TypePhotoSizes, ID: "53012345678", Projection: []string{"Large"}}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch upstream, then manager.Put(ctx, key, value, ttl)
//	}
//
// # Memoization
//
// Wrap a request or warmer cycle with WithMemo. Within that context repeated
// lookups of the same key, and of the version, do no backend I/O, and writes
// are visible to later reads immediately.
//
//	ctx = cache.WithMemo(ctx)
//
// # Metrics
//
//   - gallery_cache_hits_total{layer,kind} - Cache hits (memo/backend, positive/negative)
//   - gallery_cache_misses_total - Cache misses
//   - gallery_cache_errors_total{operation} - Backend errors
//   - gallery_cache_clears_total - Version bumps
package cache
