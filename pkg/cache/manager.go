package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager is the namespaced, versioned resource cache.
type Manager struct {
	backend   Backend
	namespace string
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option { return func(m *Manager) { m.logger = logger } }

// NewManager creates a cache manager over backend.
func NewManager(backend Backend, namespace string, opts ...Option) *Manager {
	if backend == nil {
		panic("cache backend cannot be nil")
	}
	if namespace == "" {
		namespace = "gallery"
	}
	m := &Manager{
		backend:   backend,
		namespace: namespace,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Namespace returns the key prefix.
func (m *Manager) Namespace() string { return m.namespace }

// Backend returns the underlying store.
func (m *Manager) Backend() Backend { return m.backend }

// Version returns the global cache version. A missing version key is
// version 0.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	memo := memoFrom(ctx)
	if v, ok := memo.getVersion(); ok {
		return v, nil
	}

	var v int64
	raw, err := m.backend.Get(ctx, versionKey(m.namespace))
	switch {
	case errors.Is(err, ErrCacheMiss):
	case err != nil:
		CacheErrors.WithLabelValues("version").Inc()
		return 0, fmt.Errorf("read cache version: %w", err)
	default:
		v, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			CacheErrors.WithLabelValues("version").Inc()
			return 0, fmt.Errorf("%w: version %q", ErrInvalidEntry, raw)
		}
	}

	memo.setVersion(v)
	return v, nil
}

func (m *Manager) fullKey(ctx context.Context, key Key) (string, error) {
	v, err := m.Version(ctx)
	if err != nil {
		return "", err
	}
	return key.String(m.namespace, v), nil
}

// Get retrieves an entry. Returns ErrCacheMiss if the key doesn't exist or
// the entry is expired. Negative entries are returned as hits with NotFound
// set.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	fk, err := m.fullKey(ctx, key)
	if err != nil {
		return nil, err
	}

	memo := memoFrom(ctx)
	if e, ok := memo.lookup(fk); ok {
		if e == nil || e.IsExpired(m.now()) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheHits.WithLabelValues("memo", entryKind(e)).Inc()
		return e, nil
	}

	data, err := m.backend.Get(ctx, fk)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			memo.store(fk, nil)
			CacheMisses.Inc()
			m.logger.Debug().Str("key", fk).Msg("Cache miss")
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired(m.now()) {
		memo.store(fk, nil)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	memo.store(fk, &entry)
	CacheHits.WithLabelValues("backend", entryKind(&entry)).Inc()
	m.logger.Debug().Str("key", fk).Bool("not_found", entry.NotFound).Msg("Cache hit")
	return &entry, nil
}

// Put stores value as JSON for ttl.
func (m *Manager) Put(ctx context.Context, key Key, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return m.store(ctx, key, &Entry{Data: data}, ttl)
}

// PutNotFound stores a negative entry for ttl.
func (m *Manager) PutNotFound(ctx context.Context, key Key, ttl time.Duration) error {
	return m.store(ctx, key, &Entry{NotFound: true}, ttl)
}

func (m *Manager) store(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	fk, err := m.fullKey(ctx, key)
	if err != nil {
		return err
	}

	now := m.now()
	entry.CachedAt = now
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.backend.Set(ctx, fk, data, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	memoFrom(ctx).store(fk, entry)
	return nil
}

// Delete removes an entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	fk, err := m.fullKey(ctx, key)
	if err != nil {
		return err
	}
	if err := m.backend.Delete(ctx, fk); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return err
	}
	memoFrom(ctx).store(fk, nil)
	return nil
}

// ClearAll invalidates every entry by bumping the global version, then
// best-effort purges the data rows. Purge failures are logged, not returned.
func (m *Manager) ClearAll(ctx context.Context) (int64, error) {
	v, err := m.backend.Incr(ctx, versionKey(m.namespace), 0)
	if err != nil {
		CacheErrors.WithLabelValues("version").Inc()
		return 0, fmt.Errorf("bump cache version: %w", err)
	}
	memoFrom(ctx).setVersion(v)
	CacheClears.Inc()

	purged := 0
	for _, typ := range DataTypes {
		n, err := m.backend.DeletePrefix(ctx, m.namespace+":"+typ+":")
		if err != nil {
			CacheErrors.WithLabelValues("purge").Inc()
			m.logger.Warn().Err(err).Str("type", typ).Msg("Cache purge failed")
			continue
		}
		purged += n
	}

	m.logger.Info().Int64("version", v).Int("purged", purged).Msg("Cache cleared")
	return v, nil
}

func backoffKey(key Key) Key {
	return Key{Type: TypeBackoff, ID: key.Path()}
}

// MarkBackoff records that key must not be fetched again for d.
func (m *Manager) MarkBackoff(ctx context.Context, key Key, d time.Duration) error {
	return m.Put(ctx, backoffKey(key), m.now().Add(d), d)
}

// InBackoff reports whether a backoff window for key is open. Backend errors
// count as no backoff.
func (m *Manager) InBackoff(ctx context.Context, key Key) bool {
	_, err := m.Get(ctx, backoffKey(key))
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn().Err(err).Str("key", key.Path()).Msg("Backoff lookup failed")
	}
	return err == nil
}

func entryKind(e *Entry) string {
	if e.NotFound {
		return "negative"
	}
	return "positive"
}
