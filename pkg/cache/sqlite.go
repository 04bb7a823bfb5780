package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at) WHERE expires_at > 0;
`

// SQLiteBackend keeps entries in a cache_entries table. Expired rows are
// treated as absent on read and removed by Sweep.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBackend creates the table if needed.
func NewSQLiteBackend(ctx context.Context, db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		return nil, fmt.Errorf("create cache_entries: %w", err)
	}
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// WithClock replaces the time source; tests only.
func (b *SQLiteBackend) WithClock(now func() time.Time) *SQLiteBackend {
	b.now = now
	return b
}

func (b *SQLiteBackend) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return b.now().Add(ttl).UnixMilli()
}

// Get implements Backend.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if expiresAt != 0 && expiresAt <= b.now().UnixMilli() {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set implements Backend.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, b.expiry(ttl))
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// DeletePrefix implements Backend.
func (b *SQLiteBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete prefix: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Incr implements Backend. An expired counter restarts at 1 with a fresh
// window. All SET expressions see the old row.
func (b *SQLiteBackend) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := b.now().UnixMilli()
	var raw string
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, '1', ?)
		ON CONFLICT(key) DO UPDATE SET
			value = CASE
				WHEN cache_entries.expires_at != 0 AND cache_entries.expires_at <= ? THEN '1'
				ELSE CAST(CAST(cache_entries.value AS INTEGER) + 1 AS TEXT)
			END,
			expires_at = CASE
				WHEN cache_entries.expires_at != 0 AND cache_entries.expires_at <= ? THEN excluded.expires_at
				ELSE cache_entries.expires_at
			END
		RETURNING CAST(value AS TEXT)`,
		key, b.expiry(ttl), now, now,
	).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("sqlite incr: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlite incr: %w", err)
	}
	return n, nil
}

// Ping implements Backend.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Sweep deletes expired rows and reports how many went.
func (b *SQLiteBackend) Sweep(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?`, b.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
