package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type photo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestNewManager_Panic(t *testing.T) {
	assert.Panics(t, func() { NewManager(nil, "gallery") })
}

func TestManager_PutAndGet(t *testing.T) {
	m := NewManager(NewMemoryBackend(), "gallery")
	ctx := context.Background()
	key := Key{Type: TypePhotoInfo, ID: "1"}

	_, err := m.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, m.Put(ctx, key, photo{ID: "1", Title: "Dunes"}, time.Hour))

	entry, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, entry.NotFound)

	var got photo
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, photo{ID: "1", Title: "Dunes"}, got)
	assert.WithinDuration(t, entry.CachedAt.Add(time.Hour), entry.ExpiresAt, time.Millisecond)
}

func TestManager_NegativeEntry(t *testing.T) {
	m := NewManager(NewMemoryBackend(), "gallery")
	ctx := context.Background()
	key := Key{Type: TypePhotoInfo, ID: "404"}

	require.NoError(t, m.PutNotFound(ctx, key, time.Hour))

	entry, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, entry.NotFound)
	assert.Empty(t, entry.Data)
}

func TestManager_Expiry(t *testing.T) {
	c := newClock()
	m := NewManager(NewMemoryBackend().WithClock(c.Now), "gallery", WithClock(c.Now))
	ctx := context.Background()
	key := Key{Type: TypePhotoStats, ID: "1"}

	require.NoError(t, m.Put(ctx, key, map[string]int{"views": 1}, time.Minute))
	c.Advance(2 * time.Minute)

	_, err := m.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ClearAll(t *testing.T) {
	backend := NewMemoryBackend()
	m := NewManager(backend, "gallery")
	ctx := context.Background()
	key := Key{Type: TypePhotoInfo, ID: "1"}

	require.NoError(t, m.Put(ctx, key, photo{ID: "1"}, time.Hour))

	// Keep a copy of the old row to show reads ignore it after the bump
	oldRow, err := backend.Get(ctx, key.String("gallery", 0))
	require.NoError(t, err)

	v, err := m.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, backend.Set(ctx, key.String("gallery", 0), oldRow, time.Hour))
	_, err = m.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss, "old version must be unreachable")

	require.NoError(t, m.Put(ctx, key, photo{ID: "1", Title: "new"}, time.Hour))
	entry, err := m.Get(ctx, key)
	require.NoError(t, err)
	var got photo
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, "new", got.Title)

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestManager_ClearAll_PurgesRows(t *testing.T) {
	backend := NewMemoryBackend()
	m := NewManager(backend, "gallery")
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, m.Put(ctx, Key{Type: TypePhotoInfo, ID: id}, photo{ID: id}, time.Hour))
	}
	require.NoError(t, backend.Set(ctx, "gallery:quota:hourly", []byte("10"), time.Hour))

	_, err := m.ClearAll(ctx)
	require.NoError(t, err)

	// version key and quota counter survive
	assert.Equal(t, 2, backend.Len())
}

func TestManager_Memo(t *testing.T) {
	backend := newCountingBackend()
	m := NewManager(backend, "gallery")
	key := Key{Type: TypePhotoInfo, ID: "1"}
	fk := key.String("gallery", 0)

	ctx := WithMemo(context.Background())

	// Misses are memoized too
	for i := 0; i < 3; i++ {
		_, err := m.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, 1, backend.Gets(fk))
	assert.Equal(t, 1, backend.Gets("gallery:meta:version"))

	// A write is visible to the next read without I/O
	require.NoError(t, m.Put(ctx, key, photo{ID: "1"}, time.Hour))
	entry, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, entry.NotFound)
	assert.Equal(t, 1, backend.Gets(fk))

	// A new scope reads through again
	other := WithMemo(context.Background())
	_, err = m.Get(other, key)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Gets(fk))

	// Without a scope every lookup hits the backend
	_, err = m.Get(context.Background(), key)
	require.NoError(t, err)
	_, err = m.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 4, backend.Gets(fk))
}

func TestManager_MemoDelete(t *testing.T) {
	m := NewManager(newCountingBackend(), "gallery")
	ctx := WithMemo(context.Background())
	key := Key{Type: TypePhotoInfo, ID: "1"}

	require.NoError(t, m.Put(ctx, key, photo{ID: "1"}, time.Hour))
	require.NoError(t, m.Delete(ctx, key))

	_, err := m.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_BackendError(t *testing.T) {
	backend := newCountingBackend()
	backend.fail = errBackendDown
	m := NewManager(backend, "gallery")

	_, err := m.Get(context.Background(), Key{Type: TypePhotoInfo, ID: "1"})
	assert.ErrorIs(t, err, errBackendDown)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	assert.False(t, m.InBackoff(context.Background(), Key{Type: TypePhotoInfo, ID: "1"}))
}

func TestManager_Backoff(t *testing.T) {
	c := newClock()
	m := NewManager(NewMemoryBackend().WithClock(c.Now), "gallery", WithClock(c.Now))
	ctx := context.Background()
	key := Key{Type: TypePage, ID: "album:a:1:p1:n500"}

	assert.False(t, m.InBackoff(ctx, key))
	require.NoError(t, m.MarkBackoff(ctx, key, 5*time.Minute))
	assert.True(t, m.InBackoff(ctx, key))
	assert.False(t, m.InBackoff(ctx, Key{Type: TypePage, ID: "album:a:1:p2:n500"}))

	c.Advance(6 * time.Minute)
	assert.False(t, m.InBackoff(ctx, key))
}
