package cache

import (
	"context"
	"sync"
)

type memoKey struct{}

// memo remembers lookups for the lifetime of one context: a request, or a
// warmer cycle. A nil entry records a miss.
type memo struct {
	mu         sync.Mutex
	version    int64
	hasVersion bool
	entries    map[string]*Entry
}

// WithMemo returns a context carrying a fresh memo scope. Lookups made
// through a Manager with that context hit the backend at most once per key.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &memo{entries: make(map[string]*Entry)})
}

func memoFrom(ctx context.Context) *memo {
	m, _ := ctx.Value(memoKey{}).(*memo)
	return m
}

func (m *memo) lookup(key string) (*Entry, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *memo) store(key string, e *Entry) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

func (m *memo) getVersion() (int64, bool) {
	if m == nil {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, m.hasVersion
}

func (m *memo) setVersion(v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.version = v
	m.hasVersion = true
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
}
