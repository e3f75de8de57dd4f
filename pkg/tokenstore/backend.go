package tokenstore

import (
	"context"
	"sync"
	"time"
)

// Backend is durable key/value storage for the store's entries. Load
// returns ErrNotFound for missing or lapsed keys; Delete of a missing key
// is not an error. A zero expiresAt means the entry does not lapse.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
}

// MemoryBackend keeps entries in process. It backs tests and the CLI's
// --store=memory mode.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock overrides the clock used to lapse entries.
func (b *MemoryBackend) WithClock(now func() time.Time) *MemoryBackend {
	b.now = now
	return b
}

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		b.mu.Lock()
		if cur, ok := b.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, ErrNotFound
	}

	return append([]byte(nil), e.data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, data []byte, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = memoryEntry{data: append([]byte(nil), data...), expiresAt: expiresAt}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}

// Len reports the number of stored entries, lapsed or not.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// DeleteExpired drops lapsed entries and reports how many went.
func (b *MemoryBackend) DeleteExpired(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var n int64
	for k, e := range b.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(b.entries, k)
			n++
		}
	}
	return n, nil
}
