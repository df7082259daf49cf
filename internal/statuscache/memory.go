package statuscache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps entries in a process-local map. Expired entries are
// dropped lazily on read. Now can be replaced to drive expiry from a fake
// clock.
type MemoryBackend struct {
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend returns an empty MemoryBackend using the wall clock.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{Now: time.Now, entries: make(map[string]memoryEntry)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !b.Now().Before(e.expiresAt) {
		delete(b.entries, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = b.Now().Add(ttl)
	}
	b.entries[key] = e
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }
