package enrich

import (
	"context"
	"sync"
	"time"
)

// Cache stores serialized composite results keyed by the request identity.
// Entries are full replacements, never patches; concurrent writers for the
// same key are safe because last-writer-wins.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) error
}

// MemoryCache is the in-process cache used when no datastore is configured
// and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{payload: payload, expiresAt: expiresAt}
	return nil
}
