// Package cache provides a small keyed cache with TTL, backed by either
// process memory or Redis. It holds derived data only (extraction
// results, analyzed videos); nothing in it is a source of truth.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores string values under string keys with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is the in-process default used when no Redis address is
// configured. Entries expire lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	now func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Cache. A missing or expired key reports found=false.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have raced in.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}
