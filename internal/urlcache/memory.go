package urlcache

import (
	"context"
	"sync"
	"time"

	"gachavault/internal/core"
)

// MemoryCache keeps validated URLs in process memory. This is the default
// backend; validation is user-triggered, so the map stays tiny.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]core.GachaURL
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]core.GachaURL),
		now:     time.Now,
	}
}

// Get returns the entry for key, lazily evicting it when stale.
func (c *MemoryCache) Get(_ context.Context, key string) (core.GachaURL, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	url, ok := c.entries[key]
	if !ok {
		return core.GachaURL{}, false, nil
	}
	if !url.Fresh(c.now()) {
		delete(c.entries, key)
		return core.GachaURL{}, false, nil
	}
	return url, true, nil
}

// Put stores url under key.
func (c *MemoryCache) Put(_ context.Context, key string, url core.GachaURL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = url
	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Close is a no-op.
func (c *MemoryCache) Close() error {
	return nil
}
