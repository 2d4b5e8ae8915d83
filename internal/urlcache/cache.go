// Package urlcache stores validated gacha URLs keyed by (facet, uid, cache
// slot), so repeated validation of the same account skips the network probe.
// Entries expire with the URL's own one-day authkey window.
package urlcache

import (
	"context"
	"fmt"
	"time"

	"gachavault/internal/core"
)

// TTL is the freshness ceiling: a cached URL older than this is useless
// because its authkey has expired anyway.
const TTL = 24 * time.Hour

// Key builds the cache key for one candidate URL.
func Key(facet core.Facet, uid string, addr uint32) string {
	return fmt.Sprintf("%s|%s|%d", facet, uid, addr)
}

// Cache is the validated-url store. Implementations must be safe for
// concurrent use and must evict entries whose URL creation time has fallen
// out of the TTL window on lookup.
type Cache interface {
	// Get returns the cached URL for key if present and still fresh.
	Get(ctx context.Context, key string) (core.GachaURL, bool, error)

	// Put stores the URL under key.
	Put(ctx context.Context, key string, url core.GachaURL) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
