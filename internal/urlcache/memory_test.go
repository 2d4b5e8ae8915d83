package urlcache

import (
	"context"
	"testing"
	"time"

	"gachavault/internal/core"
)

func TestMemoryCachePutGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	url := core.GachaURL{Addr: 42, CreationTime: time.Now(), Value: "https://example.com/?authkey=K"}
	key := Key(core.FacetGenshin, "100000001", url.Addr)

	if err := c.Put(ctx, key, url); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Value != url.Value || got.Addr != url.Addr {
		t.Errorf("got %+v, want %+v", got, url)
	}

	if _, ok, _ := c.Get(ctx, Key(core.FacetGenshin, "100000002", url.Addr)); ok {
		t.Error("different uid must miss")
	}
}

func TestMemoryCacheEvictsStale(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	now := time.Date(2023, 6, 2, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := Key(core.FacetStarRail, "600000001", 7)
	stale := core.GachaURL{Addr: 7, CreationTime: now.Add(-25 * time.Hour), Value: "u"}
	if err := c.Put(ctx, key, stale); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("stale entry returned")
	}
	// The lookup must have evicted it, not just skipped it.
	c.mu.Lock()
	_, present := c.entries[key]
	c.mu.Unlock()
	if present {
		t.Error("stale entry still stored after lookup")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	key := Key(core.FacetZenless, "10000001", 1)
	_ = c.Put(ctx, key, core.GachaURL{Addr: 1, CreationTime: time.Now()})
	if err := c.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("deleted entry returned")
	}
}
