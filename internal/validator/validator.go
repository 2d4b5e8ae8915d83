// Package validator confirms which recovered gacha URL authenticates the
// expected account, probing candidates in recency order and short-circuiting
// through the validated-url cache.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gachavault/internal/core"
	"gachavault/internal/observability"
	"gachavault/internal/urlcache"
)

// probeThrottleEvery inserts a pause after this many probes so a bulk scan
// does not trip the remote rate limiter.
const probeThrottleEvery = 5

// probeThrottleDelay is the length of that pause.
const probeThrottleDelay = 3 * time.Second

// Prober issues the minimal first-page request used to learn which uid a
// candidate URL authenticates.
type Prober interface {
	ProbeUID(ctx context.Context, facet core.Facet, gachaURL string) (string, error)
}

// Validator owns the validated-url cache and serializes validation passes.
// One pass holds the lock end to end: validation is an infrequent,
// user-triggered action, so simplicity wins over throughput.
type Validator struct {
	mu     sync.Mutex
	cache  urlcache.Cache
	prober Prober

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Validator around the given cache and prober.
func New(cache urlcache.Cache, prober Prober) *Validator {
	return &Validator{
		cache:  cache,
		prober: prober,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Validate returns the first candidate confirmed to authenticate expectedUID.
// Candidates must be sorted most recent first; stale ones are skipped. Probe
// results are cached under the uid they actually belong to, so a mismatched
// probe still pays off for a later validation of that other account. An
// expired authkey aborts the whole pass: every candidate shares the same
// credential lifetime, so probing the rest would only waste requests.
func (v *Validator) Validate(ctx context.Context, facet core.Facet, expectedUID string, candidates []core.GachaURL) (core.GachaURL, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	probes := 0

	for _, candidate := range candidates {
		if !candidate.Fresh(now) {
			continue
		}

		key := urlcache.Key(facet, expectedUID, candidate.Addr)
		cached, ok, err := v.cache.Get(ctx, key)
		if err != nil {
			return core.GachaURL{}, fmt.Errorf("url cache lookup: %w", err)
		}
		if ok {
			observability.URLCacheLookups.WithLabelValues("hit").Inc()
			slog.Debug("validated url cache hit", "facet", facet, "uid", expectedUID, "addr", cached.Addr)
			return cached, nil
		}
		observability.URLCacheLookups.WithLabelValues("miss").Inc()

		if probes != 0 && probes%probeThrottleEvery == 0 {
			if err := v.sleep(ctx, probeThrottleDelay); err != nil {
				return core.GachaURL{}, err
			}
		}

		actualUID, err := v.prober.ProbeUID(ctx, facet, candidate.Value)
		probes++
		if err != nil {
			// A candidate the API rejects outright is just a dead
			// candidate; surfacing the raw remote error would read
			// as a global outage.
			if core.IsKind(err, core.KindRemoteAPI) {
				observability.Probes.WithLabelValues("rejected").Inc()
				slog.Debug("candidate rejected by remote api", "facet", facet, "addr", candidate.Addr, "error", err)
				return core.GachaURL{}, core.NewNoValidURLError(
					fmt.Sprintf("no valid gacha url for uid %s", expectedUID))
			}
			observability.Probes.WithLabelValues("error").Inc()
			return core.GachaURL{}, err
		}

		if actualUID != "" {
			putKey := urlcache.Key(facet, actualUID, candidate.Addr)
			if err := v.cache.Put(ctx, putKey, candidate); err != nil {
				return core.GachaURL{}, fmt.Errorf("url cache store: %w", err)
			}
		}

		if actualUID == expectedUID {
			observability.Probes.WithLabelValues("match").Inc()
			return candidate, nil
		}
		observability.Probes.WithLabelValues("mismatch").Inc()
		slog.Debug("candidate authenticates a different account",
			"facet", facet, "addr", candidate.Addr, "expected", expectedUID, "actual", actualUID)
	}

	return core.GachaURL{}, core.NewNoValidURLError(
		fmt.Sprintf("no valid gacha url for uid %s", expectedUID))
}
