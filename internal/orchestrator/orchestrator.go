// Package orchestrator drives the full history pull: it walks every record
// partition of an account in strict cursor order, streams per-page progress
// events to the caller, and reconciles the result against the record store.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gachavault/internal/core"
	"gachavault/internal/gachaclient"
	"gachavault/internal/observability"
)

const (
	// progressBufferSize bounds the progress channel. The forwarder drains
	// continuously, so the buffer only absorbs short sink stalls.
	progressBufferSize = 64

	// defaultPageDelay paces consecutive page requests so a long pull does
	// not trip the remote rate limiter in the first place.
	defaultPageDelay = 500 * time.Millisecond
)

// Fetcher fetches one page of gacha records. *gachaclient.Client satisfies
// this.
type Fetcher interface {
	FetchPage(ctx context.Context, facet core.Facet, gachaURL, gachaType, endID string) ([]core.Record, error)
}

// Options configures one pull.
type Options struct {
	// Channel is an opaque id stamped on every progress event so callers
	// multiplexing several pulls can tell them apart.
	Channel string

	Facet    core.Facet
	UID      string
	GachaURL string

	// GachaTypes limits the pull to these partitions. Empty means all of
	// the facet's partitions.
	GachaTypes []string

	// Cursors maps gacha type to the newest record id already known to the
	// caller. A partition's fetch stops as soon as it reaches its cursor,
	// so only records newer than it come back. Ignored under FullResync.
	Cursors map[string]string

	// FullResync refetches every partition from the newest record down to
	// the very first draw, then reconciles the store against the result.
	FullResync bool

	// SaveToStore persists fetched records. Without it the pull only
	// reports what it saw and reconciliation is skipped.
	SaveToStore bool

	// PageDelay is the pause between consecutive page requests.
	PageDelay time.Duration
}

// Result summarizes a completed pull.
type Result struct {
	// UID is the account the records belong to, taken from the response
	// when Options.UID was empty.
	UID string `json:"uid"`
	// Fetched counts records received from the remote API.
	Fetched int `json:"fetched"`
	// Inserted counts records newly written to the store.
	Inserted int64 `json:"inserted"`
	// Deleted counts stale records removed during full-resync
	// reconciliation.
	Deleted int64 `json:"deleted"`
	// Net is Inserted minus Deleted: the change in stored record count.
	Net int64 `json:"net"`
	// PerType breaks Fetched down by partition.
	PerType map[string]int `json:"per_type"`
}

// Orchestrator coordinates fetching, progress delivery and persistence for
// history pulls. Safe for concurrent use; each PullAll call is independent.
type Orchestrator struct {
	fetcher Fetcher
	store   core.RecordStore // nil when running without persistence
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	// PageDelay overrides defaultPageDelay for pulls that leave
	// Options.PageDelay unset.
	PageDelay time.Duration
}

// New creates an Orchestrator. store may be nil for fetch-only operation.
func New(fetcher Fetcher, store core.RecordStore) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// PullAll fetches the account's history across all requested partitions,
// emitting one progress event per page plus a final done event to sink.
// Partitions run sequentially; within a partition pages are fetched strictly
// oldest-cursor-forward, so a retry after failure never skips records.
func (o *Orchestrator) PullAll(ctx context.Context, opts Options, sink core.ProgressSink) (*Result, error) {
	if !opts.Facet.Valid() {
		return nil, core.NewIllegalURLError("facet is not set")
	}
	gachaTypes := opts.GachaTypes
	if len(gachaTypes) == 0 {
		gachaTypes = opts.Facet.Partitions()
	}
	cursors := opts.Cursors
	if opts.FullResync {
		cursors = nil
	}
	pageDelay := opts.PageDelay
	if pageDelay <= 0 {
		pageDelay = o.PageDelay
	}
	if pageDelay <= 0 {
		pageDelay = defaultPageDelay
	}

	start := o.now()
	defer func() {
		observability.PullDuration.Observe(o.now().Sub(start).Seconds())
	}()

	// Progress events go through a buffered channel drained by a forwarder
	// goroutine, so a slow sink back-pressures the pull instead of racing
	// it or dropping events.
	events := make(chan core.Progress, progressBufferSize)
	var forwarder sync.WaitGroup
	if sink != nil {
		forwarder.Add(1)
		go func() {
			defer forwarder.Done()
			for ev := range events {
				sink.Emit(ev)
			}
		}()
	}
	emit := func(ev core.Progress) {
		if sink == nil {
			return
		}
		ev.Channel = opts.Channel
		ev.Facet = opts.Facet
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	finish := func() {
		close(events)
		forwarder.Wait()
	}

	result := &Result{UID: opts.UID, PerType: make(map[string]int, len(gachaTypes))}
	fetched := make(map[string][]core.Record, len(gachaTypes))

	for _, gachaType := range gachaTypes {
		records, err := o.pullPartition(ctx, opts, gachaType, cursors[gachaType], pageDelay, result, emit)
		if err != nil {
			finish()
			return nil, err
		}
		fetched[gachaType] = records
		result.PerType[gachaType] = len(records)
		result.Fetched += len(records)
		if result.UID == "" && len(records) > 0 {
			result.UID = records[0].UID
		}
	}

	if err := o.reconcile(ctx, opts, result, fetched); err != nil {
		finish()
		return nil, err
	}

	emit(core.Progress{UID: result.UID, Done: true, Total: result.Fetched})
	finish()

	slog.Info("pull complete",
		"facet", opts.Facet,
		"uid", result.UID,
		"fetched", result.Fetched,
		"inserted", result.Inserted,
		"deleted", result.Deleted,
	)
	return result, nil
}

// pullPartition fetches one partition newest-first until the remote history
// is exhausted, the caller's cursor is reached, or the context is cancelled.
func (o *Orchestrator) pullPartition(ctx context.Context, opts Options, gachaType, cursor string, pageDelay time.Duration, result *Result, emit func(core.Progress)) ([]core.Record, error) {
	var records []core.Record
	endID := "0"
	for page := 1; ; page++ {
		if page > 1 {
			if err := o.sleep(ctx, pageDelay); err != nil {
				return nil, err
			}
		}

		batch, err := o.fetcher.FetchPage(ctx, opts.Facet, opts.GachaURL, gachaType, endID)
		if err != nil {
			return nil, err
		}
		observability.PagesFetched.WithLabelValues(gachaType).Inc()

		reachedCursor := false
		if cursor != "" {
			// Records arrive newest first; everything at or below the
			// cursor is already known, so trim and stop the partition.
			for i, r := range batch {
				if !idNewerThan(r.ID, cursor) {
					batch = batch[:i]
					reachedCursor = true
					break
				}
			}
		}
		records = append(records, batch...)

		emit(core.Progress{
			UID:       firstUID(opts.UID, batch),
			GachaType: gachaType,
			Page:      page,
			Fetched:   len(batch),
		})

		if reachedCursor || len(batch) < gachaclient.PageSize {
			return records, nil
		}
		endID = batch[len(batch)-1].ID
	}
}

// reconcile persists the fetched records. Under full resync it first removes
// stored records newer than the oldest record fetched for each gacha type, so
// records the remote side has since purged or rewritten do not linger.
func (o *Orchestrator) reconcile(ctx context.Context, opts Options, result *Result, fetched map[string][]core.Record) error {
	if !opts.SaveToStore || o.store == nil {
		return nil
	}

	if opts.FullResync {
		for _, records := range fetched {
			// A partition can return multiple gacha types (Genshin's
			// chronicled wish shares partition 301 under type 400), so
			// group by the record's own type before deleting.
			oldest := make(map[string]string)
			for _, r := range records {
				if cur, ok := oldest[r.GachaType]; !ok || idNewerThan(cur, r.ID) {
					oldest[r.GachaType] = r.ID
				}
			}
			for gachaType, oldestID := range oldest {
				deleted, err := o.store.DeleteNewerThan(ctx, opts.Facet, result.UID, gachaType, oldestID)
				if err != nil {
					return err
				}
				result.Deleted += deleted
			}
		}
	}

	for _, records := range fetched {
		if len(records) == 0 {
			continue
		}
		inserted, err := o.store.Save(ctx, opts.Facet, records)
		if err != nil {
			return err
		}
		result.Inserted += inserted
	}
	result.Net = result.Inserted - result.Deleted
	return nil
}

// idNewerThan reports whether record id a is strictly newer than b. Record
// ids are fixed-width decimal strings of equal length within an account, so
// length-then-lexicographic order matches numeric order.
func idNewerThan(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func firstUID(fallback string, batch []core.Record) string {
	if len(batch) > 0 {
		return batch[0].UID
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
