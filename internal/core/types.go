package core

import (
	"context"
	"time"
)

// GachaURL is one authorization URL recovered from the game client's browser
// cache. Immutable value type; copy freely.
type GachaURL struct {
	// Addr is the raw cache slot address the URL was recovered from. It
	// keys the validation cache together with facet and uid.
	Addr uint32 `json:"addr"`
	// CreationTime is when the game client cached the request. The remote
	// authkey embedded in the URL expires one day after this.
	CreationTime time.Time `json:"creation_time"`
	// Value is the full request URL including the authkey query
	// parameters.
	Value string `json:"value"`
}

// Fresh reports whether the URL's authkey is still within its one-day
// validity window at the given instant.
func (u GachaURL) Fresh(now time.Time) bool {
	return u.CreationTime.Add(24 * time.Hour).After(now)
}

// Record is one gacha draw returned by the remote history API. The field set
// is the union across facets; GachaID is only populated by Star Rail and
// ItemID is empty for older Genshin records.
type Record struct {
	ID        string `json:"id"`
	UID       string `json:"uid"`
	GachaType string `json:"gacha_type"`
	GachaID   string `json:"gacha_id,omitempty"`
	ItemID    string `json:"item_id"`
	Count     string `json:"count"`
	Time      string `json:"time"`
	Name      string `json:"name"`
	Lang      string `json:"lang"`
	ItemType  string `json:"item_type"`
	RankType  string `json:"rank_type"`
}

// FindFilter narrows a record query. Zero values mean no constraint.
type FindFilter struct {
	GachaType string
	Limit     int
}

// RecordStore is the persistence collaborator the fetch pipeline hands
// records to. Implementations must be safe for concurrent use.
type RecordStore interface {
	// Save inserts records, silently skipping ids already present, and
	// returns the number actually inserted.
	Save(ctx context.Context, facet Facet, records []Record) (int64, error)

	// Find returns an account's records ordered by id ascending.
	Find(ctx context.Context, facet Facet, uid string, filter FindFilter) ([]Record, error)

	// DeleteNewerThan removes records of one gacha type whose id is
	// strictly greater than endID and returns the number deleted.
	DeleteNewerThan(ctx context.Context, facet Facet, uid, gachaType, endID string) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// Progress is one incremental fetch event, emitted per fetched page.
type Progress struct {
	// Channel is the opaque identifier the caller supplied to correlate
	// events with its own request.
	Channel   string `json:"channel"`
	Facet     Facet  `json:"facet"`
	UID       string `json:"uid"`
	GachaType string `json:"gacha_type"`
	Page      int    `json:"page"`
	Fetched   int    `json:"fetched"`
	// Done marks the final event of a pull; Total then carries the
	// overall record count.
	Done  bool `json:"done"`
	Total int  `json:"total,omitempty"`
}

// ProgressSink receives fetch progress events. Emit must not block for long;
// the orchestrator forwards events from a buffered channel and drops nothing,
// so a slow sink slows the pull down rather than losing events.
type ProgressSink interface {
	Emit(event Progress)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(event Progress)

// Emit calls f(event).
func (f ProgressFunc) Emit(event Progress) { f(event) }
