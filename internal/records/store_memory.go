package records

import (
	"context"
	"sort"
	"sync"

	"gachavault/internal/core"
)

// MemoryStore keeps records in process memory. Used by tests and by pulls
// run without persistence configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]core.Record // keyed facet|uid|id
	facet map[string]core.Facet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]core.Record),
		facet: make(map[string]core.Facet),
	}
}

// Save inserts records, skipping ids already present.
func (s *MemoryStore) Save(_ context.Context, facet core.Facet, records []core.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, r := range records {
		key := docID(facet, r.UID, r.ID)
		if _, exists := s.items[key]; exists {
			continue
		}
		s.items[key] = r
		s.facet[key] = facet
		inserted++
	}
	return inserted, nil
}

// Find returns an account's records ordered by id ascending.
func (s *MemoryStore) Find(_ context.Context, facet core.Facet, uid string, filter core.FindFilter) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []core.Record
	for key, r := range s.items {
		if s.facet[key] != facet || r.UID != uid {
			continue
		}
		if filter.GachaType != "" && r.GachaType != filter.GachaType {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteNewerThan removes records of one gacha type with id > endID.
func (s *MemoryStore) DeleteNewerThan(_ context.Context, facet core.Facet, uid, gachaType, endID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, r := range s.items {
		if s.facet[key] != facet || r.UID != uid || r.GachaType != gachaType {
			continue
		}
		if r.ID > endID {
			delete(s.items, key)
			delete(s.facet, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
