package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/msimon/polstore/policy"
)

// MemoryStore is a mutex-guarded in-memory Store, keyed by policy ID.
// Suitable for tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Insert persists a new record for the document.
func (s *MemoryStore) Insert(ctx context.Context, doc *policy.Document) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.Policy.PolicyID
	if _, ok := s.records[id]; ok {
		return nil, ErrConflict
	}

	now := s.now()
	rec := &Record{
		Document:  *doc,
		CreatedAt: now,
		UpdatedAt: now,
		Revision:  1,
	}
	s.records[id] = rec

	cp := *rec
	return &cp, nil
}

// FindOne returns the first record matching the filter.
func (s *MemoryStore) FindOne(ctx context.Context, f Filter) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Direct lookup when the filter carries a policy ID.
	if f.PolicyID != "" {
		rec, ok := s.records[f.PolicyID]
		if !ok || !f.Matches(rec) {
			return nil, ErrNotFound
		}
		cp := *rec
		return &cp, nil
	}

	for _, id := range s.sortedIDs() {
		if rec := s.records[id]; f.Matches(rec) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// FindMany returns all records matching the filter, ordered by policy ID.
func (s *MemoryStore) FindMany(ctx context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, id := range s.sortedIDs() {
		if rec := s.records[id]; f.Matches(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// FindOneAndUpdate atomically applies the patch to the first matching record.
func (s *MemoryStore) FindOneAndUpdate(ctx context.Context, f Filter, patch *policy.Patch) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec *Record
	if f.PolicyID != "" {
		r, ok := s.records[f.PolicyID]
		if ok && f.Matches(r) {
			rec = r
		}
	} else {
		for _, id := range s.sortedIDs() {
			if r := s.records[id]; f.Matches(r) {
				rec = r
				break
			}
		}
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	merged := patch.Apply(&rec.Document)
	rec.Document = *merged
	rec.UpdatedAt = s.now()
	rec.Revision++

	cp := *rec
	return &cp, nil
}

// sortedIDs returns all policy IDs in order. Callers must hold the lock.
func (s *MemoryStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
