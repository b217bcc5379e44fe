package store

import (
	"context"
	"sync"
)

// MemoryStore keeps quotes in process memory. Used when no Redis URL is
// configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // project → id → record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.records[rec.ProjectID]
	if p == nil {
		p = make(map[string]Record)
		s.records[rec.ProjectID] = p
	}
	p[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, projectID, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[projectID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) List(_ context.Context, projectID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.records[projectID]))
	for _, rec := range s.records[projectID] {
		out = append(out, rec.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[projectID][id]; !ok {
		return ErrNotFound
	}
	delete(s.records[projectID], id)
	return nil
}

func (s *MemoryStore) FindByHash(_ context.Context, projectID, hash string) (string, bool, error) {
	if hash == "" {
		return "", false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.records[projectID] {
		if rec.ContentHash == hash {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
