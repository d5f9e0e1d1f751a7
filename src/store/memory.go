package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store.
// Useful for testing and when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	builds map[string]BuildRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		builds: make(map[string]BuildRecord),
	}
}

// SaveBuild stores a copy of rec.
func (s *MemoryStore) SaveBuild(ctx context.Context, rec *BuildRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("build record has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.builds[rec.ID] = *rec
	return nil
}

// GetBuild returns a copy of the record for id.
func (s *MemoryStore) GetBuild(ctx context.Context, id string) (*BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.builds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &rec, nil
}

// ListBuilds returns matching records, newest first.
func (s *MemoryStore) ListBuilds(ctx context.Context, repository string, limit int) ([]BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]BuildRecord, 0, len(s.builds))
	for _, rec := range s.builds {
		if repository == "" || rec.Repository == repository {
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}
