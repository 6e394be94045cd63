package memory

import (
	"context"
	"sort"
	"sync"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// GroupTimeStore is an in-memory implementation of storage.GroupTimeStore.
type GroupTimeStore struct {
	mu   sync.RWMutex
	data map[string][]domain.GroupTimeEffect // keyed by run_id
}

// NewGroupTimeStore creates a new in-memory group-time effect store.
func NewGroupTimeStore() *GroupTimeStore {
	return &GroupTimeStore{
		data: make(map[string][]domain.GroupTimeEffect),
	}
}

// InsertBulk adds a run's cell estimates. Fails the entire batch if the
// run already has rows or the batch repeats a (group, period) cell.
func (s *GroupTimeStore) InsertBulk(_ context.Context, runID string, effects []domain.GroupTimeEffect) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(effects) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[runID]; exists {
		return storage.ErrDuplicateKey
	}

	seen := make(map[[2]int]struct{}, len(effects))
	for _, e := range effects {
		key := [2]int{e.Group, e.Period}
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	rows := make([]domain.GroupTimeEffect, len(effects))
	copy(rows, effects)
	s.data[runID] = rows
	return nil
}

// GetByRunID retrieves a run's cells, ordered by group ASC then period ASC.
// Returns ErrNotFound if the run has no rows.
func (s *GroupTimeStore) GetByRunID(_ context.Context, runID string) ([]domain.GroupTimeEffect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	result := make([]domain.GroupTimeEffect, len(rows))
	copy(result, rows)

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Period < result[j].Period
	})

	return result, nil
}

var _ storage.GroupTimeStore = (*GroupTimeStore)(nil)
