package memory

import (
	"context"
	"sort"
	"sync"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunRecord // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.RunRecord),
	}
}

// Insert adds a completed run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" || r.Dataset == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.RunID] = &copy
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// GetByDataset retrieves all runs over a dataset, newest first.
func (s *RunStore) GetByDataset(_ context.Context, dataset string) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunRecord
	for _, r := range s.data {
		if r.Dataset == dataset {
			copy := *r
			result = append(result, &copy)
		}
	}

	sortRunsNewestFirst(result)
	return result, nil
}

// GetRecent retrieves up to limit runs across all datasets, newest first.
func (s *RunStore) GetRecent(_ context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RunRecord, 0, len(s.data))
	for _, r := range s.data {
		copy := *r
		result = append(result, &copy)
	}

	sortRunsNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// sortRunsNewestFirst orders by completion time descending, run_id as the
// tiebreak so equal timestamps still order deterministically.
func sortRunsNewestFirst(runs []*domain.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CompletedAt != runs[j].CompletedAt {
			return runs[i].CompletedAt > runs[j].CompletedAt
		}
		return runs[i].RunID < runs[j].RunID
	})
}

var _ storage.RunStore = (*RunStore)(nil)
