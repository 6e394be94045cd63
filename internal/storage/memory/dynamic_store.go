package memory

import (
	"context"
	"sort"
	"sync"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// DynamicStore is an in-memory implementation of storage.DynamicStore.
type DynamicStore struct {
	mu   sync.RWMutex
	data map[string][]domain.DynamicEffect // keyed by run_id
}

// NewDynamicStore creates a new in-memory dynamic effect store.
func NewDynamicStore() *DynamicStore {
	return &DynamicStore{
		data: make(map[string][]domain.DynamicEffect),
	}
}

// InsertBulk adds a run's event-study estimates. Fails the entire batch if
// the run already has rows or the batch repeats an event time.
func (s *DynamicStore) InsertBulk(_ context.Context, runID string, effects []domain.DynamicEffect) error {
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

	seen := make(map[int]struct{}, len(effects))
	for _, e := range effects {
		if _, exists := seen[e.EventTime]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.EventTime] = struct{}{}
	}

	rows := make([]domain.DynamicEffect, 0, len(effects))
	for _, e := range effects {
		rows = append(rows, copyDynamicEffect(e))
	}
	s.data[runID] = rows
	return nil
}

// GetByRunID retrieves a run's event study, ordered by event_time ASC.
// Returns ErrNotFound if the run has no rows.
func (s *DynamicStore) GetByRunID(_ context.Context, runID string) ([]domain.DynamicEffect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	result := make([]domain.DynamicEffect, 0, len(rows))
	for _, e := range rows {
		result = append(result, copyDynamicEffect(e))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EventTime < result[j].EventTime
	})

	return result, nil
}

// copyDynamicEffect clones a row including its standard error pointer.
func copyDynamicEffect(e domain.DynamicEffect) domain.DynamicEffect {
	c := e
	if e.SE != nil {
		se := *e.SE
		c.SE = &se
	}
	return c
}

var _ storage.DynamicStore = (*DynamicStore)(nil)
