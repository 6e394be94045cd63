package memory

import (
	"context"
	"sort"
	"sync"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// PanelStore is an in-memory implementation of storage.PanelStore.
type PanelStore struct {
	mu   sync.RWMutex
	data map[string]map[panelKey]domain.Observation // dataset -> (unit, period) -> row
}

type panelKey struct {
	unitID string
	period int
}

// NewPanelStore creates a new in-memory panel store.
func NewPanelStore() *PanelStore {
	return &PanelStore{
		data: make(map[string]map[panelKey]domain.Observation),
	}
}

// InsertBatch adds a dataset's rows. Returns ErrDuplicateKey if any
// (dataset, unit_id, time_period) already exists.
func (s *PanelStore) InsertBatch(_ context.Context, dataset string, rows []domain.Observation) error {
	if dataset == "" {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[dataset]

	// First pass: check for duplicates (existing + intra-batch)
	batchKeys := make(map[panelKey]struct{}, len(rows))
	for i := range rows {
		if rows[i].Validate() != nil {
			return storage.ErrInvalidInput
		}
		key := panelKey{unitID: rows[i].UnitID, period: rows[i].Period}

		if _, exists := existing[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	if existing == nil {
		existing = make(map[panelKey]domain.Observation, len(rows))
		s.data[dataset] = existing
	}
	for i := range rows {
		key := panelKey{unitID: rows[i].UnitID, period: rows[i].Period}
		existing[key] = copyObservation(rows[i])
	}

	return nil
}

// GetByDataset retrieves all rows of a dataset, ordered by unit_id ASC then
// time_period ASC. Returns ErrNotFound if the dataset has no rows.
func (s *PanelStore) GetByDataset(_ context.Context, dataset string) ([]domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, exists := s.data[dataset]
	if !exists || len(rows) == 0 {
		return nil, storage.ErrNotFound
	}

	result := make([]domain.Observation, 0, len(rows))
	for _, o := range rows {
		result = append(result, copyObservation(o))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UnitID != result[j].UnitID {
			return result[i].UnitID < result[j].UnitID
		}
		return result[i].Period < result[j].Period
	})

	return result, nil
}

// ListDatasets returns all dataset names in lexical order.
func (s *PanelStore) ListDatasets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// copyObservation clones a row including its covariate slice.
func copyObservation(o domain.Observation) domain.Observation {
	c := o
	if o.Covariates != nil {
		c.Covariates = make([]float64, len(o.Covariates))
		copy(c.Covariates, o.Covariates)
	}
	return c
}

var _ storage.PanelStore = (*PanelStore)(nil)
