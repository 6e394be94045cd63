package postgres

import (
	"context"
	"fmt"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// PanelStore implements storage.PanelStore using PostgreSQL.
type PanelStore struct {
	pool *Pool
}

// NewPanelStore creates a new PanelStore.
func NewPanelStore(pool *Pool) *PanelStore {
	return &PanelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PanelStore = (*PanelStore)(nil)

// InsertBatch adds a dataset's rows atomically. Returns ErrDuplicateKey if
// any (dataset, unit_id, time_period) already exists.
func (s *PanelStore) InsertBatch(ctx context.Context, dataset string, rows []domain.Observation) error {
	if dataset == "" {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO panel_observations (
			dataset, unit_id, time_period, treat_group, outcome, covariates
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	for i := range rows {
		if rows[i].Validate() != nil {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			dataset, rows[i].UnitID, rows[i].Period, rows[i].Group, rows[i].Outcome, rows[i].Covariates,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert observation in batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByDataset retrieves all rows of a dataset, ordered by unit_id ASC then
// time_period ASC. Returns ErrNotFound if the dataset has no rows.
func (s *PanelStore) GetByDataset(ctx context.Context, dataset string) ([]domain.Observation, error) {
	query := `
		SELECT unit_id, time_period, treat_group, outcome, covariates
		FROM panel_observations
		WHERE dataset = $1
		ORDER BY unit_id ASC, time_period ASC
	`

	rows, err := s.pool.Query(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("get observations by dataset: %w", err)
	}
	defer rows.Close()

	var result []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.UnitID, &o.Period, &o.Group, &o.Outcome, &o.Covariates); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}

	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// ListDatasets returns all dataset names in lexical order.
func (s *PanelStore) ListDatasets(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT dataset
		FROM panel_observations
		ORDER BY dataset ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan dataset name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset names: %w", err)
	}

	return names, nil
}
