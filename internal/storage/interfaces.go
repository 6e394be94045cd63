package storage

import (
	"context"

	"panel-did-lab/internal/domain"
)

// PanelStore provides access to panel_observations storage.
type PanelStore interface {
	// InsertBatch adds a dataset's rows. Returns ErrDuplicateKey if any
	// (dataset, unit_id, time_period) already exists.
	InsertBatch(ctx context.Context, dataset string, rows []domain.Observation) error

	// GetByDataset retrieves all rows of a dataset, ordered by unit_id ASC
	// then time_period ASC. Returns ErrNotFound if the dataset has no rows.
	GetByDataset(ctx context.Context, dataset string) ([]domain.Observation, error)

	// ListDatasets returns all dataset names in lexical order.
	ListDatasets(ctx context.Context) ([]string, error)
}

// RunStore provides access to estimation_runs storage.
type RunStore interface {
	// Insert adds a completed run. Returns ErrDuplicateKey if run_id exists;
	// identical inputs hash to identical run IDs, so a duplicate means the
	// run is already recorded.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunRecord, error)

	// GetByDataset retrieves all runs over a dataset, newest first.
	GetByDataset(ctx context.Context, dataset string) ([]*domain.RunRecord, error)

	// GetRecent retrieves up to limit runs across all datasets, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error)
}

// GroupTimeStore provides access to group_time_effects storage.
type GroupTimeStore interface {
	// InsertBulk adds a run's cell estimates. Fails the entire batch if the
	// run already has rows.
	InsertBulk(ctx context.Context, runID string, effects []domain.GroupTimeEffect) error

	// GetByRunID retrieves a run's cells, ordered by group ASC then period ASC.
	// Returns ErrNotFound if the run has no rows.
	GetByRunID(ctx context.Context, runID string) ([]domain.GroupTimeEffect, error)
}

// DynamicStore provides access to dynamic_effects storage.
type DynamicStore interface {
	// InsertBulk adds a run's event-study estimates. Fails the entire batch
	// if the run already has rows.
	InsertBulk(ctx context.Context, runID string, effects []domain.DynamicEffect) error

	// GetByRunID retrieves a run's event study, ordered by event_time ASC.
	// Returns ErrNotFound if the run has no rows.
	GetByRunID(ctx context.Context, runID string) ([]domain.DynamicEffect, error)
}
