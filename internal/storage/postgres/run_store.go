package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a completed run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" || r.Dataset == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO estimation_runs (
			run_id, dataset, estimator_id,
			anticipation, drop_last_period, control_group, strict_cells, strict_balance,
			planned_cells, computed_cells, skipped_cells, dropped_units,
			bootstrap_iterations, bootstrap_failed, bootstrap_seed,
			started_at, completed_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Dataset, r.EstimatorID,
		r.Anticipation, r.DropLast, r.ControlGroup, r.StrictCells, r.StrictBalance,
		r.PlannedCells, r.ComputedCells, r.SkippedCells, r.DroppedUnits,
		r.BootstrapIterations, r.BootstrapFailed, r.BootstrapSeed,
		r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	query := `
		SELECT
			run_id, dataset, estimator_id,
			anticipation, drop_last_period, control_group, strict_cells, strict_balance,
			planned_cells, computed_cells, skipped_cells, dropped_units,
			bootstrap_iterations, bootstrap_failed, bootstrap_seed,
			started_at, completed_at
		FROM estimation_runs
		WHERE run_id = $1
	`

	row := s.pool.QueryRow(ctx, query, runID)
	r, err := scanRunRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run record by id: %w", err)
	}
	return r, nil
}

// GetByDataset retrieves all runs over a dataset, newest first.
func (s *RunStore) GetByDataset(ctx context.Context, dataset string) ([]*domain.RunRecord, error) {
	query := `
		SELECT
			run_id, dataset, estimator_id,
			anticipation, drop_last_period, control_group, strict_cells, strict_balance,
			planned_cells, computed_cells, skipped_cells, dropped_units,
			bootstrap_iterations, bootstrap_failed, bootstrap_seed,
			started_at, completed_at
		FROM estimation_runs
		WHERE dataset = $1
		ORDER BY completed_at DESC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("get run records by dataset: %w", err)
	}
	defer rows.Close()

	return scanRunRecords(rows)
}

// GetRecent retrieves up to limit runs across all datasets, newest first.
func (s *RunStore) GetRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT
			run_id, dataset, estimator_id,
			anticipation, drop_last_period, control_group, strict_cells, strict_balance,
			planned_cells, computed_cells, skipped_cells, dropped_units,
			bootstrap_iterations, bootstrap_failed, bootstrap_seed,
			started_at, completed_at
		FROM estimation_runs
		ORDER BY completed_at DESC, run_id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent run records: %w", err)
	}
	defer rows.Close()

	return scanRunRecords(rows)
}

// scanRunRecord scans a single run record from a row.
func scanRunRecord(row pgx.Row) (*domain.RunRecord, error) {
	var r domain.RunRecord
	err := row.Scan(
		&r.RunID, &r.Dataset, &r.EstimatorID,
		&r.Anticipation, &r.DropLast, &r.ControlGroup, &r.StrictCells, &r.StrictBalance,
		&r.PlannedCells, &r.ComputedCells, &r.SkippedCells, &r.DroppedUnits,
		&r.BootstrapIterations, &r.BootstrapFailed, &r.BootstrapSeed,
		&r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// scanRunRecords scans all run records from a result set.
func scanRunRecords(rows pgx.Rows) ([]*domain.RunRecord, error) {
	var result []*domain.RunRecord
	for rows.Next() {
		r, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run records: %w", err)
	}
	return result, nil
}
