package postgres

import (
	"context"
	"fmt"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// GroupTimeStore implements storage.GroupTimeStore using PostgreSQL.
type GroupTimeStore struct {
	pool *Pool
}

// NewGroupTimeStore creates a new GroupTimeStore.
func NewGroupTimeStore(pool *Pool) *GroupTimeStore {
	return &GroupTimeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.GroupTimeStore = (*GroupTimeStore)(nil)

// InsertBulk adds a run's cell estimates atomically. Returns ErrDuplicateKey
// if the run already has rows or the batch repeats a (group, period) cell.
func (s *GroupTimeStore) InsertBulk(ctx context.Context, runID string, effects []domain.GroupTimeEffect) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(effects) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_time_effects WHERE run_id = $1)`, runID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO group_time_effects (
			run_id, treat_group, time_period, base_period, att,
			treated_units, comparison_units, dropped_units
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for i := range effects {
		e := &effects[i]
		_, err := tx.Exec(ctx, query,
			runID, e.Group, e.Period, e.BasePeriod, e.ATT,
			e.TreatedUnits, e.ComparisonUnits, e.DroppedUnits,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert group-time effect in batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByRunID retrieves a run's cells, ordered by group ASC then period ASC.
// Returns ErrNotFound if the run has no rows.
func (s *GroupTimeStore) GetByRunID(ctx context.Context, runID string) ([]domain.GroupTimeEffect, error) {
	query := `
		SELECT treat_group, time_period, base_period, att,
			treated_units, comparison_units, dropped_units
		FROM group_time_effects
		WHERE run_id = $1
		ORDER BY treat_group ASC, time_period ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get group-time effects by run id: %w", err)
	}
	defer rows.Close()

	var result []domain.GroupTimeEffect
	for rows.Next() {
		var e domain.GroupTimeEffect
		err := rows.Scan(
			&e.Group, &e.Period, &e.BasePeriod, &e.ATT,
			&e.TreatedUnits, &e.ComparisonUnits, &e.DroppedUnits,
		)
		if err != nil {
			return nil, fmt.Errorf("scan group-time effect: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group-time effects: %w", err)
	}

	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result, nil
}
