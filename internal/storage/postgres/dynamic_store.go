package postgres

import (
	"context"
	"fmt"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// DynamicStore implements storage.DynamicStore using PostgreSQL.
type DynamicStore struct {
	pool *Pool
}

// NewDynamicStore creates a new DynamicStore.
func NewDynamicStore(pool *Pool) *DynamicStore {
	return &DynamicStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DynamicStore = (*DynamicStore)(nil)

// InsertBulk adds a run's event-study estimates atomically. Returns
// ErrDuplicateKey if the run already has rows or the batch repeats an
// event time.
func (s *DynamicStore) InsertBulk(ctx context.Context, runID string, effects []domain.DynamicEffect) error {
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
		`SELECT EXISTS (SELECT 1 FROM dynamic_effects WHERE run_id = $1)`, runID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO dynamic_effects (
			run_id, event_time, att, group_count, se, draws
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	for i := range effects {
		e := &effects[i]
		_, err := tx.Exec(ctx, query,
			runID, e.EventTime, e.ATT, e.Groups, e.SE, e.Draws,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert dynamic effect in batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByRunID retrieves a run's event study, ordered by event_time ASC.
// Returns ErrNotFound if the run has no rows.
func (s *DynamicStore) GetByRunID(ctx context.Context, runID string) ([]domain.DynamicEffect, error) {
	query := `
		SELECT event_time, att, group_count, se, draws
		FROM dynamic_effects
		WHERE run_id = $1
		ORDER BY event_time ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get dynamic effects by run id: %w", err)
	}
	defer rows.Close()

	var result []domain.DynamicEffect
	for rows.Next() {
		var e domain.DynamicEffect
		if err := rows.Scan(&e.EventTime, &e.ATT, &e.Groups, &e.SE, &e.Draws); err != nil {
			return nil, fmt.Errorf("scan dynamic effect: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dynamic effects: %w", err)
	}

	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result, nil
}
