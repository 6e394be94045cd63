package clickhouse

import (
	"context"
	"fmt"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// DynamicStore implements storage.DynamicStore using ClickHouse.
type DynamicStore struct {
	conn *Conn
}

// NewDynamicStore creates a new DynamicStore.
func NewDynamicStore(conn *Conn) *DynamicStore {
	return &DynamicStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DynamicStore = (*DynamicStore)(nil)

// InsertBulk adds a run's event-study estimates. Fails the entire batch if
// the run already has rows. MergeTree does not enforce uniqueness, so the
// guard is an explicit existence check.
func (s *DynamicStore) InsertBulk(ctx context.Context, runID string, effects []domain.DynamicEffect) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(effects) == 0 {
		return nil
	}

	exists, err := s.exists(ctx, runID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	// Check for intra-batch duplicate event times
	seen := make(map[int]struct{}, len(effects))
	for _, e := range effects {
		if _, dup := seen[e.EventTime]; dup {
			return storage.ErrDuplicateKey
		}
		seen[e.EventTime] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO dynamic_effects (
			run_id, event_time, att, group_count, se, draws
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range effects {
		err = batch.Append(
			runID, int32(e.EventTime), e.ATT, uint32(e.Groups), e.SE, uint32(e.Draws),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRunID retrieves a run's event study, ordered by event_time ASC.
// Returns ErrNotFound if the run has no rows.
func (s *DynamicStore) GetByRunID(ctx context.Context, runID string) ([]domain.DynamicEffect, error) {
	query := `
		SELECT event_time, att, group_count, se, draws
		FROM dynamic_effects FINAL
		WHERE run_id = ?
		ORDER BY event_time ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run id: %w", err)
	}
	defer rows.Close()

	var result []domain.DynamicEffect
	for rows.Next() {
		var (
			eventTime     int32
			att           float64
			groups, draws uint32
			se            *float64
		)
		if err := rows.Scan(&eventTime, &att, &groups, &se, &draws); err != nil {
			return nil, fmt.Errorf("scan dynamic row: %w", err)
		}
		result = append(result, domain.DynamicEffect{
			EventTime: int(eventTime),
			ATT:       att,
			Groups:    int(groups),
			SE:        se,
			Draws:     int(draws),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dynamic rows: %w", err)
	}

	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// exists checks if any rows are stored for the run.
func (s *DynamicStore) exists(ctx context.Context, runID string) (bool, error) {
	query := `
		SELECT count(*) FROM dynamic_effects FINAL
		WHERE run_id = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, runID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
