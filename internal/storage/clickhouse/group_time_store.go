package clickhouse

import (
	"context"
	"fmt"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/idhash"
	"panel-did-lab/internal/storage"
)

// GroupTimeStore implements storage.GroupTimeStore using ClickHouse.
type GroupTimeStore struct {
	conn *Conn
}

// NewGroupTimeStore creates a new GroupTimeStore.
func NewGroupTimeStore(conn *Conn) *GroupTimeStore {
	return &GroupTimeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.GroupTimeStore = (*GroupTimeStore)(nil)

// InsertBulk adds a run's cell estimates. Fails the entire batch if the run
// already has rows. MergeTree does not enforce uniqueness, so the guard is
// an explicit existence check.
func (s *GroupTimeStore) InsertBulk(ctx context.Context, runID string, effects []domain.GroupTimeEffect) error {
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

	// Check for intra-batch duplicate cells
	seen := make(map[[2]int]struct{}, len(effects))
	for _, e := range effects {
		key := [2]int{e.Group, e.Period}
		if _, dup := seen[key]; dup {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO group_time_effects (
			run_id, cell_id, treat_group, time_period, base_period, att,
			treated_units, comparison_units, dropped_units
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range effects {
		err = batch.Append(
			runID, idhash.ComputeCellID(runID, e.Group, e.Period),
			int32(e.Group), int32(e.Period), int32(e.BasePeriod), e.ATT,
			uint32(e.TreatedUnits), uint32(e.ComparisonUnits), uint32(e.DroppedUnits),
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

// GetByRunID retrieves a run's cells, ordered by group ASC then period ASC.
// Returns ErrNotFound if the run has no rows.
func (s *GroupTimeStore) GetByRunID(ctx context.Context, runID string) ([]domain.GroupTimeEffect, error) {
	query := `
		SELECT treat_group, time_period, base_period, att,
			treated_units, comparison_units, dropped_units
		FROM group_time_effects FINAL
		WHERE run_id = ?
		ORDER BY treat_group ASC, time_period ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run id: %w", err)
	}
	defer rows.Close()

	var result []domain.GroupTimeEffect
	for rows.Next() {
		var (
			group, period, base int32
			att                 float64
			treated, comp, drop uint32
		)
		if err := rows.Scan(&group, &period, &base, &att, &treated, &comp, &drop); err != nil {
			return nil, fmt.Errorf("scan group-time row: %w", err)
		}
		result = append(result, domain.GroupTimeEffect{
			Group:           int(group),
			Period:          int(period),
			BasePeriod:      int(base),
			ATT:             att,
			TreatedUnits:    int(treated),
			ComparisonUnits: int(comp),
			DroppedUnits:    int(drop),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group-time rows: %w", err)
	}

	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// exists checks if any cells are stored for the run.
func (s *GroupTimeStore) exists(ctx context.Context, runID string) (bool, error) {
	query := `
		SELECT count(*) FROM group_time_effects FINAL
		WHERE run_id = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, runID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
