package memory

import (
	"context"
	"errors"
	"testing"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

func TestRunStore_InsertAndGet(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.RunRecord{
		RunID:         "run_abc",
		Dataset:       "ds1",
		EstimatorID:   "DIFF_IN_MEANS",
		Anticipation:  1,
		DropLast:      true,
		ControlGroup:  domain.ControlNeverTreated,
		PlannedCells:  8,
		ComputedCells: 6,
		SkippedCells:  2,
		CompletedAt:   2000,
	}

	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "run_abc")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ComputedCells != 6 {
		t.Errorf("ComputedCells mismatch: got %d, want 6", got.ComputedCells)
	}
	if got.ControlGroup != domain.ControlNeverTreated {
		t.Errorf("ControlGroup mismatch: got %s", got.ControlGroup)
	}
}

func TestRunStore_DuplicateKey(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.RunRecord{RunID: "run_abc", Dataset: "ds1"}
	if err := store.Insert(ctx, run); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, run)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestRunStore_NotFound(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	_, err := store.GetByID(ctx, "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunStore_GetByDataset(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	runs := []*domain.RunRecord{
		{RunID: "run_a", Dataset: "ds1", CompletedAt: 1000},
		{RunID: "run_b", Dataset: "ds1", CompletedAt: 3000},
		{RunID: "run_c", Dataset: "ds2", CompletedAt: 2000},
	}
	for _, r := range runs {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %s failed: %v", r.RunID, err)
		}
	}

	got, err := store.GetByDataset(ctx, "ds1")
	if err != nil {
		t.Fatalf("GetByDataset failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 runs for ds1, got %d", len(got))
	}
	if got[0].RunID != "run_b" || got[1].RunID != "run_a" {
		t.Errorf("Expected newest first [run_b run_a], got [%s %s]", got[0].RunID, got[1].RunID)
	}
}

func TestRunStore_GetRecent(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	for _, r := range []*domain.RunRecord{
		{RunID: "run_a", Dataset: "ds1", CompletedAt: 1000},
		{RunID: "run_b", Dataset: "ds2", CompletedAt: 3000},
		{RunID: "run_c", Dataset: "ds3", CompletedAt: 2000},
	} {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %s failed: %v", r.RunID, err)
		}
	}

	got, err := store.GetRecent(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(got))
	}
	if got[0].RunID != "run_b" || got[1].RunID != "run_c" {
		t.Errorf("Expected [run_b run_c], got [%s %s]", got[0].RunID, got[1].RunID)
	}

	if _, err := store.GetRecent(ctx, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Limit 0: expected ErrInvalidInput, got %v", err)
	}
}

func TestRunStore_InvalidInput(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	cases := []*domain.RunRecord{
		nil,
		{RunID: "", Dataset: "ds1"},
		{RunID: "run_a", Dataset: ""},
	}
	for _, r := range cases {
		if err := store.Insert(ctx, r); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", r, err)
		}
	}
}
