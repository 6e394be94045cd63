package simulation

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"panel-did-lab/internal/storage"
	"panel-did-lab/internal/storage/memory"
)

func testRunner(store storage.PanelStore) *Runner {
	return NewRunner(RunnerOptions{
		PanelStore: store,
		Logger:     log.New(io.Discard, "", 0),
	})
}

func TestRunner_PersistsGeneratedPanel(t *testing.T) {
	store := memory.NewPanelStore()
	runner := testRunner(store)
	ctx := context.Background()

	sc := noiselessScenario()
	rows, err := runner.Run(ctx, sc, "sim-smoke")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rows) != sc.NumUnits()*len(sc.Periods) {
		t.Fatalf("Row count mismatch: got %d", len(rows))
	}

	stored, err := store.GetByDataset(ctx, "sim-smoke")
	if err != nil {
		t.Fatalf("GetByDataset failed: %v", err)
	}
	if len(stored) != len(rows) {
		t.Errorf("Stored %d rows, want %d", len(stored), len(rows))
	}
}

func TestRunner_DatasetDefaultsToScenarioName(t *testing.T) {
	store := memory.NewPanelStore()
	runner := testRunner(store)
	ctx := context.Background()

	if _, err := runner.Run(ctx, noiselessScenario(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.GetByDataset(ctx, "noiseless"); err != nil {
		t.Errorf("Expected dataset under scenario name, got %v", err)
	}
}

func TestRunner_RerunIsDuplicate(t *testing.T) {
	store := memory.NewPanelStore()
	runner := testRunner(store)
	ctx := context.Background()

	sc := noiselessScenario()
	if _, err := runner.Run(ctx, sc, "sim-smoke"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	_, err := runner.Run(ctx, sc, "sim-smoke")
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestRunner_NilStoreGeneratesOnly(t *testing.T) {
	runner := testRunner(nil)

	rows, err := runner.Run(context.Background(), noiselessScenario(), "unused")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rows) == 0 {
		t.Error("Expected generated rows")
	}
}

func TestRunner_InvalidScenario(t *testing.T) {
	runner := testRunner(memory.NewPanelStore())

	_, err := runner.Run(context.Background(), Scenario{}, "ds")
	if !errors.Is(err, ErrNoUnits) {
		t.Errorf("Expected ErrNoUnits, got %v", err)
	}
}
