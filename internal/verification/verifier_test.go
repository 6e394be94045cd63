package verification

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"panel-did-lab/internal/att"
	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/pipeline"
	"panel-did-lab/internal/storage/memory"
)

func TestCompareGroupTimeEffects_ExactMatch(t *testing.T) {
	stored := []domain.GroupTimeEffect{
		{Group: 3, Period: 2, BasePeriod: 1, ATT: -0.1, TreatedUnits: 2, ComparisonUnits: 2},
		{Group: 3, Period: 3, BasePeriod: 2, ATT: 2.5, TreatedUnits: 2, ComparisonUnits: 2},
		{Group: 3, Period: 4, BasePeriod: 2, ATT: 3.0, TreatedUnits: 2, ComparisonUnits: 2, DroppedUnits: 1},
	}
	recomputed := []domain.GroupTimeEffect{
		{Group: 3, Period: 2, BasePeriod: 1, ATT: -0.1, TreatedUnits: 2, ComparisonUnits: 2},
		{Group: 3, Period: 3, BasePeriod: 2, ATT: 2.5, TreatedUnits: 2, ComparisonUnits: 2},
		{Group: 3, Period: 4, BasePeriod: 2, ATT: 3.0, TreatedUnits: 2, ComparisonUnits: 2, DroppedUnits: 1},
	}

	divergences := CompareGroupTimeEffects(stored, recomputed)

	if len(divergences) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(divergences), divergences)
	}
}

func TestCompareGroupTimeEffects_ATTDivergence(t *testing.T) {
	stored := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 2.5, TreatedUnits: 2, ComparisonUnits: 2},
	}
	recomputed := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 2.6, TreatedUnits: 2, ComparisonUnits: 2},
	}

	divergences := CompareGroupTimeEffects(stored, recomputed)

	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divergences))
	}

	if divergences[0].Field != "Cell(2,3).ATT" {
		t.Errorf("Expected Cell(2,3).ATT divergence, got %s", divergences[0].Field)
	}
}

func TestCompareGroupTimeEffects_MissingCell(t *testing.T) {
	stored := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 2.5},
		{Group: 2, Period: 4, BasePeriod: 1, ATT: 3.1},
	}
	recomputed := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 2.5},
	}

	divergences := CompareGroupTimeEffects(stored, recomputed)

	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divergences))
	}

	if divergences[0].Field != "Cell(2,4)" {
		t.Errorf("Expected Cell(2,4) divergence, got %s", divergences[0].Field)
	}

	if divergences[0].Actual != nil {
		t.Errorf("Expected nil actual for missing cell, got %v", divergences[0].Actual)
	}
}

func TestCompareGroupTimeEffects_ExtraCell(t *testing.T) {
	stored := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 2.5},
	}
	recomputed := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 2.5},
		{Group: 2, Period: 4, BasePeriod: 1, ATT: 3.1},
	}

	divergences := CompareGroupTimeEffects(stored, recomputed)

	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divergences))
	}

	if divergences[0].Field != "Cell(2,4)" {
		t.Errorf("Expected Cell(2,4) divergence, got %s", divergences[0].Field)
	}

	if divergences[0].Expected != nil {
		t.Errorf("Expected nil expected for extra cell, got %v", divergences[0].Expected)
	}
}

func TestCompareGroupTimeEffects_WithinTolerance(t *testing.T) {
	stored := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 0.123456789},
	}
	recomputed := []domain.GroupTimeEffect{
		{Group: 2, Period: 3, BasePeriod: 1, ATT: 0.123456789 + FloatTolerance/2},
	}

	divergences := CompareGroupTimeEffects(stored, recomputed)

	if len(divergences) != 0 {
		t.Errorf("ATT should not diverge within tolerance: %v", divergences)
	}
}

func TestCompareDynamicEffects_ExactMatch(t *testing.T) {
	stored := []domain.DynamicEffect{
		{EventTime: -1, ATT: -0.05, Groups: 2, SE: ptrFloat64(0.02), Draws: 100},
		{EventTime: 0, ATT: 2.1, Groups: 2, SE: ptrFloat64(0.3), Draws: 100},
		{EventTime: 1, ATT: 2.8, Groups: 1, SE: nil},
	}
	recomputed := []domain.DynamicEffect{
		{EventTime: -1, ATT: -0.05, Groups: 2, SE: ptrFloat64(0.02), Draws: 100},
		{EventTime: 0, ATT: 2.1, Groups: 2, SE: ptrFloat64(0.3), Draws: 100},
		{EventTime: 1, ATT: 2.8, Groups: 1, SE: nil},
	}

	divergences := CompareDynamicEffects(stored, recomputed)

	if len(divergences) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(divergences), divergences)
	}
}

func TestCompareDynamicEffects_SENullVsValue(t *testing.T) {
	stored := []domain.DynamicEffect{
		{EventTime: 0, ATT: 2.1, Groups: 2, SE: nil},
	}
	recomputed := []domain.DynamicEffect{
		{EventTime: 0, ATT: 2.1, Groups: 2, SE: ptrFloat64(0.3)},
	}

	divergences := CompareDynamicEffects(stored, recomputed)

	foundSE := false
	for _, d := range divergences {
		if d.Field == "EventTime(0).SE" {
			foundSE = true
			break
		}
	}

	if !foundSE {
		t.Error("Expected EventTime(0).SE divergence when nil vs value")
	}
}

func TestCompareDynamicEffects_MissingEventTime(t *testing.T) {
	stored := []domain.DynamicEffect{
		{EventTime: -1, ATT: -0.05, Groups: 2},
		{EventTime: 0, ATT: 2.1, Groups: 2},
	}
	recomputed := []domain.DynamicEffect{
		{EventTime: 0, ATT: 2.1, Groups: 2},
	}

	divergences := CompareDynamicEffects(stored, recomputed)

	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divergences))
	}

	if divergences[0].Field != "EventTime(-1)" {
		t.Errorf("Expected EventTime(-1) divergence, got %s", divergences[0].Field)
	}
}

func TestCompareRunRecords_ExactMatch(t *testing.T) {
	res := &pipeline.Result{
		RunID:       "run_abc",
		EstimatorID: "DIFF_IN_MEANS",
		Diagnostics: &att.Diagnostics{
			PlannedCells:  4,
			ComputedCells: 3,
			SkippedCells: []att.SkippedCell{
				{Group: 2, Period: 2, BasePeriod: 0, Reason: att.SkipBasePeriodUnobserved},
			},
			DroppedUnits: 1,
		},
		Bootstrap: &pipeline.BootstrapReport{Iterations: 100, Failed: 2, Seed: 42, MinDraws: 90},
	}

	stored := &domain.RunRecord{
		RunID:               "run_abc",
		EstimatorID:         "DIFF_IN_MEANS",
		PlannedCells:        4,
		ComputedCells:       3,
		SkippedCells:        1,
		DroppedUnits:        1,
		BootstrapIterations: 100,
		BootstrapFailed:     2,
		BootstrapSeed:       42,
	}

	divergences := CompareRunRecords(stored, res)

	if len(divergences) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(divergences), divergences)
	}
}

func TestCompareRunRecords_AccountingDivergence(t *testing.T) {
	res := &pipeline.Result{
		RunID:       "run_abc",
		EstimatorID: "DIFF_IN_MEANS",
		Diagnostics: &att.Diagnostics{PlannedCells: 4, ComputedCells: 4},
	}

	stored := &domain.RunRecord{
		RunID:         "run_abc",
		EstimatorID:   "DIFF_IN_MEANS",
		PlannedCells:  4,
		ComputedCells: 3,
		SkippedCells:  1,
	}

	divergences := CompareRunRecords(stored, res)

	if len(divergences) != 2 {
		t.Fatalf("Expected 2 divergences, got %d: %v", len(divergences), divergences)
	}

	if divergences[0].Field != "ComputedCells" {
		t.Errorf("Expected ComputedCells divergence, got %s", divergences[0].Field)
	}

	if divergences[1].Field != "SkippedCells" {
		t.Errorf("Expected SkippedCells divergence, got %s", divergences[1].Field)
	}
}

func TestRunVerifier_VerifyRun_ExactMatch(t *testing.T) {
	ctx := context.Background()

	// Setup stores
	panelStore := memory.NewPanelStore()
	runStore := memory.NewRunStore()
	groupTimeStore := memory.NewGroupTimeStore()
	dynamicStore := memory.NewDynamicStore()

	rows := stagedRows()
	if err := panelStore.InsertBatch(ctx, "ds1", rows); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// Run estimation once to get a result
	pl, err := pipeline.New(pipeline.Options{
		Estimator: estimator.NewDiffInMeans(),
		Config:    domain.EstimationConfig{},
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	res, err := pl.Run(ctx, rows)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Store the run
	if err := runStore.Insert(ctx, recordFor(res, "ds1")); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}
	if err := groupTimeStore.InsertBulk(ctx, res.RunID, res.GroupTime); err != nil {
		t.Fatalf("Insert cells failed: %v", err)
	}
	if err := dynamicStore.InsertBulk(ctx, res.RunID, res.Dynamic); err != nil {
		t.Fatalf("Insert dynamic failed: %v", err)
	}

	verifier := NewRunVerifier(RunVerifierOptions{
		PanelStore:     panelStore,
		RunStore:       runStore,
		GroupTimeStore: groupTimeStore,
		DynamicStore:   dynamicStore,
	})

	result, err := verifier.VerifyRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}

	if !result.Match {
		t.Errorf("Expected match, got divergences: %v", result.Divergences)
	}

	if result.StoredCells != len(res.GroupTime) {
		t.Errorf("Expected %d stored cells, got %d", len(res.GroupTime), result.StoredCells)
	}

	if result.RecomputedCells != len(res.GroupTime) {
		t.Errorf("Expected %d recomputed cells, got %d", len(res.GroupTime), result.RecomputedCells)
	}
}

func TestRunVerifier_VerifyRun_WithInference(t *testing.T) {
	ctx := context.Background()

	panelStore := memory.NewPanelStore()
	runStore := memory.NewRunStore()
	groupTimeStore := memory.NewGroupTimeStore()
	dynamicStore := memory.NewDynamicStore()

	rows := stagedRows()
	if err := panelStore.InsertBatch(ctx, "ds1", rows); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// The fixed seed is recorded with the run, so the verifier reruns the
	// identical draw sequence.
	pl, err := pipeline.New(pipeline.Options{
		Estimator: estimator.NewDiffInMeans(),
		Config:    domain.EstimationConfig{},
		Bootstrap: domain.BootstrapConfig{Iterations: 50, Seed: 7},
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	res, err := pl.RunWithInference(ctx, rows)
	if err != nil {
		t.Fatalf("RunWithInference failed: %v", err)
	}

	if err := runStore.Insert(ctx, recordFor(res, "ds1")); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}
	if err := groupTimeStore.InsertBulk(ctx, res.RunID, res.GroupTime); err != nil {
		t.Fatalf("Insert cells failed: %v", err)
	}
	if err := dynamicStore.InsertBulk(ctx, res.RunID, res.Dynamic); err != nil {
		t.Fatalf("Insert dynamic failed: %v", err)
	}

	verifier := NewRunVerifier(RunVerifierOptions{
		PanelStore:     panelStore,
		RunStore:       runStore,
		GroupTimeStore: groupTimeStore,
		DynamicStore:   dynamicStore,
	})

	result, err := verifier.VerifyRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}

	if !result.Match {
		t.Errorf("Expected seeded inference to reproduce, got divergences: %v", result.Divergences)
	}
}

func TestRunVerifier_VerifyRun_DetectsTamperedCell(t *testing.T) {
	ctx := context.Background()

	panelStore := memory.NewPanelStore()
	runStore := memory.NewRunStore()
	groupTimeStore := memory.NewGroupTimeStore()
	dynamicStore := memory.NewDynamicStore()

	rows := stagedRows()
	if err := panelStore.InsertBatch(ctx, "ds1", rows); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	pl, err := pipeline.New(pipeline.Options{
		Estimator: estimator.NewDiffInMeans(),
		Config:    domain.EstimationConfig{},
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	res, err := pl.Run(ctx, rows)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Corrupt one stored cell before inserting
	tampered := make([]domain.GroupTimeEffect, len(res.GroupTime))
	copy(tampered, res.GroupTime)
	tampered[0].ATT += 0.5

	if err := runStore.Insert(ctx, recordFor(res, "ds1")); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}
	if err := groupTimeStore.InsertBulk(ctx, res.RunID, tampered); err != nil {
		t.Fatalf("Insert cells failed: %v", err)
	}
	if err := dynamicStore.InsertBulk(ctx, res.RunID, res.Dynamic); err != nil {
		t.Fatalf("Insert dynamic failed: %v", err)
	}

	verifier := NewRunVerifier(RunVerifierOptions{
		PanelStore:     panelStore,
		RunStore:       runStore,
		GroupTimeStore: groupTimeStore,
		DynamicStore:   dynamicStore,
	})

	result, err := verifier.VerifyRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("VerifyRun failed: %v", err)
	}

	if result.Match {
		t.Fatal("Expected divergence for tampered cell")
	}

	if len(result.Divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d: %v", len(result.Divergences), result.Divergences)
	}

	if !strings.HasSuffix(result.Divergences[0].Field, ".ATT") {
		t.Errorf("Expected an ATT divergence, got %s", result.Divergences[0].Field)
	}
}

func TestRunVerifier_VerifyRun_NotFound(t *testing.T) {
	ctx := context.Background()

	verifier := NewRunVerifier(RunVerifierOptions{
		PanelStore:     memory.NewPanelStore(),
		RunStore:       memory.NewRunStore(),
		GroupTimeStore: memory.NewGroupTimeStore(),
		DynamicStore:   memory.NewDynamicStore(),
	})

	_, err := verifier.VerifyRun(ctx, "run_missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestRunVerifier_VerifyRun_DatasetMissing(t *testing.T) {
	ctx := context.Background()

	runStore := memory.NewRunStore()
	rec := &domain.RunRecord{
		RunID:        "run_ghost",
		Dataset:      "ghost",
		EstimatorID:  "DIFF_IN_MEANS",
		ControlGroup: domain.ControlNeverTreated,
		CompletedAt:  2000,
	}
	if err := runStore.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}

	verifier := NewRunVerifier(RunVerifierOptions{
		PanelStore:     memory.NewPanelStore(),
		RunStore:       runStore,
		GroupTimeStore: memory.NewGroupTimeStore(),
		DynamicStore:   memory.NewDynamicStore(),
	})

	_, err := verifier.VerifyRun(ctx, "run_ghost")
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Expected ErrDatasetNotFound, got %v", err)
	}
}

func TestRunVerifier_VerifyDataset(t *testing.T) {
	ctx := context.Background()

	panelStore := memory.NewPanelStore()
	runStore := memory.NewRunStore()
	groupTimeStore := memory.NewGroupTimeStore()
	dynamicStore := memory.NewDynamicStore()

	rows := stagedRows()
	if err := panelStore.InsertBatch(ctx, "ds1", rows); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	// Two reproducible runs with distinct configurations
	quiet := log.New(io.Discard, "", 0)
	for _, cfg := range []domain.EstimationConfig{
		{},
		{Anticipation: 1},
	} {
		pl, err := pipeline.New(pipeline.Options{
			Estimator: estimator.NewDiffInMeans(),
			Config:    cfg,
			Logger:    quiet,
		})
		if err != nil {
			t.Fatalf("pipeline.New failed: %v", err)
		}
		res, err := pl.Run(ctx, rows)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if err := runStore.Insert(ctx, recordFor(res, "ds1")); err != nil {
			t.Fatalf("Insert run failed: %v", err)
		}
		if err := groupTimeStore.InsertBulk(ctx, res.RunID, res.GroupTime); err != nil {
			t.Fatalf("Insert cells failed: %v", err)
		}
		if err := dynamicStore.InsertBulk(ctx, res.RunID, res.Dynamic); err != nil {
			t.Fatalf("Insert dynamic failed: %v", err)
		}
	}

	// One run recorded under an estimator this verifier doesn't know
	unknown := &domain.RunRecord{
		RunID:        "run_unknown",
		Dataset:      "ds1",
		EstimatorID:  "CUSTOM_X",
		ControlGroup: domain.ControlNeverTreated,
		CompletedAt:  1,
	}
	if err := runStore.Insert(ctx, unknown); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}

	verifier := NewRunVerifier(RunVerifierOptions{
		PanelStore:     panelStore,
		RunStore:       runStore,
		GroupTimeStore: groupTimeStore,
		DynamicStore:   dynamicStore,
	})

	report, err := verifier.VerifyDataset(ctx, "ds1")
	if err != nil {
		t.Fatalf("VerifyDataset failed: %v", err)
	}

	if report.TotalRuns != 3 {
		t.Errorf("Expected 3 total runs, got %d", report.TotalRuns)
	}

	if report.MatchedRuns != 2 {
		t.Errorf("Expected 2 matched runs, got %d", report.MatchedRuns)
	}

	if report.DivergentRuns != 1 {
		t.Errorf("Expected 1 divergent run, got %d", report.DivergentRuns)
	}

	foundError := false
	for _, r := range report.Results {
		if r.RunID != "run_unknown" {
			continue
		}
		for _, d := range r.Divergences {
			if d.Field == "Error" {
				foundError = true
			}
		}
	}

	if !foundError {
		t.Error("Expected the unknown-estimator run to record an Error divergence")
	}
}

func TestFloatEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want bool
	}{
		{"exact match", 1.0, 1.0, true},
		{"within tolerance", 1.0, 1.0 + FloatTolerance/2, true},
		{"at tolerance boundary", 0.0, FloatTolerance, true},
		{"beyond tolerance", 1.0, 1.0 + FloatTolerance*2, false},
		{"zeros", 0.0, 0.0, true},
		{"small values", 1e-12, 1e-12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := floatEquals(tt.a, tt.b); got != tt.want {
				t.Errorf("floatEquals(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// stagedRows builds a balanced panel: two never-treated units and two
// units treated at period 3, observed over periods 1 through 4.
func stagedRows() []domain.Observation {
	return []domain.Observation{
		{UnitID: "c1", Period: 1, Group: domain.GroupNeverTreated, Outcome: 10.0},
		{UnitID: "c1", Period: 2, Group: domain.GroupNeverTreated, Outcome: 11.0},
		{UnitID: "c1", Period: 3, Group: domain.GroupNeverTreated, Outcome: 12.0},
		{UnitID: "c1", Period: 4, Group: domain.GroupNeverTreated, Outcome: 13.0},
		{UnitID: "c2", Period: 1, Group: domain.GroupNeverTreated, Outcome: 20.0},
		{UnitID: "c2", Period: 2, Group: domain.GroupNeverTreated, Outcome: 21.0},
		{UnitID: "c2", Period: 3, Group: domain.GroupNeverTreated, Outcome: 22.0},
		{UnitID: "c2", Period: 4, Group: domain.GroupNeverTreated, Outcome: 23.0},
		{UnitID: "t1", Period: 1, Group: 3, Outcome: 10.0},
		{UnitID: "t1", Period: 2, Group: 3, Outcome: 11.0},
		{UnitID: "t1", Period: 3, Group: 3, Outcome: 14.0},
		{UnitID: "t1", Period: 4, Group: 3, Outcome: 16.0},
		{UnitID: "t2", Period: 1, Group: 3, Outcome: 12.0},
		{UnitID: "t2", Period: 2, Group: 3, Outcome: 13.0},
		{UnitID: "t2", Period: 3, Group: 3, Outcome: 17.0},
		{UnitID: "t2", Period: 4, Group: 3, Outcome: 18.0},
	}
}

// recordFor builds the registry row a run would persist.
func recordFor(res *pipeline.Result, dataset string) *domain.RunRecord {
	rec := &domain.RunRecord{
		RunID:         res.RunID,
		Dataset:       dataset,
		EstimatorID:   res.EstimatorID,
		Anticipation:  res.Config.Anticipation,
		DropLast:      res.Config.ResolveDropLast(),
		ControlGroup:  res.Config.ResolveControlGroup(),
		StrictCells:   res.Config.StrictCells,
		StrictBalance: res.Config.StrictBalance,
		PlannedCells:  res.Diagnostics.PlannedCells,
		ComputedCells: res.Diagnostics.ComputedCells,
		SkippedCells:  len(res.Diagnostics.SkippedCells),
		DroppedUnits:  res.Diagnostics.DroppedUnits,
		StartedAt:     1000,
		CompletedAt:   2000,
	}
	if res.Bootstrap != nil {
		rec.BootstrapIterations = res.Bootstrap.Iterations
		rec.BootstrapFailed = res.Bootstrap.Failed
		rec.BootstrapSeed = res.Bootstrap.Seed
	}
	return rec
}

func ptrFloat64(v float64) *float64 {
	return &v
}
