package verification

import (
	"context"
	"errors"
	"io"
	"log"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/pipeline"
	"panel-did-lab/internal/storage"
)

var (
	// ErrRunNotFound is returned when the run ID doesn't exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrDatasetNotFound is returned when the run's dataset has no stored rows.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// RunVerifier implements Verifier interface.
type RunVerifier struct {
	panelStore     storage.PanelStore
	runStore       storage.RunStore
	groupTimeStore storage.GroupTimeStore
	dynamicStore   storage.DynamicStore

	// estimators maps estimator ID to its implementation.
	// Must cover every estimator runs were recorded under.
	estimators map[string]estimator.Estimator

	workers int
	logger  *log.Logger
}

// RunVerifierOptions contains configuration for creating a RunVerifier.
type RunVerifierOptions struct {
	PanelStore     storage.PanelStore
	RunStore       storage.RunStore
	GroupTimeStore storage.GroupTimeStore
	DynamicStore   storage.DynamicStore

	// Estimators maps estimator ID to implementation; nil registers the
	// difference-in-means estimator only.
	Estimators map[string]estimator.Estimator

	// Workers caps parallel cell estimation during re-runs.
	Workers int

	Logger *log.Logger
}

// NewRunVerifier creates a new RunVerifier.
func NewRunVerifier(opts RunVerifierOptions) *RunVerifier {
	estimators := opts.Estimators
	if estimators == nil {
		dim := estimator.NewDiffInMeans()
		estimators = map[string]estimator.Estimator{dim.ID(): dim}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &RunVerifier{
		panelStore:     opts.PanelStore,
		runStore:       opts.RunStore,
		groupTimeStore: opts.GroupTimeStore,
		dynamicStore:   opts.DynamicStore,
		estimators:     estimators,
		workers:        opts.Workers,
		logger:         logger,
	}
}

// VerifyRun verifies a single run by re-estimating it.
func (v *RunVerifier) VerifyRun(ctx context.Context, runID string) (*VerificationResult, error) {
	// 1. Load stored run
	stored, err := v.runStore.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	// 2. Load stored effect tables. A run whose cells were all skipped
	// stores no effect rows, so ErrNotFound means empty here.
	storedCells, err := v.groupTimeStore.GetByRunID(ctx, runID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	storedDynamic, err := v.dynamicStore.GetByRunID(ctx, runID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	// 3. Re-estimate with the stored dataset and configuration
	res, err := v.recompute(ctx, stored)
	if err != nil {
		return nil, err
	}

	// 4. Compare results
	divergences := CompareRunRecords(stored, res)
	divergences = append(divergences, CompareGroupTimeEffects(storedCells, res.GroupTime)...)
	divergences = append(divergences, CompareDynamicEffects(storedDynamic, res.Dynamic)...)

	return &VerificationResult{
		RunID:           runID,
		Match:           len(divergences) == 0,
		Divergences:     divergences,
		StoredCells:     len(storedCells),
		RecomputedCells: len(res.GroupTime),
	}, nil
}

// VerifyDataset verifies all stored runs over a dataset.
func (v *RunVerifier) VerifyDataset(ctx context.Context, dataset string) (*VerificationReport, error) {
	runs, err := v.runStore.GetByDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		TotalRuns: len(runs),
		Results:   make([]VerificationResult, 0, len(runs)),
	}

	for _, run := range runs {
		result, err := v.VerifyRun(ctx, run.RunID)
		if err != nil {
			// Record error as divergence
			report.Results = append(report.Results, VerificationResult{
				RunID: run.RunID,
				Match: false,
				Divergences: []FieldDivergence{
					{Field: "Error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentRuns++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedRuns++
		} else {
			report.DivergentRuns++
		}
	}

	return report, nil
}

// recompute re-runs estimation with a stored run's parameters.
func (v *RunVerifier) recompute(ctx context.Context, stored *domain.RunRecord) (*pipeline.Result, error) {
	// 1. Load the dataset
	rows, err := v.panelStore.GetByDataset(ctx, stored.Dataset)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}

	// 2. Resolve the estimator
	est, ok := v.estimators[stored.EstimatorID]
	if !ok {
		return nil, errors.New("unknown estimator ID: " + stored.EstimatorID)
	}

	// 3. Rebuild the configuration. Registry settings are stored resolved,
	// so the rebuilt config fingerprints identically to the original.
	dropLast := stored.DropLast
	cfg := domain.EstimationConfig{
		Anticipation:   stored.Anticipation,
		DropLastPeriod: &dropLast,
		ControlGroup:   stored.ControlGroup,
		StrictCells:    stored.StrictCells,
		StrictBalance:  stored.StrictBalance,
	}

	// 4. Build the pipeline
	pl, err := pipeline.New(pipeline.Options{
		Estimator: est,
		Config:    cfg,
		Bootstrap: domain.BootstrapConfig{
			Iterations: stored.BootstrapIterations,
			Seed:       stored.BootstrapSeed,
		},
		Workers: v.workers,
		Logger:  v.logger,
	})
	if err != nil {
		return nil, err
	}

	// 5. Re-run. The recorded seed makes inference re-runs reproducible.
	if stored.BootstrapIterations > 0 {
		return pl.RunWithInference(ctx, rows)
	}
	return pl.Run(ctx, rows)
}

var _ Verifier = (*RunVerifier)(nil)
