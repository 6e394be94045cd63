// Package pipeline orchestrates estimation runs: panel construction,
// planning, per-cell estimation, aggregation, and bootstrap inference.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log"

	"panel-did-lab/internal/aggregate"
	"panel-did-lab/internal/att"
	"panel-did-lab/internal/bootstrap"
	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/idhash"
	"panel-did-lab/internal/panel"
)

// Pipeline errors
var (
	ErrNilEstimator = errors.New("pipeline estimator is nil")
)

// Result is the complete output of one estimation run.
type Result struct {
	RunID       string
	EstimatorID string
	Config      domain.EstimationConfig
	GroupTime   []domain.GroupTimeEffect
	Dynamic     []domain.DynamicEffect
	Overall     *domain.OverallEffect
	ByGroup     []domain.GroupEffect
	ByPeriod    []domain.PeriodEffect
	Diagnostics *att.Diagnostics
	Bootstrap   *BootstrapReport
}

// BootstrapReport summarizes the inference layer of a run. MinDraws below
// Iterations-Failed means some draws were missing event times.
type BootstrapReport struct {
	Iterations int
	Failed     int
	Seed       int64
	MinDraws   int
}

// Pipeline runs the full estimation flow over a row set. A Pipeline is
// immutable after construction and safe for concurrent runs.
type Pipeline struct {
	estimator   estimator.Estimator
	cfg         domain.EstimationConfig
	bootCfg     domain.BootstrapConfig
	engine      *att.Engine
	drawEngine  *att.Engine
	logger      *log.Logger
	onIteration func(done, total int)
}

// Options contains configuration for creating a Pipeline.
type Options struct {
	Estimator estimator.Estimator     // required
	Config    domain.EstimationConfig // validated at construction
	Bootstrap domain.BootstrapConfig  // used by RunWithInference only
	// Workers caps parallel cell estimation in the point run; 0 or 1
	// computes serially.
	Workers int
	Logger  *log.Logger
	// OnBootstrapIteration receives bootstrap progress counts. Optional;
	// must be safe for concurrent use.
	OnBootstrapIteration func(done, total int)
}

// New validates the configuration and creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Estimator == nil {
		return nil, ErrNilEstimator
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	// Draw reruns keep the engine quiet; per-cell skip logs would repeat
	// once per bootstrap iteration otherwise. Bootstrap parallelism lives
	// at the iteration level, so draws estimate their cells serially.
	quiet := log.New(io.Discard, "", 0)

	return &Pipeline{
		estimator: opts.Estimator,
		cfg:       opts.Config,
		bootCfg:   opts.Bootstrap,
		engine: att.New(opts.Estimator, att.Options{
			Config:  opts.Config,
			Workers: opts.Workers,
			Logger:  logger,
		}),
		drawEngine: att.New(opts.Estimator, att.Options{
			Config:  opts.Config,
			Workers: 1,
			Logger:  quiet,
		}),
		logger:      logger,
		onIteration: opts.OnBootstrapIteration,
	}, nil
}

// Run computes point estimates for a row set.
// Steps:
//  1. Build the validated, indexed panel
//  2. Build the estimation plan (treated groups x usable periods)
//  3. Estimate every feasible cell
//  4. Aggregate to dynamic, overall, by-group, and by-period tables
//
// Runs are deterministic: the same rows and configuration reproduce the
// same Result, including its RunID.
func (pl *Pipeline) Run(ctx context.Context, rows []domain.Observation) (*Result, error) {
	// 1. Build the validated, indexed panel
	p, err := panel.New(rows)
	if err != nil {
		return nil, err
	}

	res, err := pl.estimate(ctx, p, pl.engine)
	if err != nil {
		return nil, err
	}
	res.RunID = idhash.ComputeRunID(rows, pl.cfg.Fingerprint())

	pl.logger.Printf("[pipeline] run %s: %d cells estimated, %d skipped, %d unit drops",
		res.RunID, res.Diagnostics.ComputedCells, len(res.Diagnostics.SkippedCells), res.Diagnostics.DroppedUnits)
	return res, nil
}

// RunWithInference computes point estimates and bootstrap standard errors.
// Steps:
//  1. Point estimates on the original panel
//  2. B bootstrap iterations, each rerunning plan, engine, and dynamic
//     aggregation on a unit-resampled panel with the same configuration
//  3. Merge per-event-time standard errors into the dynamic table
func (pl *Pipeline) RunWithInference(ctx context.Context, rows []domain.Observation) (*Result, error) {
	runner, err := bootstrap.NewRunner(bootstrap.RunnerOptions{
		Config:      pl.bootCfg,
		Pipeline:    pl.rerunDynamic,
		Logger:      pl.logger,
		OnIteration: pl.onIteration,
	})
	if err != nil {
		return nil, err
	}

	// 1. Point estimates
	p, err := panel.New(rows)
	if err != nil {
		return nil, err
	}
	res, err := pl.estimate(ctx, p, pl.engine)
	if err != nil {
		return nil, err
	}
	res.RunID = idhash.ComputeRunID(rows, pl.cfg.Fingerprint())

	// 2. Bootstrap distribution
	summary, err := runner.Run(ctx, p)
	if err != nil {
		return nil, err
	}

	// 3. Merge standard errors into the dynamic table
	res.Dynamic = summary.Apply(res.Dynamic)
	res.Bootstrap = &BootstrapReport{
		Iterations: summary.Iterations,
		Failed:     summary.Failed,
		Seed:       summary.Seed,
		MinDraws:   summary.MinDraws(res.Dynamic),
	}

	pl.logger.Printf("[pipeline] run %s: inference over %d iterations (%d failed, min draws %d)",
		res.RunID, summary.Iterations, summary.Failed, res.Bootstrap.MinDraws)
	return res, nil
}

// estimate runs plan, engine, and all aggregations on a built panel.
func (pl *Pipeline) estimate(ctx context.Context, p *panel.Panel, engine *att.Engine) (*Result, error) {
	// 2. Build the estimation plan
	plan, err := panel.BuildPlan(p, pl.cfg)
	if err != nil {
		return nil, err
	}

	// 3. Estimate every feasible cell
	effects, diags, err := engine.Compute(ctx, p, plan)
	if err != nil {
		return nil, err
	}

	// 4. Aggregate
	sizes := p.GroupSizes()
	dynamic, err := aggregate.Dynamic(effects, sizes)
	if err != nil {
		return nil, err
	}
	overall, err := aggregate.Overall(effects, sizes)
	if err != nil {
		return nil, err
	}
	byPeriod, err := aggregate.ByPeriod(effects, sizes)
	if err != nil {
		return nil, err
	}

	return &Result{
		EstimatorID: pl.estimator.ID(),
		Config:      pl.cfg,
		GroupTime:   effects,
		Dynamic:     dynamic,
		Overall:     overall,
		ByGroup:     aggregate.ByGroup(effects),
		ByPeriod:    byPeriod,
		Diagnostics: diags,
	}, nil
}

// rerunDynamic is the bootstrap iteration body: same configuration,
// resampled panel, dynamic table only.
func (pl *Pipeline) rerunDynamic(ctx context.Context, p *panel.Panel) ([]domain.DynamicEffect, error) {
	plan, err := panel.BuildPlan(p, pl.cfg)
	if err != nil {
		return nil, err
	}
	effects, _, err := pl.drawEngine.Compute(ctx, p, plan)
	if err != nil {
		return nil, err
	}
	return aggregate.Dynamic(effects, p.GroupSizes())
}
