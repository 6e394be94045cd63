// Package att computes the group-time ATT table: one two-by-two estimate
// per estimable (group, period) cell, against a base period chosen by the
// plan and a comparison pool chosen by the control-group setting.
package att

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/panel"
)

// Engine errors
var (
	// ErrUnbalancedUnit is returned in strict-balance mode when a unit
	// lacks an outcome at one of a cell's two periods.
	ErrUnbalancedUnit = errors.New("unit unbalanced within cell")
)

// Engine iterates the estimation plan and invokes the two-by-two
// estimator once per cell. Cells are independent; the panel is shared
// read-only.
type Engine struct {
	estimator estimator.Estimator
	cfg       domain.EstimationConfig
	workers   int
	logger    *log.Logger
}

// Options contains configuration for creating an Engine.
type Options struct {
	Config domain.EstimationConfig
	// Workers sets the parallel cell workers; 0 or 1 computes serially.
	// Parallel output is identical to serial output.
	Workers int
	Logger  *log.Logger
}

// New creates a group-time engine around a two-by-two estimator.
func New(est estimator.Estimator, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		estimator: est,
		cfg:       opts.Config,
		workers:   workers,
		logger:    logger,
	}
}

// cellResult is one cell's outcome: exactly one field is set.
type cellResult struct {
	effect  *domain.GroupTimeEffect
	skipped *SkippedCell
	err     error
}

// Compute estimates every cell in the plan.
// The returned table is keyed uniquely by (group, period) and ordered as
// the plan orders cells. Skipped cells land in the diagnostics, never in
// the table. Any estimator error aborts the run.
func (e *Engine) Compute(ctx context.Context, p *panel.Panel, plan *panel.Plan) ([]domain.GroupTimeEffect, *Diagnostics, error) {
	cells := plan.Cells()
	diag := &Diagnostics{
		PlannedCells: len(cells) + len(plan.Skipped()),
	}
	for _, c := range plan.Skipped() {
		diag.SkippedCells = append(diag.SkippedCells, SkippedCell{
			Group: c.Group, Period: c.Period, BasePeriod: c.BasePeriod,
			Reason: SkipBasePeriodUnobserved,
		})
	}

	var results []cellResult
	var err error
	if e.workers > 1 && len(cells) > 1 {
		results, err = e.computeParallel(ctx, p, cells)
	} else {
		results, err = e.computeSerial(ctx, p, cells)
	}
	if err != nil {
		return nil, nil, err
	}

	effects := make([]domain.GroupTimeEffect, 0, len(cells))
	for _, res := range results {
		switch {
		case res.effect != nil:
			effects = append(effects, *res.effect)
			diag.ComputedCells++
			diag.DroppedUnits += res.effect.DroppedUnits
		case res.skipped != nil:
			diag.SkippedCells = append(diag.SkippedCells, *res.skipped)
		}
	}

	sort.Slice(diag.SkippedCells, func(i, j int) bool {
		a, b := diag.SkippedCells[i], diag.SkippedCells[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Period < b.Period
	})

	if len(diag.SkippedCells) > 0 {
		e.logger.Printf("[att] %d of %d cells skipped, %d units dropped by balance",
			len(diag.SkippedCells), diag.PlannedCells, diag.DroppedUnits)
	}

	return effects, diag, nil
}

// computeSerial walks cells in plan order on the calling goroutine.
func (e *Engine) computeSerial(ctx context.Context, p *panel.Panel, cells []panel.Cell) ([]cellResult, error) {
	results := make([]cellResult, len(cells))
	for i, cell := range cells {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		res := e.computeCell(ctx, p, cell)
		if res.err != nil {
			return nil, res.err
		}
		results[i] = res
	}
	return results, nil
}

// computeParallel fans cells out over a fixed worker pool. Each worker
// writes into its cell's own slot; the first error cancels the rest.
func (e *Engine) computeParallel(ctx context.Context, p *panel.Panel, cells []panel.Cell) ([]cellResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]cellResult, len(cells))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				res := e.computeCell(ctx, p, cells[i])
				results[i] = res
				if res.err != nil {
					cancel()
				}
			}
		}()
	}

feed:
	for i := range cells {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			return nil, res.err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// computeCell assembles one cell and invokes the estimator.
//
// Steps:
//  1. Walk units in sorted order; keep the cell's group as the treated
//     arm and control-group-eligible units as the comparison arm.
//  2. Require an outcome at both the evaluation and base periods
//     (balance); drop and count units failing this, or fail loud in
//     strict-balance mode.
//  3. Require both arms non-empty, else skip the cell.
//  4. Hand aligned (post, pre, treated, covariates) to the estimator and
//     record its output unmodified.
func (e *Engine) computeCell(ctx context.Context, p *panel.Panel, cell panel.Cell) cellResult {
	notYet := e.cfg.ResolveControlGroup() == domain.ControlNotYetTreated

	input := &estimator.Input{}
	if p.HasCovariates() {
		input.Covariates = [][]float64{}
	}

	var treatedN, comparisonN, dropped int
	for _, unit := range p.Units() {
		group, _ := p.GroupOf(unit)

		var indicator int
		switch {
		case group == cell.Group:
			indicator = 1
		case group == domain.GroupNeverTreated:
			indicator = 0
		case notYet && group > cell.Period:
			// Onset after the evaluation period: the unit is untreated
			// throughout (base, evaluation], so its change is clean.
			indicator = 0
		default:
			continue
		}

		post, okPost := p.Outcome(unit, cell.Period)
		pre, okPre := p.Outcome(unit, cell.BasePeriod)
		if !okPost || !okPre {
			if e.cfg.StrictBalance {
				return cellResult{err: fmt.Errorf("group %d period %d: unit %s: %w",
					cell.Group, cell.Period, unit, ErrUnbalancedUnit)}
			}
			dropped++
			continue
		}

		input.Post = append(input.Post, post)
		input.Pre = append(input.Pre, pre)
		input.Treated = append(input.Treated, indicator)
		if input.Covariates != nil {
			input.Covariates = append(input.Covariates, p.Covariates(unit, cell.BasePeriod))
		}
		if indicator == 1 {
			treatedN++
		} else {
			comparisonN++
		}
	}

	if treatedN == 0 {
		return cellResult{skipped: &SkippedCell{
			Group: cell.Group, Period: cell.Period, BasePeriod: cell.BasePeriod,
			Reason: SkipNoTreatedUnits,
		}}
	}
	if comparisonN == 0 {
		return cellResult{skipped: &SkippedCell{
			Group: cell.Group, Period: cell.Period, BasePeriod: cell.BasePeriod,
			Reason: SkipNoComparisonUnits,
		}}
	}

	attEstimate, err := e.estimator.EstimateATT(ctx, input)
	if err != nil {
		return cellResult{err: fmt.Errorf("group %d period %d: estimator %s: %w",
			cell.Group, cell.Period, e.estimator.ID(), err)}
	}

	return cellResult{effect: &domain.GroupTimeEffect{
		Group:           cell.Group,
		Period:          cell.Period,
		BasePeriod:      cell.BasePeriod,
		ATT:             attEstimate,
		TreatedUnits:    treatedN,
		ComparisonUnits: comparisonN,
		DroppedUnits:    dropped,
	}}
}
