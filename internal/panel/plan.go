package panel

import (
	"errors"
	"fmt"
	"sort"

	"panel-did-lab/internal/domain"
)

// Plan construction errors
var (
	// ErrNoUsablePeriods means the anticipation horizon (plus the
	// drop-last setting) consumed every observed period.
	ErrNoUsablePeriods = errors.New("no usable evaluation periods")
	// ErrBasePeriodMissing is returned in strict mode when a cell's
	// computed base period is not observed in the panel.
	ErrBasePeriodMissing = errors.New("base period not observed")
)

// Cell is one estimable (group, evaluation period, base period) triple.
// BasePeriod is strictly less than Period.
type Cell struct {
	Group      int
	Period     int
	BasePeriod int
}

// EventTime returns Period - Group for the cell.
func (c Cell) EventTime() int { return c.Period - c.Group }

// Plan is the full set of estimable cells for one panel and configuration,
// ordered by (group asc, period asc). Cells whose base period is not
// observed are excluded and recorded separately.
type Plan struct {
	cells   []Cell
	skipped []Cell // base period unobserved
	usable  []int  // evaluation periods after trimming
}

// BuildPlan derives the estimation plan.
//
// Evaluation periods are the observed periods minus the earliest
// 1+Anticipation of them (those cannot have a valid base period), minus
// the final period when drop-last resolves true. The base period for a
// cell (g, t) is g-(Anticipation+1) when t >= g, else t-(Anticipation+1):
// evaluation at or after onset differences against a period safely before
// anticipation could start; pre-onset pseudo-tests shift the base with t.
func BuildPlan(p *Panel, cfg domain.EstimationConfig) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	periods := p.Periods()
	trim := cfg.Anticipation + 1
	if len(periods) <= trim {
		return nil, fmt.Errorf("%w: %d periods observed, anticipation %d requires at least %d",
			ErrNoUsablePeriods, len(periods), cfg.Anticipation, trim+1)
	}

	usable := make([]int, len(periods)-trim)
	copy(usable, periods[trim:])
	if cfg.ResolveDropLast() {
		usable = usable[:len(usable)-1]
		if len(usable) == 0 {
			return nil, fmt.Errorf("%w: dropping the final period leaves none (anticipation %d, %d periods observed)",
				ErrNoUsablePeriods, cfg.Anticipation, len(periods))
		}
	}

	plan := &Plan{usable: usable}
	for _, g := range p.Groups() {
		for _, t := range usable {
			var base int
			if t >= g {
				base = g - (cfg.Anticipation + 1)
			} else {
				base = t - (cfg.Anticipation + 1)
			}

			cell := Cell{Group: g, Period: t, BasePeriod: base}
			if !p.PeriodObserved(base) {
				if cfg.StrictCells {
					return nil, fmt.Errorf("group %d period %d: %w: %d", g, t, ErrBasePeriodMissing, base)
				}
				plan.skipped = append(plan.skipped, cell)
				continue
			}
			plan.cells = append(plan.cells, cell)
		}
	}

	return plan, nil
}

// Cells returns the estimable cells in (group asc, period asc) order.
func (pl *Plan) Cells() []Cell { return pl.cells }

// Skipped returns cells excluded because their base period is unobserved.
func (pl *Plan) Skipped() []Cell { return pl.skipped }

// UsablePeriods returns the evaluation periods after trimming.
func (pl *Plan) UsablePeriods() []int { return pl.usable }

// EventTimes returns the sorted distinct event times across estimable cells.
func (pl *Plan) EventTimes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range pl.cells {
		e := c.EventTime()
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Ints(out)
	return out
}
