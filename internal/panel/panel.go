// Package panel holds the validated long-format panel and the estimation
// plan derived from it. A Panel is immutable after construction: all
// estimation phases share it read-only.
package panel

import (
	"errors"
	"fmt"
	"sort"

	"panel-did-lab/internal/domain"
)

// Panel construction errors
var (
	ErrEmptyPanel           = errors.New("panel has no observations")
	ErrDuplicateObservation = errors.New("duplicate (unit, period) observation")
	ErrGroupChanged         = errors.New("unit group changed across rows")
	ErrCovariateShape       = errors.New("inconsistent covariate length")
)

// Panel is a validated long-format panel with a unit-to-period outcome
// index built once at construction. Every cell lookup during estimation
// is a pair of map hits, never a row scan. Accessor slices are internal;
// callers must not modify them.
type Panel struct {
	rows    []domain.Observation
	units   []string // sorted
	periods []int    // sorted distinct
	groups  []int    // sorted distinct, sentinel excluded

	outcomes   map[string]map[int]float64   // unit -> period -> outcome
	covariates map[string]map[int][]float64 // unit -> period -> covariates
	groupOf    map[string]int               // unit -> group
	sizes      map[int]int                  // group -> distinct unit count
	periodSet  map[int]bool
	rowIdx     map[string][]int // unit -> row indices, insertion order

	covariateLen int // 0 when the panel carries no covariates
}

// New validates rows and builds the indexed panel.
// Enforced invariants: every (unit, period) appears at most once; a unit's
// group is constant across its rows; covariate vectors share one length
// panel-wide (or are absent everywhere).
func New(rows []domain.Observation) (*Panel, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyPanel
	}

	p := &Panel{
		rows:       rows,
		outcomes:   make(map[string]map[int]float64),
		covariates: make(map[string]map[int][]float64),
		groupOf:    make(map[string]int),
		sizes:      make(map[int]int),
		periodSet:  make(map[int]bool),
		rowIdx:     make(map[string][]int),
	}

	groupSet := make(map[int]bool)

	for i := range rows {
		o := &rows[i]
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		if prev, seen := p.groupOf[o.UnitID]; seen {
			if prev != o.Group {
				return nil, fmt.Errorf("unit %s: %w: %d then %d", o.UnitID, ErrGroupChanged, prev, o.Group)
			}
		} else {
			p.groupOf[o.UnitID] = o.Group
			p.sizes[o.Group]++
			p.units = append(p.units, o.UnitID)
		}

		byPeriod, ok := p.outcomes[o.UnitID]
		if !ok {
			byPeriod = make(map[int]float64)
			p.outcomes[o.UnitID] = byPeriod
		}
		if _, dup := byPeriod[o.Period]; dup {
			return nil, fmt.Errorf("unit %s period %d: %w", o.UnitID, o.Period, ErrDuplicateObservation)
		}
		byPeriod[o.Period] = o.Outcome
		p.rowIdx[o.UnitID] = append(p.rowIdx[o.UnitID], i)

		if i == 0 {
			p.covariateLen = len(o.Covariates)
		} else if len(o.Covariates) != p.covariateLen {
			return nil, fmt.Errorf("unit %s period %d: %w: want %d, got %d",
				o.UnitID, o.Period, ErrCovariateShape, p.covariateLen, len(o.Covariates))
		}
		if p.covariateLen > 0 {
			covByPeriod, ok := p.covariates[o.UnitID]
			if !ok {
				covByPeriod = make(map[int][]float64)
				p.covariates[o.UnitID] = covByPeriod
			}
			covByPeriod[o.Period] = o.Covariates
		}

		if !p.periodSet[o.Period] {
			p.periodSet[o.Period] = true
			p.periods = append(p.periods, o.Period)
		}
		if o.Group != domain.GroupNeverTreated && !groupSet[o.Group] {
			groupSet[o.Group] = true
			p.groups = append(p.groups, o.Group)
		}
	}

	sort.Strings(p.units)
	sort.Ints(p.periods)
	sort.Ints(p.groups)

	return p, nil
}

// Rows returns the underlying observations in insertion order.
func (p *Panel) Rows() []domain.Observation { return p.rows }

// Units returns all unit identifiers, sorted.
func (p *Panel) Units() []string { return p.units }

// Periods returns the sorted distinct observed periods.
func (p *Panel) Periods() []int { return p.periods }

// Groups returns the sorted distinct treatment groups, sentinel excluded.
func (p *Panel) Groups() []int { return p.groups }

// NumRows returns the observation count.
func (p *Panel) NumRows() int { return len(p.rows) }

// NumUnits returns the distinct unit count.
func (p *Panel) NumUnits() int { return len(p.units) }

// GroupSize returns the distinct unit count for a group, sentinel included.
func (p *Panel) GroupSize(group int) int { return p.sizes[group] }

// GroupSizes returns a copy of the group -> distinct unit count map.
func (p *Panel) GroupSizes() map[int]int {
	out := make(map[int]int, len(p.sizes))
	for g, n := range p.sizes {
		out[g] = n
	}
	return out
}

// PeriodObserved reports whether any row carries the given period.
func (p *Panel) PeriodObserved(period int) bool { return p.periodSet[period] }

// Outcome returns the outcome for (unit, period) and whether it exists.
func (p *Panel) Outcome(unit string, period int) (float64, bool) {
	byPeriod, ok := p.outcomes[unit]
	if !ok {
		return 0, false
	}
	v, ok := byPeriod[period]
	return v, ok
}

// GroupOf returns a unit's group and whether the unit exists.
func (p *Panel) GroupOf(unit string) (int, bool) {
	g, ok := p.groupOf[unit]
	return g, ok
}

// RowsOf returns all observations for one unit in insertion order.
// Used by unit-level resampling; a unit's rows travel together.
func (p *Panel) RowsOf(unit string) []domain.Observation {
	idx := p.rowIdx[unit]
	out := make([]domain.Observation, 0, len(idx))
	for _, i := range idx {
		out = append(out, p.rows[i])
	}
	return out
}

// HasCovariates reports whether the panel carries covariates.
func (p *Panel) HasCovariates() bool { return p.covariateLen > 0 }

// CovariateLen returns the panel-wide covariate vector length.
func (p *Panel) CovariateLen() int { return p.covariateLen }

// Covariates returns the covariate vector for (unit, period), or nil.
func (p *Panel) Covariates(unit string, period int) []float64 {
	byPeriod, ok := p.covariates[unit]
	if !ok {
		return nil
	}
	return byPeriod[period]
}
