// Package bootstrap attaches standard errors to dynamic effects by
// rerunning the whole estimation pipeline on unit-level resamples of the
// panel and taking per-event-time sample standard deviations.
package bootstrap

import (
	"fmt"
	"math/rand"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/panel"
)

// Resampler draws one resampled copy of a panel.
type Resampler interface {
	Resample(p *panel.Panel, rng *rand.Rand) (*panel.Panel, error)
}

// ByUnit resamples whole units with replacement: a drawn unit carries all
// of its rows, preserving within-unit serial correlation. A unit drawn k
// times appears as k distinct pseudo-units so that downstream balance
// checks never collapse duplicates.
type ByUnit struct{}

// Resample draws NumUnits units from the sorted unit list.
func (ByUnit) Resample(p *panel.Panel, rng *rand.Rand) (*panel.Panel, error) {
	units := p.Units()
	n := len(units)

	rows := make([]domain.Observation, 0, p.NumRows())
	drawn := make(map[string]int, n)
	for i := 0; i < n; i++ {
		unit := units[rng.Intn(n)]
		drawn[unit]++

		id := unit
		if drawn[unit] > 1 {
			id = fmt.Sprintf("%s#%d", unit, drawn[unit])
		}
		for _, row := range p.RowsOf(unit) {
			row.UnitID = id
			rows = append(rows, row)
		}
	}

	resampled, err := panel.New(rows)
	if err != nil {
		return nil, fmt.Errorf("rebuild resampled panel: %w", err)
	}
	return resampled, nil
}

// Ensure ByUnit implements Resampler
var _ Resampler = ByUnit{}
