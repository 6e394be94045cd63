package domain

import (
	"errors"
	"fmt"
)

// GroupNeverTreated is the sentinel group for units that are never treated
// within the sample window.
const GroupNeverTreated = 0

// Observation represents one row of a long-format panel.
// Corresponds to panel_observations table in Postgres.
type Observation struct {
	UnitID     string    // unit identifier (opaque)
	Period     int       // calendar time period
	Group      int       // first treated period, or GroupNeverTreated
	Outcome    float64   // observed outcome
	Covariates []float64 // optional, nil when the panel carries none
}

// Observation validation errors
var (
	ErrEmptyUnitID   = errors.New("empty unit id")
	ErrNegativeGroup = errors.New("negative group")
)

// Validate checks a single observation in isolation.
// Cross-row invariants (duplicate keys, group stability) are enforced
// at panel construction.
func (o *Observation) Validate() error {
	if o.UnitID == "" {
		return ErrEmptyUnitID
	}
	if o.Group < 0 {
		return fmt.Errorf("unit %s: %w: %d", o.UnitID, ErrNegativeGroup, o.Group)
	}
	return nil
}

// Treated reports whether the unit is treated at the given period.
func (o *Observation) Treated() bool {
	return o.Group != GroupNeverTreated && o.Period >= o.Group
}
