package domain

import (
	"errors"
	"fmt"
)

// ControlGroup selects which units may serve as comparisons.
type ControlGroup string

const (
	// ControlNeverTreated restricts comparisons to the sentinel group.
	ControlNeverTreated ControlGroup = "NEVER_TREATED"
	// ControlNotYetTreated additionally admits units whose onset lies
	// strictly after the evaluation period.
	ControlNotYetTreated ControlGroup = "NOT_YET_TREATED"
)

// Configuration errors (fatal, reported before any estimation)
var (
	ErrInvalidAnticipation = errors.New("anticipation horizon must be non-negative")
	ErrUnknownControlGroup = errors.New("unknown control group")
	ErrInvalidIterations   = errors.New("bootstrap iterations must be positive")
	ErrInvalidWorkers      = errors.New("workers must be non-negative")
)

// EstimationConfig controls plan construction and cell estimation.
type EstimationConfig struct {
	// Anticipation is the number of pre-treatment periods over which
	// behavior may already respond to upcoming treatment. The base
	// period shifts back by Anticipation+1.
	Anticipation int

	// DropLastPeriod excludes the final observed period from evaluation.
	// nil resolves to (Anticipation > 0): the last period's anticipation
	// status is unknowable when anticipation is in effect.
	DropLastPeriod *bool

	// ControlGroup defaults to ControlNeverTreated when empty.
	ControlGroup ControlGroup

	// StrictCells turns an unobserved base period into a fatal error
	// instead of a skipped cell.
	StrictCells bool

	// StrictBalance turns a unit missing one of the cell's two periods
	// into a fatal error instead of a counted drop.
	StrictBalance bool
}

// ResolveControlGroup returns the effective control group.
func (c *EstimationConfig) ResolveControlGroup() ControlGroup {
	if c.ControlGroup == "" {
		return ControlNeverTreated
	}
	return c.ControlGroup
}

// ResolveDropLast returns the effective drop-last-period setting.
func (c *EstimationConfig) ResolveDropLast() bool {
	if c.DropLastPeriod != nil {
		return *c.DropLastPeriod
	}
	return c.Anticipation > 0
}

// Validate checks the configuration before any estimation work starts.
func (c *EstimationConfig) Validate() error {
	if c.Anticipation < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAnticipation, c.Anticipation)
	}
	switch c.ResolveControlGroup() {
	case ControlNeverTreated, ControlNotYetTreated:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownControlGroup, c.ControlGroup)
	}
	return nil
}

// Fingerprint returns a canonical string for run identity hashing.
func (c *EstimationConfig) Fingerprint() string {
	return fmt.Sprintf("anticipation=%d|droplast=%t|control=%s|strictcells=%t|strictbalance=%t",
		c.Anticipation, c.ResolveDropLast(), c.ResolveControlGroup(), c.StrictCells, c.StrictBalance)
}

// BootstrapConfig controls the resampling inference layer.
type BootstrapConfig struct {
	Iterations int   // number of bootstrap draws
	Seed       int64 // RNG seed; 0 means time-based
	Workers    int   // parallel workers; 0 means runtime.NumCPU()
}

// Validate checks the bootstrap configuration.
func (c *BootstrapConfig) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidIterations, c.Iterations)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Workers)
	}
	return nil
}
