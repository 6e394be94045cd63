package domain

// RunRecord is the registry entry persisted for one completed estimation
// run. Config settings are stored in resolved form so a reader never has
// to re-apply defaulting rules.
type RunRecord struct {
	RunID       string
	Dataset     string
	EstimatorID string

	// Resolved estimation settings.
	Anticipation  int
	DropLast      bool
	ControlGroup  ControlGroup
	StrictCells   bool
	StrictBalance bool

	// Cell accounting from run diagnostics.
	PlannedCells  int
	ComputedCells int
	SkippedCells  int
	DroppedUnits  int

	// Bootstrap accounting; all zero when inference was not requested.
	BootstrapIterations int
	BootstrapFailed     int
	BootstrapSeed       int64

	StartedAt   int64 // Unix milliseconds
	CompletedAt int64 // Unix milliseconds
}
