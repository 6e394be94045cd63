package att

// SkipReason explains why a planned cell produced no estimate.
type SkipReason string

const (
	// SkipBasePeriodUnobserved: the computed base period is not in the panel.
	SkipBasePeriodUnobserved SkipReason = "BASE_PERIOD_UNOBSERVED"
	// SkipNoTreatedUnits: no unit of the cell's group survived balance filtering.
	SkipNoTreatedUnits SkipReason = "NO_TREATED_UNITS"
	// SkipNoComparisonUnits: no eligible comparison unit survived balance filtering.
	SkipNoComparisonUnits SkipReason = "NO_COMPARISON_UNITS"
)

// SkippedCell records one cell excluded from the group-time table.
type SkippedCell struct {
	Group      int
	Period     int
	BasePeriod int
	Reason     SkipReason
}

// Diagnostics summarizes what the engine attempted and dropped.
// Skipped cells are never zero-filled into the output table; the counts
// here are the only trace they leave.
type Diagnostics struct {
	PlannedCells  int // all (group, period) pairs attempted, skips included
	ComputedCells int
	SkippedCells  []SkippedCell
	DroppedUnits  int // units lacking one of the cell's two periods, summed over cells
}
