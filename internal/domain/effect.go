package domain

// GroupTimeEffect represents one estimated group-time ATT cell.
// Keyed uniquely by (Group, Period); immutable once computed.
// Corresponds to group_time_effects table in Postgres/ClickHouse.
type GroupTimeEffect struct {
	Group      int     // treatment onset period
	Period     int     // evaluation period
	BasePeriod int     // pre-treatment comparison period
	ATT        float64 // estimator output, stored unmodified

	// Cell composition after balance filtering
	TreatedUnits    int
	ComparisonUnits int
	DroppedUnits    int // units lacking an outcome at Period or BasePeriod
}

// EventTime returns the signed exposure length for this cell.
// Negative values are pre-treatment pseudo-effects.
func (e *GroupTimeEffect) EventTime() int {
	return e.Period - e.Group
}

// DynamicEffect represents the weighted-average ATT at one event time.
// SE is nil when no standard error is available: either inference was not
// requested, or fewer than two bootstrap draws produced this event time.
// Draws is the effective bootstrap iteration count behind SE.
// Corresponds to dynamic_effects table in Postgres/ClickHouse.
type DynamicEffect struct {
	EventTime int
	ATT       float64
	Groups    int // contributing group count
	SE        *float64
	Draws     int
}

// OverallEffect is the size-weighted average over all post-treatment cells.
type OverallEffect struct {
	ATT   float64
	Cells int // post-treatment cells contributing
}

// GroupEffect is the mean post-treatment ATT for one treatment group.
type GroupEffect struct {
	Group   int
	ATT     float64
	Periods int // post-treatment periods contributing
}

// PeriodEffect is the size-weighted mean ATT across groups treated by
// the given calendar period.
type PeriodEffect struct {
	Period int
	ATT    float64
	Groups int
}
