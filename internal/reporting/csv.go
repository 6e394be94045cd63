// Package reporting renders estimation results as CSV tables and a
// Markdown run report.
package reporting

import (
	"fmt"
	"strings"

	"panel-did-lab/internal/domain"
)

// RenderGroupTimeCSV renders the group-time effect table as CSV string.
func RenderGroupTimeCSV(effects []domain.GroupTimeEffect) string {
	var sb strings.Builder

	sb.WriteString("treat_group,time_period,base_period,event_time,att,")
	sb.WriteString("treated_units,comparison_units,dropped_units\n")

	for i := range effects {
		e := &effects[i]
		sb.WriteString(fmt.Sprintf("%d,%d,%d,%d,%.6f,%d,%d,%d\n",
			e.Group,
			e.Period,
			e.BasePeriod,
			e.EventTime(),
			e.ATT,
			e.TreatedUnits,
			e.ComparisonUnits,
			e.DroppedUnits,
		))
	}

	return sb.String()
}

// RenderDynamicCSV renders the event-time effect table as CSV string.
// The se column is empty when no standard error is available.
func RenderDynamicCSV(effects []domain.DynamicEffect) string {
	var sb strings.Builder

	sb.WriteString("event_time,att,se,groups,draws\n")

	for _, e := range effects {
		se := ""
		if e.SE != nil {
			se = fmt.Sprintf("%.6f", *e.SE)
		}
		sb.WriteString(fmt.Sprintf("%d,%.6f,%s,%d,%d\n",
			e.EventTime,
			e.ATT,
			se,
			e.Groups,
			e.Draws,
		))
	}

	return sb.String()
}

// RenderGroupCSV renders the per-group effect table as CSV string.
func RenderGroupCSV(effects []domain.GroupEffect) string {
	var sb strings.Builder

	sb.WriteString("treat_group,att,periods\n")

	for _, e := range effects {
		sb.WriteString(fmt.Sprintf("%d,%.6f,%d\n",
			e.Group,
			e.ATT,
			e.Periods,
		))
	}

	return sb.String()
}
