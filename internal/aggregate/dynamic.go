// Package aggregate converts the group-time ATT table into summary
// parameters. The dynamic (event-time) aggregation is the primary one;
// overall, per-group, and per-period summaries cover the post-treatment
// cells only.
package aggregate

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"panel-did-lab/internal/domain"
)

// Aggregation errors
var (
	// ErrMissingGroupSize means a contributing group has no positive size.
	ErrMissingGroupSize = errors.New("missing or non-positive group size")
)

// Dynamic computes the weighted-average ATT by event time.
//
// Each group's weight at event time e is its size divided by the summed
// sizes of all groups with a result at e; the set of contributing groups
// varies by e, so weights are renormalized per event time. An event time
// with a single contributing group returns that group's ATT with weight 1.
// Event times with no contributing cells never appear in the output.
func Dynamic(effects []domain.GroupTimeEffect, sizes map[int]int) ([]domain.DynamicEffect, error) {
	byEvent := make(map[int][]domain.GroupTimeEffect)
	for _, e := range effects {
		byEvent[e.EventTime()] = append(byEvent[e.EventTime()], e)
	}

	out := make([]domain.DynamicEffect, 0, len(byEvent))
	for eventTime, cells := range byEvent {
		atts := make([]float64, len(cells))
		weights := make([]float64, len(cells))
		for i, c := range cells {
			size, ok := sizes[c.Group]
			if !ok || size <= 0 {
				return nil, fmt.Errorf("event time %d: group %d: %w", eventTime, c.Group, ErrMissingGroupSize)
			}
			atts[i] = c.ATT
			weights[i] = float64(size)
		}
		out = append(out, domain.DynamicEffect{
			EventTime: eventTime,
			ATT:       stat.Mean(atts, weights),
			Groups:    len(cells),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EventTime < out[j].EventTime })
	return out, nil
}
