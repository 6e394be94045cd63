package aggregate

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"panel-did-lab/internal/domain"
)

// Overall computes the size-weighted average ATT across all post-treatment
// cells (event time >= 0). A group's weight is its size regardless of how
// many post periods it contributes, split evenly across those periods.
// Returns nil when no post-treatment cells exist.
func Overall(effects []domain.GroupTimeEffect, sizes map[int]int) (*domain.OverallEffect, error) {
	postPerGroup := make(map[int]int)
	for _, e := range effects {
		if e.EventTime() >= 0 {
			postPerGroup[e.Group]++
		}
	}
	if len(postPerGroup) == 0 {
		return nil, nil
	}

	var atts, weights []float64
	for _, e := range effects {
		if e.EventTime() < 0 {
			continue
		}
		size, ok := sizes[e.Group]
		if !ok || size <= 0 {
			return nil, fmt.Errorf("group %d: %w", e.Group, ErrMissingGroupSize)
		}
		atts = append(atts, e.ATT)
		weights = append(weights, float64(size)/float64(postPerGroup[e.Group]))
	}

	return &domain.OverallEffect{ATT: stat.Mean(atts, weights), Cells: len(atts)}, nil
}

// ByGroup computes each group's unweighted mean ATT across its
// post-treatment periods. Groups with no post-treatment cells are absent.
func ByGroup(effects []domain.GroupTimeEffect) []domain.GroupEffect {
	byGroup := make(map[int][]float64)
	for _, e := range effects {
		if e.EventTime() >= 0 {
			byGroup[e.Group] = append(byGroup[e.Group], e.ATT)
		}
	}

	out := make([]domain.GroupEffect, 0, len(byGroup))
	for g, atts := range byGroup {
		out = append(out, domain.GroupEffect{
			Group:   g,
			ATT:     stat.Mean(atts, nil),
			Periods: len(atts),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// ByPeriod computes, for each calendar period, the size-weighted mean ATT
// across the groups treated by that period.
func ByPeriod(effects []domain.GroupTimeEffect, sizes map[int]int) ([]domain.PeriodEffect, error) {
	byPeriod := make(map[int][]domain.GroupTimeEffect)
	for _, e := range effects {
		if e.EventTime() >= 0 {
			byPeriod[e.Period] = append(byPeriod[e.Period], e)
		}
	}

	out := make([]domain.PeriodEffect, 0, len(byPeriod))
	for period, cells := range byPeriod {
		atts := make([]float64, len(cells))
		weights := make([]float64, len(cells))
		for i, c := range cells {
			size, ok := sizes[c.Group]
			if !ok || size <= 0 {
				return nil, fmt.Errorf("period %d: group %d: %w", period, c.Group, ErrMissingGroupSize)
			}
			atts[i] = c.ATT
			weights[i] = float64(size)
		}
		out = append(out, domain.PeriodEffect{
			Period: period,
			ATT:    stat.Mean(atts, weights),
			Groups: len(cells),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}
