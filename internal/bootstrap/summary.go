package bootstrap

import (
	"gonum.org/v1/gonum/stat"

	"panel-did-lab/internal/domain"
)

// Summary holds the bootstrap distribution across all iterations.
type Summary struct {
	Iterations int   // requested iteration count
	Failed     int   // iterations excluded entirely
	Seed       int64 // effective root seed

	slots []iteration
}

// SE returns the sample standard deviation of an event time's estimates
// across the iterations that produced it, along with the effective draw
// count. ok is false when fewer than two draws carry the event time; the
// standard error is then unavailable rather than zero.
func (s *Summary) SE(eventTime int) (se float64, draws int, ok bool) {
	var values []float64
	for i := range s.slots {
		if s.slots[i].failed {
			continue
		}
		if v, present := s.slots[i].draws[eventTime]; present {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return 0, len(values), false
	}
	return stat.StdDev(values, nil), len(values), true
}

// Apply merges standard errors into a copy of the point estimates.
// Event times missing from some draws use only the draws where they are
// present; the per-effect Draws field records the shortfall.
func (s *Summary) Apply(points []domain.DynamicEffect) []domain.DynamicEffect {
	out := make([]domain.DynamicEffect, len(points))
	for i, p := range points {
		se, draws, ok := s.SE(p.EventTime)
		p.Draws = draws
		if ok {
			v := se
			p.SE = &v
		} else {
			p.SE = nil
		}
		out[i] = p
	}
	return out
}

// MinDraws returns the smallest effective draw count across the given
// effects, or 0 when there are none. A value below Iterations-Failed
// means some draws were missing event times.
func (s *Summary) MinDraws(points []domain.DynamicEffect) int {
	min := 0
	for i, p := range points {
		_, draws, _ := s.SE(p.EventTime)
		if i == 0 || draws < min {
			min = draws
		}
	}
	return min
}
