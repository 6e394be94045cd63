// Package verification implements run reproducibility checks.
// It verifies that stored estimation results match a re-run of the same
// dataset and configuration.
package verification

import (
	"context"
	"fmt"
	"math"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/pipeline"
)

// FloatTolerance is the tolerance for float64 comparisons. Re-runs go
// through the identical arithmetic, so anything past rounding noise is a
// real divergence.
const FloatTolerance = 1e-9

// FieldDivergence represents a mismatch between stored and recomputed values.
type FieldDivergence struct {
	Field    string      // field name, cell-qualified for effect rows
	Expected interface{} // stored value
	Actual   interface{} // recomputed value
}

// VerificationResult contains the result of verifying a single run.
type VerificationResult struct {
	RunID           string            // verified run ID
	Match           bool              // true if all fields match
	Divergences     []FieldDivergence // list of divergent fields
	StoredCells     int               // group-time rows read from storage
	RecomputedCells int               // group-time rows from the re-run
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalRuns     int                  // total runs verified
	MatchedRuns   int                  // runs that matched exactly
	DivergentRuns int                  // runs with divergences
	Results       []VerificationResult // individual results
}

// Verifier interface for run reproducibility verification.
type Verifier interface {
	// VerifyRun verifies a single run by ID.
	// It loads the stored run, re-estimates over the stored dataset with
	// the same configuration, and compares all persisted fields.
	VerifyRun(ctx context.Context, runID string) (*VerificationResult, error)

	// VerifyDataset verifies all stored runs over a dataset.
	// Returns a report with individual results.
	VerifyDataset(ctx context.Context, dataset string) (*VerificationReport, error)
}

// CompareRunRecords compares a stored registry row against a recomputed
// result and returns divergences. Wall-clock fields are not compared.
func CompareRunRecords(stored *domain.RunRecord, res *pipeline.Result) []FieldDivergence {
	var divergences []FieldDivergence

	// The run ID hashes rows plus configuration, so a mismatch means the
	// stored dataset or settings drifted since the run was recorded.
	if stored.RunID != res.RunID {
		divergences = append(divergences, FieldDivergence{
			Field:    "RunID",
			Expected: stored.RunID,
			Actual:   res.RunID,
		})
	}

	if stored.EstimatorID != res.EstimatorID {
		divergences = append(divergences, FieldDivergence{
			Field:    "EstimatorID",
			Expected: stored.EstimatorID,
			Actual:   res.EstimatorID,
		})
	}

	// Cell accounting
	if stored.PlannedCells != res.Diagnostics.PlannedCells {
		divergences = append(divergences, FieldDivergence{
			Field:    "PlannedCells",
			Expected: stored.PlannedCells,
			Actual:   res.Diagnostics.PlannedCells,
		})
	}

	if stored.ComputedCells != res.Diagnostics.ComputedCells {
		divergences = append(divergences, FieldDivergence{
			Field:    "ComputedCells",
			Expected: stored.ComputedCells,
			Actual:   res.Diagnostics.ComputedCells,
		})
	}

	if stored.SkippedCells != len(res.Diagnostics.SkippedCells) {
		divergences = append(divergences, FieldDivergence{
			Field:    "SkippedCells",
			Expected: stored.SkippedCells,
			Actual:   len(res.Diagnostics.SkippedCells),
		})
	}

	if stored.DroppedUnits != res.Diagnostics.DroppedUnits {
		divergences = append(divergences, FieldDivergence{
			Field:    "DroppedUnits",
			Expected: stored.DroppedUnits,
			Actual:   res.Diagnostics.DroppedUnits,
		})
	}

	// Bootstrap accounting; seeded draws rerun identically.
	if res.Bootstrap != nil {
		if stored.BootstrapIterations != res.Bootstrap.Iterations {
			divergences = append(divergences, FieldDivergence{
				Field:    "BootstrapIterations",
				Expected: stored.BootstrapIterations,
				Actual:   res.Bootstrap.Iterations,
			})
		}

		if stored.BootstrapFailed != res.Bootstrap.Failed {
			divergences = append(divergences, FieldDivergence{
				Field:    "BootstrapFailed",
				Expected: stored.BootstrapFailed,
				Actual:   res.Bootstrap.Failed,
			})
		}

		if stored.BootstrapSeed != res.Bootstrap.Seed {
			divergences = append(divergences, FieldDivergence{
				Field:    "BootstrapSeed",
				Expected: stored.BootstrapSeed,
				Actual:   res.Bootstrap.Seed,
			})
		}
	}

	return divergences
}

// CompareGroupTimeEffects compares stored cells against recomputed cells,
// keyed by (group, period). A cell present on one side only diverges as a
// whole; shared cells are compared field by field.
func CompareGroupTimeEffects(stored, recomputed []domain.GroupTimeEffect) []FieldDivergence {
	var divergences []FieldDivergence

	byCell := make(map[[2]int]domain.GroupTimeEffect, len(recomputed))
	for _, e := range recomputed {
		byCell[[2]int{e.Group, e.Period}] = e
	}

	seen := make(map[[2]int]bool, len(stored))
	for _, s := range stored {
		key := [2]int{s.Group, s.Period}
		seen[key] = true

		r, ok := byCell[key]
		if !ok {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("Cell(%d,%d)", s.Group, s.Period),
				Expected: s.ATT,
				Actual:   nil,
			})
			continue
		}

		prefix := fmt.Sprintf("Cell(%d,%d).", s.Group, s.Period)

		if s.BasePeriod != r.BasePeriod {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "BasePeriod",
				Expected: s.BasePeriod,
				Actual:   r.BasePeriod,
			})
		}

		if !floatEquals(s.ATT, r.ATT) {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "ATT",
				Expected: s.ATT,
				Actual:   r.ATT,
			})
		}

		if s.TreatedUnits != r.TreatedUnits {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "TreatedUnits",
				Expected: s.TreatedUnits,
				Actual:   r.TreatedUnits,
			})
		}

		if s.ComparisonUnits != r.ComparisonUnits {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "ComparisonUnits",
				Expected: s.ComparisonUnits,
				Actual:   r.ComparisonUnits,
			})
		}

		if s.DroppedUnits != r.DroppedUnits {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "DroppedUnits",
				Expected: s.DroppedUnits,
				Actual:   r.DroppedUnits,
			})
		}
	}

	for _, r := range recomputed {
		if !seen[[2]int{r.Group, r.Period}] {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("Cell(%d,%d)", r.Group, r.Period),
				Expected: nil,
				Actual:   r.ATT,
			})
		}
	}

	return divergences
}

// CompareDynamicEffects compares stored event-study rows against
// recomputed rows, keyed by event time.
func CompareDynamicEffects(stored, recomputed []domain.DynamicEffect) []FieldDivergence {
	var divergences []FieldDivergence

	byEventTime := make(map[int]domain.DynamicEffect, len(recomputed))
	for _, e := range recomputed {
		byEventTime[e.EventTime] = e
	}

	seen := make(map[int]bool, len(stored))
	for _, s := range stored {
		seen[s.EventTime] = true

		r, ok := byEventTime[s.EventTime]
		if !ok {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("EventTime(%d)", s.EventTime),
				Expected: s.ATT,
				Actual:   nil,
			})
			continue
		}

		prefix := fmt.Sprintf("EventTime(%d).", s.EventTime)

		if !floatEquals(s.ATT, r.ATT) {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "ATT",
				Expected: s.ATT,
				Actual:   r.ATT,
			})
		}

		if s.Groups != r.Groups {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "Groups",
				Expected: s.Groups,
				Actual:   r.Groups,
			})
		}

		if !floatPtrEquals(s.SE, r.SE) {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "SE",
				Expected: s.SE,
				Actual:   r.SE,
			})
		}

		if s.Draws != r.Draws {
			divergences = append(divergences, FieldDivergence{
				Field:    prefix + "Draws",
				Expected: s.Draws,
				Actual:   r.Draws,
			})
		}
	}

	for _, r := range recomputed {
		if !seen[r.EventTime] {
			divergences = append(divergences, FieldDivergence{
				Field:    fmt.Sprintf("EventTime(%d)", r.EventTime),
				Expected: nil,
				Actual:   r.ATT,
			})
		}
	}

	return divergences
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals compares two *float64 values within FloatTolerance.
// Returns true if both are nil, or both are non-nil and equal.
func floatPtrEquals(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEquals(*a, *b)
}
