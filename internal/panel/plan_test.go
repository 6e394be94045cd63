package panel

import (
	"errors"
	"testing"

	"panel-did-lab/internal/domain"
)

// scenarioPanel builds one unit per group over the given periods.
func scenarioPanel(t *testing.T, groups []int, periods []int) *Panel {
	t.Helper()
	var rows []domain.Observation
	for i, g := range groups {
		unit := string(rune('a' + i))
		for _, period := range periods {
			rows = append(rows, obs(unit, period, g, 0))
		}
	}
	p, err := New(rows)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestBuildPlan_BasePeriodRule(t *testing.T) {
	// Groups {0,2,3,4,5}, periods 1..5, anticipation 1.
	// Usable periods: drop the earliest 1+1=2, drop the last (anticipation
	// default) → {3, 4}.
	p := scenarioPanel(t, []int{0, 2, 3, 4, 5}, []int{1, 2, 3, 4, 5})
	plan, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 1})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	usable := plan.UsablePeriods()
	if len(usable) != 2 || usable[0] != 3 || usable[1] != 4 {
		t.Fatalf("expected usable periods [3 4], got %v", usable)
	}

	// Every cell obeys b = g-(A+1) when t >= g, b = t-(A+1) when t < g,
	// and b < t throughout.
	for _, c := range plan.Cells() {
		want := c.Group - 2
		if c.Period < c.Group {
			want = c.Period - 2
		}
		if c.BasePeriod != want {
			t.Errorf("cell (g=%d, t=%d): expected base %d, got %d", c.Group, c.Period, want, c.BasePeriod)
		}
		if c.BasePeriod >= c.Period {
			t.Errorf("cell (g=%d, t=%d): base %d not strictly before evaluation", c.Group, c.Period, c.BasePeriod)
		}
	}

	// Group 2 wants base 2-2=0 for both usable periods; 0 is unobserved,
	// so both cells are skipped, never zero-filled.
	for _, c := range plan.Cells() {
		if c.Group == 2 {
			t.Errorf("group 2 cell (t=%d) should be infeasible, base period 0 unobserved", c.Period)
		}
	}
	skippedG2 := 0
	for _, c := range plan.Skipped() {
		if c.Group == 2 {
			skippedG2++
			if c.BasePeriod != 0 {
				t.Errorf("skipped group 2 cell: expected base 0, got %d", c.BasePeriod)
			}
		}
	}
	if skippedG2 != 2 {
		t.Errorf("expected 2 skipped cells for group 2, got %d", skippedG2)
	}

	// Feasible cells: g=3 at t=3 (b=1), t=4 (b=1); g=4 at t=3 (b=1 pre),
	// t=4 (b=2); g=5 at t=3 (b=1 pre), t=4 (b=2 pre). Six in total.
	if got := len(plan.Cells()); got != 6 {
		t.Errorf("expected 6 estimable cells, got %d", got)
	}
}

func TestBuildPlan_CellOrderingDeterministic(t *testing.T) {
	p := scenarioPanel(t, []int{0, 2, 3, 4, 5}, []int{1, 2, 3, 4, 5})
	plan, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 1})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	cells := plan.Cells()
	for i := 1; i < len(cells); i++ {
		prev, cur := cells[i-1], cells[i]
		if cur.Group < prev.Group || (cur.Group == prev.Group && cur.Period <= prev.Period) {
			t.Errorf("cells out of (group, period) order at %d: %+v then %+v", i, prev, cur)
		}
	}
}

func TestBuildPlan_NoAnticipationKeepsLastPeriod(t *testing.T) {
	// Two periods, two groups: the minimal estimable design. With A=0 the
	// last period must survive, leaving exactly one cell (g=2, t=2, b=1).
	p := scenarioPanel(t, []int{0, 2}, []int{1, 2})
	plan, err := BuildPlan(p, domain.EstimationConfig{})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	cells := plan.Cells()
	if len(cells) != 1 {
		t.Fatalf("expected 1 cell, got %d", len(cells))
	}
	c := cells[0]
	if c.Group != 2 || c.Period != 2 || c.BasePeriod != 1 {
		t.Errorf("expected cell (g=2, t=2, b=1), got %+v", c)
	}
}

func TestBuildPlan_InfeasibleConfiguration(t *testing.T) {
	// Three periods with anticipation 2: trimming the earliest 3 leaves none.
	p := scenarioPanel(t, []int{0, 3}, []int{1, 2, 3})
	_, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 2})
	if !errors.Is(err, ErrNoUsablePeriods) {
		t.Errorf("expected ErrNoUsablePeriods, got %v", err)
	}

	// Anticipation 1 trims two periods and the default drop-last takes
	// the third: also infeasible.
	_, err = BuildPlan(p, domain.EstimationConfig{Anticipation: 1})
	if !errors.Is(err, ErrNoUsablePeriods) {
		t.Errorf("expected ErrNoUsablePeriods with drop-last, got %v", err)
	}

	// Keeping the last period makes it estimable again.
	keep := false
	plan, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 1, DropLastPeriod: &keep})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.UsablePeriods()) != 1 || plan.UsablePeriods()[0] != 3 {
		t.Errorf("expected usable periods [3], got %v", plan.UsablePeriods())
	}
}

func TestBuildPlan_AnticipationMonotonicity(t *testing.T) {
	// Growing the anticipation horizon never grows the usable period set.
	p := scenarioPanel(t, []int{0, 4}, []int{1, 2, 3, 4, 5, 6})
	keep := false

	prev := -1
	for a := 0; a <= 4; a++ {
		plan, err := BuildPlan(p, domain.EstimationConfig{Anticipation: a, DropLastPeriod: &keep})
		if err != nil {
			t.Fatalf("anticipation %d: %v", a, err)
		}
		n := len(plan.UsablePeriods())
		if prev >= 0 && n > prev {
			t.Errorf("anticipation %d: usable periods grew from %d to %d", a, prev, n)
		}
		prev = n
	}

	// Anticipation 5 consumes all six periods.
	_, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 5, DropLastPeriod: &keep})
	if !errors.Is(err, ErrNoUsablePeriods) {
		t.Errorf("expected ErrNoUsablePeriods at anticipation 5, got %v", err)
	}
}

func TestBuildPlan_StrictCells(t *testing.T) {
	// Group 2 with anticipation 1 wants base period 0, which is unobserved.
	p := scenarioPanel(t, []int{0, 2, 3}, []int{1, 2, 3, 4, 5})
	_, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 1, StrictCells: true})
	if !errors.Is(err, ErrBasePeriodMissing) {
		t.Errorf("expected ErrBasePeriodMissing in strict mode, got %v", err)
	}
}

func TestBuildPlan_NonConsecutivePeriods(t *testing.T) {
	// Periods 1,2,4,5 with group 5: for t=4 < g the base is t-1=3, which
	// is unobserved even though later periods exist.
	p := scenarioPanel(t, []int{0, 5}, []int{1, 2, 4, 5})
	plan, err := BuildPlan(p, domain.EstimationConfig{})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	var skippedAt4 bool
	for _, c := range plan.Skipped() {
		if c.Group == 5 && c.Period == 4 && c.BasePeriod == 3 {
			skippedAt4 = true
		}
	}
	if !skippedAt4 {
		t.Error("expected cell (g=5, t=4) skipped for unobserved base period 3")
	}

	// t=5 >= g uses base g-1=4, which is observed.
	var found bool
	for _, c := range plan.Cells() {
		if c.Group == 5 && c.Period == 5 {
			found = true
			if c.BasePeriod != 4 {
				t.Errorf("cell (g=5, t=5): expected base 4, got %d", c.BasePeriod)
			}
		}
	}
	if !found {
		t.Error("expected estimable cell (g=5, t=5)")
	}
}

func TestBuildPlan_ValidatesConfig(t *testing.T) {
	p := scenarioPanel(t, []int{0, 2}, []int{1, 2})
	_, err := BuildPlan(p, domain.EstimationConfig{Anticipation: -1})
	if !errors.Is(err, domain.ErrInvalidAnticipation) {
		t.Errorf("expected ErrInvalidAnticipation, got %v", err)
	}
}

func TestPlanEventTimes(t *testing.T) {
	p := scenarioPanel(t, []int{0, 2, 3, 4, 5}, []int{1, 2, 3, 4, 5})
	plan, err := BuildPlan(p, domain.EstimationConfig{Anticipation: 1})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	// Cells: g=3 t=3,4 → e=0,1; g=4 t=3,4 → e=-1,0; g=5 t=3,4 → e=-2,-1.
	want := []int{-2, -1, 0, 1}
	got := plan.EventTimes()
	if len(got) != len(want) {
		t.Fatalf("expected event times %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected event times %v, got %v", want, got)
		}
	}
}
