package aggregate

import (
	"errors"
	"math"
	"testing"

	"panel-did-lab/internal/domain"
)

func TestOverall_PostCellsOnly(t *testing.T) {
	// Group 2 (size 1): post cells ATT 1.0 and 3.0 → group mean 2.0.
	// Group 4 (size 3): post cell ATT 4.0. Pre-treatment cell ignored.
	// Overall = (1*2.0 + 3*4.0) / 4 = 3.5.
	effects := []domain.GroupTimeEffect{
		gt(2, 2, 1.0),  // e=0
		gt(2, 3, 3.0),  // e=1
		gt(4, 4, 4.0),  // e=0
		gt(4, 3, -9.0), // e=-1, must not contribute
	}
	sizes := map[int]int{2: 1, 4: 3}

	out, err := Overall(effects, sizes)
	if err != nil {
		t.Fatalf("Overall: %v", err)
	}
	if out == nil {
		t.Fatal("expected an overall effect")
	}
	if math.Abs(out.ATT-3.5) > 1e-12 {
		t.Errorf("expected overall ATT 3.5, got %f", out.ATT)
	}
	if out.Cells != 3 {
		t.Errorf("expected 3 contributing cells, got %d", out.Cells)
	}
}

func TestOverall_NoPostCells(t *testing.T) {
	effects := []domain.GroupTimeEffect{gt(4, 3, -1.0)} // e=-1 only
	out, err := Overall(effects, map[int]int{4: 2})
	if err != nil {
		t.Fatalf("Overall: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil overall effect, got %+v", out)
	}
}

func TestOverall_MissingGroupSize(t *testing.T) {
	effects := []domain.GroupTimeEffect{gt(2, 2, 1.0)}
	_, err := Overall(effects, map[int]int{})
	if !errors.Is(err, ErrMissingGroupSize) {
		t.Errorf("expected ErrMissingGroupSize, got %v", err)
	}
}

func TestByGroup_MeansAndOrdering(t *testing.T) {
	effects := []domain.GroupTimeEffect{
		gt(3, 3, 2.0),  // g=3, e=0
		gt(3, 4, 4.0),  // g=3, e=1
		gt(2, 2, 1.0),  // g=2, e=0
		gt(3, 2, -5.0), // g=3, e=-1, ignored
	}

	out := ByGroup(effects)
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	if out[0].Group != 2 || out[1].Group != 3 {
		t.Errorf("expected groups [2 3], got [%d %d]", out[0].Group, out[1].Group)
	}
	if out[0].ATT != 1.0 || out[0].Periods != 1 {
		t.Errorf("group 2: expected ATT 1.0 over 1 period, got %+v", out[0])
	}
	// Group 3: (2.0 + 4.0) / 2 = 3.0 over 2 post periods.
	if out[1].ATT != 3.0 || out[1].Periods != 2 {
		t.Errorf("group 3: expected ATT 3.0 over 2 periods, got %+v", out[1])
	}
}

func TestByPeriod_SizeWeighted(t *testing.T) {
	// Period 3: group 2 (size 1, ATT 2.0) and group 3 (size 3, ATT 6.0).
	// Weighted: (1*2 + 3*6) / 4 = 5.0. Pre-treatment cell at period 3
	// (group 4) is ignored.
	effects := []domain.GroupTimeEffect{
		gt(2, 3, 2.0),
		gt(3, 3, 6.0),
		gt(4, 3, 99.0), // e=-1
		gt(2, 2, 1.0),  // period 2
	}
	sizes := map[int]int{2: 1, 3: 3, 4: 5}

	out, err := ByPeriod(effects, sizes)
	if err != nil {
		t.Fatalf("ByPeriod: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(out))
	}
	if out[0].Period != 2 || out[1].Period != 3 {
		t.Errorf("expected periods [2 3], got [%d %d]", out[0].Period, out[1].Period)
	}
	if math.Abs(out[1].ATT-5.0) > 1e-12 {
		t.Errorf("period 3: expected ATT 5.0, got %f", out[1].ATT)
	}
	if out[1].Groups != 2 {
		t.Errorf("period 3: expected 2 contributing groups, got %d", out[1].Groups)
	}
}
