package domain

import (
	"errors"
	"testing"
)

func TestResolveDropLastDefaultsFollowAnticipation(t *testing.T) {
	cfg := EstimationConfig{Anticipation: 0}
	if cfg.ResolveDropLast() {
		t.Error("expected drop-last false when anticipation is 0 and flag unset")
	}

	cfg = EstimationConfig{Anticipation: 1}
	if !cfg.ResolveDropLast() {
		t.Error("expected drop-last true when anticipation > 0 and flag unset")
	}
}

func TestResolveDropLastExplicitOverrides(t *testing.T) {
	keep := false
	cfg := EstimationConfig{Anticipation: 2, DropLastPeriod: &keep}
	if cfg.ResolveDropLast() {
		t.Error("explicit false must override the anticipation default")
	}

	drop := true
	cfg = EstimationConfig{Anticipation: 0, DropLastPeriod: &drop}
	if !cfg.ResolveDropLast() {
		t.Error("explicit true must override the anticipation default")
	}
}

func TestEstimationConfigValidate(t *testing.T) {
	cfg := EstimationConfig{Anticipation: -1}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidAnticipation) {
		t.Errorf("expected ErrInvalidAnticipation, got %v", err)
	}

	cfg = EstimationConfig{ControlGroup: "SOMETHING_ELSE"}
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownControlGroup) {
		t.Errorf("expected ErrUnknownControlGroup, got %v", err)
	}

	cfg = EstimationConfig{Anticipation: 1, ControlGroup: ControlNotYetTreated}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	// Empty control group resolves to never-treated.
	cfg = EstimationConfig{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected empty control group to validate, got %v", err)
	}
	if got := cfg.ResolveControlGroup(); got != ControlNeverTreated {
		t.Errorf("expected default control group NEVER_TREATED, got %s", got)
	}
}

func TestBootstrapConfigValidate(t *testing.T) {
	cfg := BootstrapConfig{Iterations: 0}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidIterations) {
		t.Errorf("expected ErrInvalidIterations, got %v", err)
	}

	cfg = BootstrapConfig{Iterations: 100, Workers: -1}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidWorkers) {
		t.Errorf("expected ErrInvalidWorkers, got %v", err)
	}

	cfg = BootstrapConfig{Iterations: 100}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestGroupTimeEffectEventTime(t *testing.T) {
	e := GroupTimeEffect{Group: 4, Period: 3}
	if got := e.EventTime(); got != -1 {
		t.Errorf("expected event time -1, got %d", got)
	}

	e = GroupTimeEffect{Group: 3, Period: 5}
	if got := e.EventTime(); got != 2 {
		t.Errorf("expected event time 2, got %d", got)
	}
}

func TestObservationValidate(t *testing.T) {
	o := Observation{UnitID: "", Period: 1, Group: 0}
	if err := o.Validate(); !errors.Is(err, ErrEmptyUnitID) {
		t.Errorf("expected ErrEmptyUnitID, got %v", err)
	}

	o = Observation{UnitID: "u1", Period: 1, Group: -2}
	if err := o.Validate(); !errors.Is(err, ErrNegativeGroup) {
		t.Errorf("expected ErrNegativeGroup, got %v", err)
	}

	o = Observation{UnitID: "u1", Period: 1, Group: 0, Outcome: 1.5}
	if err := o.Validate(); err != nil {
		t.Errorf("expected valid observation, got %v", err)
	}
}

func TestObservationTreated(t *testing.T) {
	// Never-treated units are never treated, regardless of period.
	o := Observation{UnitID: "u1", Period: 9, Group: GroupNeverTreated}
	if o.Treated() {
		t.Error("never-treated unit reported as treated")
	}

	o = Observation{UnitID: "u2", Period: 2, Group: 3}
	if o.Treated() {
		t.Error("unit treated at 3 reported treated at period 2")
	}

	o = Observation{UnitID: "u2", Period: 3, Group: 3}
	if !o.Treated() {
		t.Error("unit treated at 3 not reported treated at period 3")
	}
}
