// Package estimator defines the two-by-two ATT boundary: given one cell's
// pre/post outcome vectors and a treatment indicator, produce a scalar ATT.
// Implementations are swappable; the engine treats any estimator error as
// fatal to the enclosing run.
package estimator

import (
	"context"
	"errors"
	"fmt"
)

// Estimator errors
var (
	ErrEmptyInput            = errors.New("empty estimator input")
	ErrLengthMismatch        = errors.New("input vectors differ in length")
	ErrBadTreatmentValue     = errors.New("treatment indicator must be 0 or 1")
	ErrMissingArm            = errors.New("input lacks a treated or comparison arm")
	ErrCovariatesUnsupported = errors.New("estimator does not support covariates")
)

// Estimator computes a single group-time ATT from one cell.
type Estimator interface {
	// EstimateATT returns the ATT for aligned pre/post outcome vectors.
	// The output is recorded unmodified as the cell's estimate.
	EstimateATT(ctx context.Context, input *Input) (float64, error)

	// ID returns the estimator identifier.
	ID() string
}

// Input holds one cell's data, aligned by unit across all fields.
type Input struct {
	Post       []float64   // outcome at the evaluation period
	Pre        []float64   // outcome at the base period
	Treated    []int       // 1 = group under evaluation, 0 = comparison
	Covariates [][]float64 // optional per-unit covariates; nil when absent
}

// Validate checks vector alignment and indicator values.
func (in *Input) Validate() error {
	n := len(in.Post)
	if n == 0 {
		return ErrEmptyInput
	}
	if len(in.Pre) != n || len(in.Treated) != n {
		return fmt.Errorf("%w: post=%d pre=%d treated=%d", ErrLengthMismatch, n, len(in.Pre), len(in.Treated))
	}
	if in.Covariates != nil && len(in.Covariates) != n {
		return fmt.Errorf("%w: post=%d covariates=%d", ErrLengthMismatch, n, len(in.Covariates))
	}
	for i, d := range in.Treated {
		if d != 0 && d != 1 {
			return fmt.Errorf("%w: index %d holds %d", ErrBadTreatmentValue, i, d)
		}
	}
	return nil
}
