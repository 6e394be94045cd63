package estimator

import "context"

// DiffInMeans is the unadjusted two-by-two DID estimator: the mean outcome
// change of treated units minus the mean outcome change of comparison units.
// It rejects covariates rather than silently ignoring them; a caller asking
// for adjustment must plug in an estimator that performs it.
type DiffInMeans struct{}

// NewDiffInMeans creates the default unadjusted estimator.
func NewDiffInMeans() *DiffInMeans {
	return &DiffInMeans{}
}

// ID returns the estimator identifier.
func (e *DiffInMeans) ID() string {
	return "DIFF_IN_MEANS"
}

// EstimateATT computes mean(post-pre | treated) - mean(post-pre | comparison).
func (e *DiffInMeans) EstimateATT(_ context.Context, input *Input) (float64, error) {
	if err := input.Validate(); err != nil {
		return 0, err
	}
	if input.Covariates != nil {
		return 0, ErrCovariatesUnsupported
	}

	var treatedSum, comparisonSum float64
	var treatedN, comparisonN int
	for i := range input.Post {
		delta := input.Post[i] - input.Pre[i]
		if input.Treated[i] == 1 {
			treatedSum += delta
			treatedN++
		} else {
			comparisonSum += delta
			comparisonN++
		}
	}

	if treatedN == 0 || comparisonN == 0 {
		return 0, ErrMissingArm
	}

	return treatedSum/float64(treatedN) - comparisonSum/float64(comparisonN), nil
}

// Ensure DiffInMeans implements Estimator
var _ Estimator = (*DiffInMeans)(nil)
