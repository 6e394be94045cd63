package simulation

import (
	"context"
	"fmt"
	"log"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/storage"
)

// Runner generates scenario panels and persists them as named datasets.
type Runner struct {
	panelStore storage.PanelStore
	logger     *log.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	PanelStore storage.PanelStore // optional; nil generates without persisting
	Logger     *log.Logger
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		panelStore: opts.PanelStore,
		logger:     logger,
	}
}

// Run generates a scenario's panel and stores it under the dataset name.
// An empty dataset name defaults to the scenario name.
// Steps:
//  1. Generate the balanced panel (validates the scenario)
//  2. Persist rows under the dataset name
func (r *Runner) Run(ctx context.Context, sc Scenario, dataset string) ([]domain.Observation, error) {
	if dataset == "" {
		dataset = sc.Name
	}

	// 1. Generate the balanced panel
	rows, err := Generate(sc)
	if err != nil {
		return nil, err
	}

	// 2. Persist rows under the dataset name
	if r.panelStore != nil {
		if err := r.panelStore.InsertBatch(ctx, dataset, rows); err != nil {
			return nil, fmt.Errorf("persist dataset %s: %w", dataset, err)
		}
	}

	r.logger.Printf("[simulation] scenario %s: %d rows (%d units x %d periods) as dataset %s",
		sc.Name, len(rows), sc.NumUnits(), len(sc.sortedPeriods()), dataset)
	return rows, nil
}
