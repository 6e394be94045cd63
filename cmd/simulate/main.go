// Package main provides the scenario simulation entry point. It generates
// a synthetic staggered-adoption panel with a known effect and estimates
// it twice on the same rows: once ignoring anticipation and once adjusting
// for it, so the anticipation bias is visible against the truth.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/observability"
	"panel-did-lab/internal/panelio"
	"panel-did-lab/internal/pipeline"
	"panel-did-lab/internal/simulation"
	"panel-did-lab/internal/storage"
	"panel-did-lab/internal/storage/migrations"
	pgstore "panel-did-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	scenarioPath := flag.String("scenario", "", "Scenario YAML path (default: built-in staggered baseline)")
	output := flag.String("output", "", "Write the generated panel as CSV to this path")
	bootstrapIters := flag.Int("bootstrap", 0, "Bootstrap iterations per run (0 disables inference)")
	seed := flag.Int64("seed", 0, "Bootstrap RNG seed (0 derives from time)")
	workers := flag.Int("workers", 0, "Parallel workers (0 uses all CPUs)")
	postgresDSN := flag.String("postgres-dsn", "", "Persist the generated panel to PostgreSQL")
	dataset := flag.String("dataset", "", "Dataset name for persistence (default: scenario name)")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[simulate] ", log.LstdFlags|log.Lshortfile)

	// Load the scenario
	sc := simulation.DefaultScenario()
	if *scenarioPath != "" {
		var err error
		sc, err = simulation.LoadScenario(*scenarioPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading scenario: %v\n", err)
			os.Exit(1)
		}
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling run...\n", sig)
		cancel()
	}()

	fmt.Println("=== Scenario ===")
	fmt.Printf("Name: %s\n", sc.Name)
	fmt.Printf("Units: %d across %d groups, periods %v\n", sc.NumUnits(), len(sc.Units), sc.Periods)
	fmt.Printf("Truth: effect %+.2f after onset, dip %+.2f over %d pre periods, noise %.2f, seed %d\n",
		sc.Effect, sc.AnticipationDip, sc.AnticipationLead, sc.Noise, sc.Seed)

	// Generate the panel, optionally persisting it as a dataset
	rows, err := generatePanel(ctx, logger, sc, *postgresDSN, *dataset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating panel: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writePanelCSV(*output, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing panel: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Panel written to %s\n", *output)
	}

	boot := domain.BootstrapConfig{Iterations: *bootstrapIters, Seed: *seed, Workers: *workers}
	start := time.Now()

	// Naive run: pretend there is no anticipation
	fmt.Println("\n=== Naive run (anticipation = 0) ===")
	naive, err := runEstimate(ctx, logger, rows, domain.EstimationConfig{Anticipation: 0}, boot, *workers)
	if err != nil {
		observability.RecordRun("simulate", "error", time.Since(start).Seconds())
		fmt.Fprintf(os.Stderr, "Error running naive estimation: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run %s: %d cells computed\n", naive.RunID, naive.Diagnostics.ComputedCells)

	// Adjusted run: anticipation horizon matches the scenario lead
	fmt.Printf("\n=== Adjusted run (anticipation = %d) ===\n", sc.AnticipationLead)
	adjusted, err := runEstimate(ctx, logger, rows, domain.EstimationConfig{Anticipation: sc.AnticipationLead}, boot, *workers)
	if err != nil {
		observability.RecordRun("simulate", "error", time.Since(start).Seconds())
		fmt.Fprintf(os.Stderr, "Error running adjusted estimation: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run %s: %d cells computed\n", adjusted.RunID, adjusted.Diagnostics.ComputedCells)

	observability.RecordRun("simulate", "success", time.Since(start).Seconds())

	printComparison(sc, naive, adjusted)
}

// generatePanel builds the scenario panel, storing it as a dataset when a
// DSN is given. An already-stored dataset is regenerated without
// persistence; equal scenarios generate equal panels.
func generatePanel(ctx context.Context, logger *log.Logger, sc simulation.Scenario, dsn, dataset string) ([]domain.Observation, error) {
	var panelStore storage.PanelStore
	if dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		panelStore = pgstore.NewPanelStore(pool)
	}

	runner := simulation.NewRunner(simulation.RunnerOptions{PanelStore: panelStore, Logger: logger})
	rows, err := runner.Run(ctx, sc, dataset)
	if errors.Is(err, storage.ErrDuplicateKey) {
		logger.Printf("Dataset already stored, continuing without persistence")
		return simulation.Generate(sc)
	}
	return rows, err
}

// writePanelCSV writes the panel rows to a CSV file.
func writePanelCSV(path string, rows []domain.Observation) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := panelio.WriteCSV(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// runEstimate runs one pipeline over the rows with the given configuration.
func runEstimate(ctx context.Context, logger *log.Logger, rows []domain.Observation, cfg domain.EstimationConfig, boot domain.BootstrapConfig, workers int) (*pipeline.Result, error) {
	pl, err := pipeline.New(pipeline.Options{
		Estimator: estimator.NewDiffInMeans(),
		Config:    cfg,
		Bootstrap: boot,
		Workers:   workers,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if boot.Iterations > 0 {
		return pl.RunWithInference(ctx, rows)
	}
	return pl.Run(ctx, rows)
}

// printComparison prints both dynamic tables against the data-generating
// truth, one row per event time present in either run.
func printComparison(sc simulation.Scenario, naive, adjusted *pipeline.Result) {
	naiveAt := dynamicByEventTime(naive.Dynamic)
	adjustedAt := dynamicByEventTime(adjusted.Dynamic)

	eventTimes := make(map[int]struct{})
	for et := range naiveAt {
		eventTimes[et] = struct{}{}
	}
	for et := range adjustedAt {
		eventTimes[et] = struct{}{}
	}
	sorted := make([]int, 0, len(eventTimes))
	for et := range eventTimes {
		sorted = append(sorted, et)
	}
	sort.Ints(sorted)

	fmt.Println("\n=== Dynamic effects vs truth ===")
	fmt.Println("Event time | Truth  | Naive ATT | Adjusted ATT")
	fmt.Println("-----------+--------+-----------+-------------")
	for _, et := range sorted {
		fmt.Printf("%10d | %6.2f | %9s | %12s\n",
			et, truthAt(sc, et), formatATT(naiveAt[et], 9), formatATT(adjustedAt[et], 12))
	}

	if naive.Overall != nil && adjusted.Overall != nil {
		fmt.Printf("\nOverall ATT: naive %.4f, adjusted %.4f (truth %.2f)\n",
			naive.Overall.ATT, adjusted.Overall.ATT, sc.Effect)
	}
}

// dynamicByEventTime indexes a dynamic table by event time.
func dynamicByEventTime(effects []domain.DynamicEffect) map[int]*domain.DynamicEffect {
	byET := make(map[int]*domain.DynamicEffect, len(effects))
	for i := range effects {
		byET[effects[i].EventTime] = &effects[i]
	}
	return byET
}

// truthAt returns the data-generating effect at an event time.
func truthAt(sc simulation.Scenario, eventTime int) float64 {
	switch {
	case eventTime >= 0:
		return sc.Effect
	case eventTime >= -sc.AnticipationLead:
		return sc.AnticipationDip
	default:
		return 0
	}
}

// formatATT renders an estimate right-aligned to the column width, or n/a
// when the run has no row at that event time.
func formatATT(e *domain.DynamicEffect, width int) string {
	if e == nil {
		return fmt.Sprintf("%*s", width, "n/a")
	}
	return fmt.Sprintf("%*.4f", width, e.ATT)
}
