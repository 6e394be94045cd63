// Package main provides the one-shot estimation entry point.
// Executes: panel load → cell estimation → aggregation → optional
// bootstrap inference → run artifacts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"panel-did-lab/internal/att"
	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/observability"
	"panel-did-lab/internal/panelio"
	"panel-did-lab/internal/pipeline"
	"panel-did-lab/internal/reporting"
	"panel-did-lab/internal/storage"
	chstore "panel-did-lab/internal/storage/clickhouse"
	"panel-did-lab/internal/storage/migrations"
	pgstore "panel-did-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	input := flag.String("input", "", "Panel CSV path (unit_id,time_period,group,outcome[,x1..xN])")
	postgresDSN := flag.String("postgres-dsn", "", "Read the panel from PostgreSQL instead of a CSV")
	dataset := flag.String("dataset", "", "Dataset name when reading from PostgreSQL")
	anticipation := flag.Int("anticipation", 0, "Anticipation horizon in periods")
	controlGroup := flag.String("control-group", "", "Control group: NEVER_TREATED or NOT_YET_TREATED (default NEVER_TREATED)")
	dropLast := flag.String("drop-last", "auto", "Drop the last observed period: auto, true, or false")
	bootstrapIters := flag.Int("bootstrap", 0, "Bootstrap iterations (0 disables inference)")
	seed := flag.Int64("seed", 0, "Bootstrap RNG seed (0 derives from time)")
	workers := flag.Int("workers", 0, "Parallel workers (0 uses all CPUs)")
	strictCells := flag.Bool("strict-cells", false, "Fail on unobserved base periods instead of skipping cells")
	strictBalance := flag.Bool("strict-balance", false, "Fail on units missing a cell period instead of dropping them")
	outputDir := flag.String("output-dir", "output", "Output directory for run artifacts")
	storeDSN := flag.String("store-dsn", "", "PostgreSQL connection string for persisting the run")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for mirroring result tables")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[estimate] ", log.LstdFlags|log.Lshortfile)

	// Validate flags
	if (*input == "") == (*postgresDSN == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --input or --postgres-dsn is required")
		os.Exit(1)
	}
	if *postgresDSN != "" && *dataset == "" {
		fmt.Fprintln(os.Stderr, "Error: --dataset is required with --postgres-dsn")
		os.Exit(1)
	}

	cfg, err := buildConfig(*anticipation, *controlGroup, *dropLast, *strictCells, *strictBalance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
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

	// Load the panel
	rows, datasetName, err := loadPanel(ctx, *input, *postgresDSN, *dataset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading panel: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d observations (dataset %s)\n", len(rows), datasetName)

	// Create the pipeline
	pl, err := pipeline.New(pipeline.Options{
		Estimator: estimator.NewDiffInMeans(),
		Config:    cfg,
		Bootstrap: domain.BootstrapConfig{Iterations: *bootstrapIters, Seed: *seed, Workers: *workers},
		Workers:   *workers,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating pipeline: %v\n", err)
		os.Exit(1)
	}

	// Run estimation
	fmt.Println("=== Estimation ===")
	start := time.Now()
	startedAt := start.UnixMilli()

	var res *pipeline.Result
	if *bootstrapIters > 0 {
		res, err = pl.RunWithInference(ctx, rows)
	} else {
		res, err = pl.Run(ctx, rows)
	}
	if err != nil {
		observability.RecordRun("estimate", "error", time.Since(start).Seconds())
		fmt.Fprintf(os.Stderr, "Error running estimation: %v\n", err)
		os.Exit(1)
	}
	completedAt := time.Now().UnixMilli()

	observability.RecordRun("estimate", "success", time.Since(start).Seconds())
	observability.RecordSuccessfulRun(time.Now().Unix())
	recordRunMetrics(res, time.Since(start).Seconds())

	printSummary(res)

	// Write run artifacts
	if err := reporting.NewGenerator().WriteRunArtifacts(*outputDir, res); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing run artifacts: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nRun artifacts written:")
	fmt.Printf("  - %s/%s\n", *outputDir, reporting.ReportFile)
	fmt.Printf("  - %s/%s\n", *outputDir, reporting.GroupTimeCSVFile)
	fmt.Printf("  - %s/%s\n", *outputDir, reporting.DynamicCSVFile)
	fmt.Printf("  - %s/%s\n", *outputDir, reporting.GroupCSVFile)

	// Persist the run
	if *storeDSN != "" {
		rec := buildRunRecord(res, datasetName, startedAt, completedAt)
		if err := persistRun(ctx, logger, *storeDSN, res, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error persisting run: %v\n", err)
			os.Exit(1)
		}
	}
	if *clickhouseDSN != "" {
		if err := mirrorClickhouse(ctx, logger, *clickhouseDSN, res); err != nil {
			fmt.Fprintf(os.Stderr, "Error mirroring run to clickhouse: %v\n", err)
			os.Exit(1)
		}
	}
}

// buildConfig assembles the estimation configuration from flag values.
func buildConfig(anticipation int, controlGroup, dropLast string, strictCells, strictBalance bool) (domain.EstimationConfig, error) {
	cfg := domain.EstimationConfig{
		Anticipation:  anticipation,
		StrictCells:   strictCells,
		StrictBalance: strictBalance,
	}

	if controlGroup != "" {
		cfg.ControlGroup = domain.ControlGroup(strings.ToUpper(strings.ReplaceAll(controlGroup, "-", "_")))
	}

	switch dropLast {
	case "auto":
		// nil resolves from the anticipation horizon
	case "true":
		v := true
		cfg.DropLastPeriod = &v
	case "false":
		v := false
		cfg.DropLastPeriod = &v
	default:
		return domain.EstimationConfig{}, fmt.Errorf("unknown drop-last value %q (want auto, true, or false)", dropLast)
	}

	if err := cfg.Validate(); err != nil {
		return domain.EstimationConfig{}, err
	}
	return cfg, nil
}

// loadPanel reads rows from the CSV file or the PostgreSQL dataset. The
// second return value is the dataset name used for the run registry.
func loadPanel(ctx context.Context, input, dsn, dataset string) ([]domain.Observation, string, error) {
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", input, err)
		}
		defer f.Close()

		rows, err := panelio.ReadCSV(f)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", input, err)
		}
		return rows, strings.TrimSuffix(filepath.Base(input), ".csv"), nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	start := time.Now()
	rows, err := pgstore.NewPanelStore(pool).GetByDataset(ctx, dataset)
	observability.RecordDBQuery("postgres", "get_panel", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, "", fmt.Errorf("load dataset %s: %w", dataset, err)
	}
	return rows, dataset, nil
}

// recordRunMetrics reports run accounting to Prometheus.
func recordRunMetrics(res *pipeline.Result, elapsedSeconds float64) {
	d := res.Diagnostics
	observability.RecordCells(d.PlannedCells, d.ComputedCells)
	for reason, count := range skipCounts(d.SkippedCells) {
		observability.RecordCellsSkipped(reason, count)
	}
	observability.RecordUnitsDropped(d.DroppedUnits)
	observability.RecordEventTimes(len(res.Dynamic))
	if res.Bootstrap != nil {
		completed := res.Bootstrap.Iterations - res.Bootstrap.Failed
		observability.RecordBootstrap(completed, res.Bootstrap.Failed, elapsedSeconds)
	}
}

// skipCounts tallies skipped cells by reason.
func skipCounts(cells []att.SkippedCell) map[string]int {
	counts := make(map[string]int)
	for _, c := range cells {
		counts[string(c.Reason)]++
	}
	return counts
}

// printSummary prints the run accounting and effect tables to stdout.
func printSummary(res *pipeline.Result) {
	fmt.Println("\n=== Run Summary ===")
	fmt.Printf("Run ID:    %s\n", res.RunID)
	fmt.Printf("Estimator: %s\n", res.EstimatorID)
	d := res.Diagnostics
	fmt.Printf("Cells:     %d planned, %d computed, %d skipped\n",
		d.PlannedCells, d.ComputedCells, len(d.SkippedCells))
	if d.DroppedUnits > 0 {
		fmt.Printf("Unit drops: %d\n", d.DroppedUnits)
	}

	if res.Overall != nil {
		fmt.Printf("\nOverall ATT: %.6f (%d post-treatment cells)\n", res.Overall.ATT, res.Overall.Cells)
	} else {
		fmt.Println("\nNo post-treatment cells were estimated.")
	}

	if len(res.Dynamic) > 0 {
		fmt.Println("\nEvent time | ATT       | SE        | Groups")
		fmt.Println("-----------+-----------+-----------+-------")
		for _, e := range res.Dynamic {
			se := "n/a"
			if e.SE != nil {
				se = fmt.Sprintf("%.6f", *e.SE)
			}
			fmt.Printf("%10d | %9.6f | %9s | %6d\n", e.EventTime, e.ATT, se, e.Groups)
		}
	}

	if res.Bootstrap != nil {
		b := res.Bootstrap
		fmt.Printf("\nBootstrap: %d iterations (%d failed), seed %d\n", b.Iterations, b.Failed, b.Seed)
	}
}

// buildRunRecord converts a result into its run registry row.
func buildRunRecord(res *pipeline.Result, dataset string, startedAt, completedAt int64) *domain.RunRecord {
	rec := &domain.RunRecord{
		RunID:         res.RunID,
		Dataset:       dataset,
		EstimatorID:   res.EstimatorID,
		Anticipation:  res.Config.Anticipation,
		DropLast:      res.Config.ResolveDropLast(),
		ControlGroup:  res.Config.ResolveControlGroup(),
		StrictCells:   res.Config.StrictCells,
		StrictBalance: res.Config.StrictBalance,
		PlannedCells:  res.Diagnostics.PlannedCells,
		ComputedCells: res.Diagnostics.ComputedCells,
		SkippedCells:  len(res.Diagnostics.SkippedCells),
		DroppedUnits:  res.Diagnostics.DroppedUnits,
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
	}
	if res.Bootstrap != nil {
		rec.BootstrapIterations = res.Bootstrap.Iterations
		rec.BootstrapFailed = res.Bootstrap.Failed
		rec.BootstrapSeed = res.Bootstrap.Seed
	}
	return rec
}

// persistRun records the run and its result tables in PostgreSQL. Run IDs
// are deterministic, so a duplicate means the identical run is already
// recorded and persistence is skipped.
func persistRun(ctx context.Context, logger *log.Logger, dsn string, res *pipeline.Result, rec *domain.RunRecord) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}

	start := time.Now()
	err = pgstore.NewRunStore(pool).Insert(ctx, rec)
	observability.RecordDBQuery("postgres", "insert_run", time.Since(start).Seconds(), err)
	if errors.Is(err, storage.ErrDuplicateKey) {
		logger.Printf("Run %s already recorded, skipping persistence", res.RunID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	start = time.Now()
	err = pgstore.NewGroupTimeStore(pool).InsertBulk(ctx, res.RunID, res.GroupTime)
	observability.RecordDBQuery("postgres", "insert_group_time", time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert group-time effects: %w", err)
	}

	start = time.Now()
	err = pgstore.NewDynamicStore(pool).InsertBulk(ctx, res.RunID, res.Dynamic)
	observability.RecordDBQuery("postgres", "insert_dynamic", time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert dynamic effects: %w", err)
	}

	logger.Printf("Run %s persisted to postgres", res.RunID)
	return nil
}

// mirrorClickhouse copies the result tables into ClickHouse.
func mirrorClickhouse(ctx context.Context, logger *log.Logger, dsn string, res *pipeline.Result) error {
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return fmt.Errorf("apply clickhouse migrations: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	err = chstore.NewGroupTimeStore(conn).InsertBulk(ctx, res.RunID, res.GroupTime)
	observability.RecordDBQuery("clickhouse", "insert_group_time", time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert group-time effects: %w", err)
	}

	start = time.Now()
	err = chstore.NewDynamicStore(conn).InsertBulk(ctx, res.RunID, res.Dynamic)
	observability.RecordDBQuery("clickhouse", "insert_dynamic", time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert dynamic effects: %w", err)
	}

	logger.Printf("Run %s mirrored to clickhouse", res.RunID)
	return nil
}
