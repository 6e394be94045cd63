// Package main provides the verification entry point: it re-estimates
// stored runs from the registry and reports any field that no longer
// reproduces.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panel-did-lab/internal/observability"
	pgstore "panel-did-lab/internal/storage/postgres"
	"panel-did-lab/internal/verification"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run ID to verify")
	dataset := flag.String("dataset", "", "Verify every run recorded for this dataset")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	workers := flag.Int("workers", 0, "Parallel cell estimation workers (0 uses all CPUs)")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

	// Validate required flags
	if (*runID == "") == (*dataset == "") {
		logger.Fatal("exactly one of --run-id or --dataset is required")
	}
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create stores
	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	verifier := verification.NewRunVerifier(verification.RunVerifierOptions{
		PanelStore:     pgstore.NewPanelStore(pool),
		RunStore:       pgstore.NewRunStore(pool),
		GroupTimeStore: pgstore.NewGroupTimeStore(pool),
		DynamicStore:   pgstore.NewDynamicStore(pool),
		Workers:        *workers,
		Logger:         logger,
	})

	start := time.Now()

	var report *verification.VerificationReport
	if *runID != "" {
		logger.Printf("Verifying run %s", *runID)
		result, err := verifier.VerifyRun(ctx, *runID)
		if err != nil {
			observability.RecordRun("verify", "error", time.Since(start).Seconds())
			logger.Fatalf("verify run: %v", err)
		}
		report = &verification.VerificationReport{
			TotalRuns: 1,
			Results:   []verification.VerificationResult{*result},
		}
		if result.Match {
			report.MatchedRuns = 1
		} else {
			report.DivergentRuns = 1
		}
	} else {
		logger.Printf("Verifying all runs for dataset %s", *dataset)
		report, err = verifier.VerifyDataset(ctx, *dataset)
		if err != nil {
			observability.RecordRun("verify", "error", time.Since(start).Seconds())
			logger.Fatalf("verify dataset: %v", err)
		}
	}

	status := "success"
	if report.DivergentRuns > 0 {
		status = "error"
	}
	observability.RecordRun("verify", status, time.Since(start).Seconds())

	// Output summary
	stats := buildStats(report)
	if *outputJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\n=== Verification Summary ===\n")
		fmt.Printf("Total Runs:     %d\n", stats.TotalRuns)
		fmt.Printf("Matched Runs:   %d\n", stats.MatchedRuns)
		fmt.Printf("Divergent Runs: %d\n", stats.DivergentRuns)
		for _, r := range stats.Runs {
			if r.Match {
				fmt.Printf("\n%s: reproduced (%d cells)\n", r.RunID, r.StoredCells)
				continue
			}
			fmt.Printf("\n%s: diverged (%d fields)\n", r.RunID, len(r.Divergences))
			for _, d := range r.Divergences {
				fmt.Printf("  %-28s stored=%v recomputed=%v\n", d.Field, d.Stored, d.Recomputed)
			}
		}
	}

	if report.DivergentRuns > 0 {
		os.Exit(1)
	}
}

// VerifyStats holds verification statistics.
type VerifyStats struct {
	TotalRuns     int          `json:"total_runs"`
	MatchedRuns   int          `json:"matched_runs"`
	DivergentRuns int          `json:"divergent_runs"`
	Runs          []RunSummary `json:"runs"`
}

// RunSummary is one verified run.
type RunSummary struct {
	RunID           string       `json:"run_id"`
	Match           bool         `json:"match"`
	StoredCells     int          `json:"stored_cells"`
	RecomputedCells int          `json:"recomputed_cells"`
	Divergences     []Divergence `json:"divergences,omitempty"`
}

// Divergence is one field mismatch.
type Divergence struct {
	Field      string      `json:"field"`
	Stored     interface{} `json:"stored"`
	Recomputed interface{} `json:"recomputed"`
}

// buildStats converts a verification report into its output shape.
func buildStats(report *verification.VerificationReport) VerifyStats {
	stats := VerifyStats{
		TotalRuns:     report.TotalRuns,
		MatchedRuns:   report.MatchedRuns,
		DivergentRuns: report.DivergentRuns,
		Runs:          make([]RunSummary, 0, len(report.Results)),
	}
	for _, r := range report.Results {
		run := RunSummary{
			RunID:           r.RunID,
			Match:           r.Match,
			StoredCells:     r.StoredCells,
			RecomputedCells: r.RecomputedCells,
		}
		for _, d := range r.Divergences {
			run.Divergences = append(run.Divergences, Divergence{
				Field:      d.Field,
				Stored:     d.Expected,
				Recomputed: d.Actual,
			})
		}
		stats.Runs = append(stats.Runs, run)
	}
	return stats
}
