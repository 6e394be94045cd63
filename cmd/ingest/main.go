// Package main provides the panel ingestion entry point: it loads a
// long-format CSV into PostgreSQL as a named dataset.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/observability"
	"panel-did-lab/internal/panelio"
	"panel-did-lab/internal/storage"
	"panel-did-lab/internal/storage/migrations"
	pgstore "panel-did-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	input := flag.String("input", "", "Panel CSV path (unit_id,time_period,group,outcome[,x1..xN])")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	dataset := flag.String("dataset", "", "Dataset name (default: input file name without extension)")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *input == "" {
		logger.Fatal("--input is required")
	}
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	name := *dataset
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))
	}

	ctx := context.Background()

	// Read the CSV
	f, err := os.Open(*input)
	if err != nil {
		observability.RecordIngestionError("open")
		logger.Fatalf("Open %s: %v", *input, err)
	}
	rows, err := panelio.ReadCSV(f)
	f.Close()
	if err != nil {
		observability.RecordIngestionError("parse")
		logger.Fatalf("Read %s: %v", *input, err)
	}
	logger.Printf("Parsed %d observations from %s", len(rows), *input)

	// Connect and migrate
	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		observability.RecordIngestionError("connect")
		logger.Fatalf("Connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		observability.RecordIngestionError("migrate")
		logger.Fatalf("Apply migrations: %v", err)
	}

	// Insert the dataset. Re-running the same file is a no-op: the batch is
	// atomic, so a duplicate means the dataset is already fully stored.
	start := time.Now()
	err = pgstore.NewPanelStore(pool).InsertBatch(ctx, name, rows)
	observability.RecordDBQuery("postgres", "insert_panel", time.Since(start).Seconds(), err)
	if errors.Is(err, storage.ErrDuplicateKey) {
		logger.Printf("Dataset %s is already ingested, nothing to do", name)
		return
	}
	if err != nil {
		observability.RecordIngestionError("insert")
		logger.Fatalf("Insert dataset %s: %v", name, err)
	}

	observability.RecordRowsIngested(len(rows))
	units, periods := panelShape(rows)
	logger.Printf("Ingested dataset %s: %d rows, %d units, %d periods in %v",
		name, len(rows), units, periods, time.Since(start))
}

// panelShape counts distinct units and periods.
func panelShape(rows []domain.Observation) (int, int) {
	units := make(map[string]struct{})
	periods := make(map[int]struct{})
	for i := range rows {
		units[rows[i].UnitID] = struct{}{}
		periods[rows[i].Period] = struct{}{}
	}
	return len(units), len(periods)
}
