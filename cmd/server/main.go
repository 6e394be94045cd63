// Package main provides the estimation API server:
// - POST /api/v1/estimate: synchronous estimation over a posted panel
// - GET /api/v1/runs/{id}: run registry lookup (when PostgreSQL is configured)
// - GET /ws/progress?run_id=: live bootstrap progress over WebSocket
// - /healthz, /metrics, /status: health, Prometheus metrics, server state
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"panel-did-lab/internal/att"
	"panel-did-lab/internal/domain"
	"panel-did-lab/internal/estimator"
	"panel-did-lab/internal/idhash"
	"panel-did-lab/internal/observability"
	"panel-did-lab/internal/pipeline"
	"panel-did-lab/internal/progress"
	"panel-did-lab/internal/storage"
	chstore "panel-did-lab/internal/storage/clickhouse"
	"panel-did-lab/internal/storage/migrations"
	pgstore "panel-did-lab/internal/storage/postgres"
)

// progressWriteTimeout bounds a single WebSocket write to a slow client.
const progressWriteTimeout = 10 * time.Second

// defaultRunsLimit caps GET /api/v1/runs when no limit is given.
const defaultRunsLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds the estimation service and its optional stores.
type Server struct {
	workers int
	logger  *log.Logger
	broker  *progress.Broker

	// Stores, nil when the backing database is not configured
	runStore       storage.RunStore
	groupTimeStore storage.GroupTimeStore
	dynamicStore   storage.DynamicStore
	chGroupTime    storage.GroupTimeStore
	chDynamic      storage.DynamicStore

	// State
	startedAt   time.Time
	subscribers atomic.Int64

	// Stats
	mu            sync.Mutex
	runsCompleted int
	runsFailed    int
}

func main() {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", getEnvOrDefault("DIDLAB_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("DIDLAB_POSTGRES_DSN"), "PostgreSQL connection string for the run registry")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("DIDLAB_CLICKHOUSE_DSN"), "ClickHouse connection string for mirroring result tables")
	workers := flag.Int("workers", 0, "Parallel workers per estimation (0 uses all CPUs)")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	ctx := context.Background()

	server := &Server{
		workers:   *workers,
		logger:    logger,
		broker:    progress.NewBroker(),
		startedAt: time.Now(),
	}

	// Run registry (optional)
	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("Failed to apply postgres migrations: %v", err)
		}

		server.runStore = pgstore.NewRunStore(pool)
		server.groupTimeStore = pgstore.NewGroupTimeStore(pool)
		server.dynamicStore = pgstore.NewDynamicStore(pool)
		logger.Println("Run registry enabled (postgres)")
	} else {
		logger.Println("Run registry disabled, estimation results are not persisted")
	}

	// Result mirror (optional)
	if *clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to apply clickhouse migrations: %v", err)
		}
		defer conn.Close()

		server.chGroupTime = chstore.NewGroupTimeStore(conn)
		server.chDynamic = chstore.NewDynamicStore(conn)
		logger.Println("Result mirror enabled (clickhouse)")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/estimate", server.handleEstimate)
	mux.HandleFunc("/api/v1/runs", server.handleRuns)
	mux.HandleFunc("/api/v1/runs/", server.handleGetRun)
	mux.HandleFunc("/ws/progress", server.handleProgress)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", server.handleStatus)

	srv := &http.Server{Addr: *addr, Handler: mux}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

		// Wait for second signal for immediate shutdown
		go func() {
			sig := <-sigCh
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		}()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Graceful shutdown error: %v", err)
		}

		// Unblocks progress handlers still holding their sockets
		server.broker.Close()
		close(shutdownDone)
	}()

	logger.Printf("Starting HTTP server on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	<-shutdownDone
	logger.Println("Shutdown complete")
}

// getEnvOrDefault gets environment variable or returns default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// EstimateRequest is the JSON body of POST /api/v1/estimate.
type EstimateRequest struct {
	Dataset   string           `json:"dataset,omitempty"`
	Panel     []ObservationDTO `json:"panel"`
	Config    ConfigDTO        `json:"config"`
	Bootstrap *BootstrapDTO    `json:"bootstrap,omitempty"`
}

// ObservationDTO is one long-format panel row.
type ObservationDTO struct {
	UnitID     string    `json:"unit_id"`
	TimePeriod int       `json:"time_period"`
	Group      int       `json:"group"`
	Outcome    float64   `json:"outcome"`
	Covariates []float64 `json:"covariates,omitempty"`
}

// ConfigDTO mirrors the estimation configuration.
type ConfigDTO struct {
	Anticipation   int    `json:"anticipation"`
	DropLastPeriod *bool  `json:"drop_last_period,omitempty"`
	ControlGroup   string `json:"control_group,omitempty"`
	StrictCells    bool   `json:"strict_cells,omitempty"`
	StrictBalance  bool   `json:"strict_balance,omitempty"`
}

// BootstrapDTO requests inference alongside the point estimates.
type BootstrapDTO struct {
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed,omitempty"`
	Workers    int   `json:"workers,omitempty"`
}

// EstimateResponse is the full result of an estimation run.
type EstimateResponse struct {
	RunID       string              `json:"run_id"`
	EstimatorID string              `json:"estimator_id"`
	GroupTime   []GroupTimeDTO      `json:"group_time"`
	Dynamic     []DynamicDTO        `json:"dynamic"`
	Overall     *OverallDTO         `json:"overall,omitempty"`
	ByGroup     []GroupEffectDTO    `json:"by_group,omitempty"`
	ByPeriod    []PeriodEffectDTO   `json:"by_period,omitempty"`
	Diagnostics DiagnosticsDTO      `json:"diagnostics"`
	Bootstrap   *BootstrapReportDTO `json:"bootstrap,omitempty"`
}

// GroupTimeDTO is one estimated (group, period) cell.
type GroupTimeDTO struct {
	Group           int     `json:"group"`
	Period          int     `json:"period"`
	BasePeriod      int     `json:"base_period"`
	EventTime       int     `json:"event_time"`
	ATT             float64 `json:"att"`
	TreatedUnits    int     `json:"treated_units"`
	ComparisonUnits int     `json:"comparison_units"`
	DroppedUnits    int     `json:"dropped_units"`
}

// DynamicDTO is one event-study point. SE is null without inference.
type DynamicDTO struct {
	EventTime int      `json:"event_time"`
	ATT       float64  `json:"att"`
	SE        *float64 `json:"se"`
	Groups    int      `json:"groups"`
	Draws     int      `json:"draws"`
}

// OverallDTO is the size-weighted post-treatment average.
type OverallDTO struct {
	ATT   float64 `json:"att"`
	Cells int     `json:"cells"`
}

// GroupEffectDTO is the mean post-treatment effect of one group.
type GroupEffectDTO struct {
	Group   int     `json:"group"`
	ATT     float64 `json:"att"`
	Periods int     `json:"periods"`
}

// PeriodEffectDTO is the cross-group effect at one calendar period.
type PeriodEffectDTO struct {
	Period int     `json:"period"`
	ATT    float64 `json:"att"`
	Groups int     `json:"groups"`
}

// DiagnosticsDTO is the run accounting.
type DiagnosticsDTO struct {
	PlannedCells  int              `json:"planned_cells"`
	ComputedCells int              `json:"computed_cells"`
	SkippedCells  []SkippedCellDTO `json:"skipped_cells,omitempty"`
	DroppedUnits  int              `json:"dropped_units"`
}

// SkippedCellDTO is one infeasible cell and why it was skipped.
type SkippedCellDTO struct {
	Group      int    `json:"group"`
	Period     int    `json:"period"`
	BasePeriod int    `json:"base_period"`
	Reason     string `json:"reason"`
}

// BootstrapReportDTO is the inference accounting.
type BootstrapReportDTO struct {
	Iterations int   `json:"iterations"`
	Failed     int   `json:"failed"`
	Seed       int64 `json:"seed"`
	MinDraws   int   `json:"min_draws"`
}

// RunRecordResponse is the JSON shape of a run registry row.
type RunRecordResponse struct {
	RunID               string `json:"run_id"`
	Dataset             string `json:"dataset"`
	EstimatorID         string `json:"estimator_id"`
	Anticipation        int    `json:"anticipation"`
	DropLastPeriod      bool   `json:"drop_last_period"`
	ControlGroup        string `json:"control_group"`
	StrictCells         bool   `json:"strict_cells"`
	StrictBalance       bool   `json:"strict_balance"`
	PlannedCells        int    `json:"planned_cells"`
	ComputedCells       int    `json:"computed_cells"`
	SkippedCells        int    `json:"skipped_cells"`
	DroppedUnits        int    `json:"dropped_units"`
	BootstrapIterations int    `json:"bootstrap_iterations"`
	BootstrapFailed     int    `json:"bootstrap_failed"`
	BootstrapSeed       int64  `json:"bootstrap_seed"`
	StartedAt           int64  `json:"started_at"`
	CompletedAt         int64  `json:"completed_at"`
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status              string `json:"status"`
	Uptime              string `json:"uptime"`
	RunsCompleted       int    `json:"runs_completed"`
	RunsFailed          int    `json:"runs_failed"`
	ProgressSubscribers int64  `json:"progress_subscribers"`
	RunRegistry         bool   `json:"run_registry"`
	ResultMirror        bool   `json:"result_mirror"`
}

// ErrorResponse carries a request failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleEstimate runs a full estimation over the posted panel and returns
// the result. The run ID is deterministic in the panel and configuration,
// so it is published to progress subscribers from the first bootstrap
// iteration on, and clients can derive it before the run completes.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if len(req.Panel) == 0 {
		writeError(w, http.StatusBadRequest, "panel is empty")
		return
	}

	rows := make([]domain.Observation, len(req.Panel))
	for i, o := range req.Panel {
		rows[i] = domain.Observation{
			UnitID:     o.UnitID,
			Period:     o.TimePeriod,
			Group:      o.Group,
			Outcome:    o.Outcome,
			Covariates: o.Covariates,
		}
	}

	cfg := domain.EstimationConfig{
		Anticipation:   req.Config.Anticipation,
		DropLastPeriod: req.Config.DropLastPeriod,
		StrictCells:    req.Config.StrictCells,
		StrictBalance:  req.Config.StrictBalance,
	}
	if req.Config.ControlGroup != "" {
		cfg.ControlGroup = domain.ControlGroup(strings.ToUpper(strings.ReplaceAll(req.Config.ControlGroup, "-", "_")))
	}

	var boot domain.BootstrapConfig
	if req.Bootstrap != nil {
		boot = domain.BootstrapConfig{
			Iterations: req.Bootstrap.Iterations,
			Seed:       req.Bootstrap.Seed,
			Workers:    req.Bootstrap.Workers,
		}
		if boot.Workers == 0 {
			boot.Workers = s.workers
		}
	}

	// Progress events need the run ID before the run finishes
	runID := idhash.ComputeRunID(rows, cfg.Fingerprint())

	pl, err := pipeline.New(pipeline.Options{
		Estimator: estimator.NewDiffInMeans(),
		Config:    cfg,
		Bootstrap: boot,
		Workers:   s.workers,
		Logger:    s.logger,
		OnBootstrapIteration: func(done, total int) {
			s.broker.Publish(progress.Event{RunID: runID, Done: done, Total: total})
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	startedAt := start.UnixMilli()

	var res *pipeline.Result
	if boot.Iterations > 0 {
		res, err = pl.RunWithInference(r.Context(), rows)
	} else {
		res, err = pl.Run(r.Context(), rows)
	}
	if err != nil {
		s.countRun(false)
		observability.RecordRun("server", "error", time.Since(start).Seconds())
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	completedAt := time.Now().UnixMilli()

	s.countRun(true)
	observability.RecordRun("server", "success", time.Since(start).Seconds())
	observability.RecordSuccessfulRun(time.Now().Unix())
	recordRunMetrics(res, time.Since(start).Seconds())

	s.logger.Printf("Run %s completed: %d/%d cells, %d observations in %v",
		res.RunID, res.Diagnostics.ComputedCells, res.Diagnostics.PlannedCells, len(rows), time.Since(start))

	// Persistence is best-effort: the result is already computed, and runs
	// are reproducible from their inputs
	dataset := req.Dataset
	if dataset == "" {
		dataset = "adhoc"
	}
	s.persistResult(r.Context(), res, dataset, startedAt, completedAt)

	writeJSON(w, http.StatusOK, buildResponse(res))
}

// handleRuns lists stored runs, newest first. The dataset query parameter
// filters to one dataset; limit caps the unfiltered listing.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runStore == nil {
		writeError(w, http.StatusServiceUnavailable, "run registry not configured")
		return
	}

	var (
		recs []*domain.RunRecord
		err  error
	)
	start := time.Now()
	if dataset := r.URL.Query().Get("dataset"); dataset != "" {
		recs, err = s.runStore.GetByDataset(r.Context(), dataset)
		observability.RecordDBQuery("postgres", "get_runs_by_dataset", time.Since(start).Seconds(), err)
	} else {
		limit := defaultRunsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
				return
			}
		}
		recs, err = s.runStore.GetRecent(r.Context(), limit)
		observability.RecordDBQuery("postgres", "get_recent_runs", time.Since(start).Seconds(), err)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]RunRecordResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, runRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetRun serves one stored run record by ID.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runStore == nil {
		writeError(w, http.StatusServiceUnavailable, "run registry not configured")
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusBadRequest, "run id required")
		return
	}

	start := time.Now()
	rec, err := s.runStore.GetByID(r.Context(), runID)
	observability.RecordDBQuery("postgres", "get_run", time.Since(start).Seconds(), err)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runRecordResponse(rec))
}

// handleProgress streams progress events for one run over a WebSocket
// until the run finishes or the client disconnects.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id query parameter required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("Progress socket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.broker.Subscribe(runID)
	defer cancel()

	observability.UpdateProgressSubscribers(int(s.subscribers.Add(1)))
	defer func() {
		observability.UpdateProgressSubscribers(int(s.subscribers.Add(-1)))
	}()

	// Read pump: detects client close
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(progressWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Finished() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-clientGone:
			return
		}
	}
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runsCompleted, runsFailed := s.runsCompleted, s.runsFailed
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:              "running",
		Uptime:              time.Since(s.startedAt).String(),
		RunsCompleted:       runsCompleted,
		RunsFailed:          runsFailed,
		ProgressSubscribers: s.subscribers.Load(),
		RunRegistry:         s.runStore != nil,
		ResultMirror:        s.chGroupTime != nil,
	})
}

// countRun updates the run counters.
func (s *Server) countRun(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.runsCompleted++
	} else {
		s.runsFailed++
	}
}

// persistResult records the run in the registry and mirrors the result
// tables. Run IDs are deterministic, so a duplicate key means the
// identical run is already stored; other failures are logged and the
// response is served from the computed result regardless.
func (s *Server) persistResult(ctx context.Context, res *pipeline.Result, dataset string, startedAt, completedAt int64) {
	if s.runStore != nil {
		rec := buildRunRecord(res, dataset, startedAt, completedAt)
		start := time.Now()
		err := s.runStore.Insert(ctx, rec)
		observability.RecordDBQuery("postgres", "insert_run", time.Since(start).Seconds(), err)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			s.logger.Printf("Run %s already recorded", res.RunID)
		case err != nil:
			s.logger.Printf("Persist run %s: %v", res.RunID, err)
		default:
			s.insertEffects(ctx, "postgres", s.groupTimeStore, s.dynamicStore, res)
		}
	}
	if s.chGroupTime != nil {
		s.insertEffects(ctx, "clickhouse", s.chGroupTime, s.chDynamic, res)
	}
}

// insertEffects bulk-inserts both result tables, tolerating duplicates.
func (s *Server) insertEffects(ctx context.Context, db string, groupTimes storage.GroupTimeStore, dynamics storage.DynamicStore, res *pipeline.Result) {
	start := time.Now()
	err := groupTimes.InsertBulk(ctx, res.RunID, res.GroupTime)
	observability.RecordDBQuery(db, "insert_group_time", time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.logger.Printf("Persist group-time effects for %s to %s: %v", res.RunID, db, err)
	}

	start = time.Now()
	err = dynamics.InsertBulk(ctx, res.RunID, res.Dynamic)
	observability.RecordDBQuery(db, "insert_dynamic", time.Since(start).Seconds(), err)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.logger.Printf("Persist dynamic effects for %s to %s: %v", res.RunID, db, err)
	}
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

// runRecordResponse converts a registry row into its wire shape.
func runRecordResponse(rec *domain.RunRecord) RunRecordResponse {
	return RunRecordResponse{
		RunID:               rec.RunID,
		Dataset:             rec.Dataset,
		EstimatorID:         rec.EstimatorID,
		Anticipation:        rec.Anticipation,
		DropLastPeriod:      rec.DropLast,
		ControlGroup:        string(rec.ControlGroup),
		StrictCells:         rec.StrictCells,
		StrictBalance:       rec.StrictBalance,
		PlannedCells:        rec.PlannedCells,
		ComputedCells:       rec.ComputedCells,
		SkippedCells:        rec.SkippedCells,
		DroppedUnits:        rec.DroppedUnits,
		BootstrapIterations: rec.BootstrapIterations,
		BootstrapFailed:     rec.BootstrapFailed,
		BootstrapSeed:       rec.BootstrapSeed,
		StartedAt:           rec.StartedAt,
		CompletedAt:         rec.CompletedAt,
	}
}

// buildResponse converts a result into its wire shape.
func buildResponse(res *pipeline.Result) EstimateResponse {
	resp := EstimateResponse{
		RunID:       res.RunID,
		EstimatorID: res.EstimatorID,
		GroupTime:   make([]GroupTimeDTO, len(res.GroupTime)),
		Dynamic:     make([]DynamicDTO, len(res.Dynamic)),
		Diagnostics: DiagnosticsDTO{
			PlannedCells:  res.Diagnostics.PlannedCells,
			ComputedCells: res.Diagnostics.ComputedCells,
			DroppedUnits:  res.Diagnostics.DroppedUnits,
		},
	}
	for i := range res.GroupTime {
		e := &res.GroupTime[i]
		resp.GroupTime[i] = GroupTimeDTO{
			Group:           e.Group,
			Period:          e.Period,
			BasePeriod:      e.BasePeriod,
			EventTime:       e.EventTime(),
			ATT:             e.ATT,
			TreatedUnits:    e.TreatedUnits,
			ComparisonUnits: e.ComparisonUnits,
			DroppedUnits:    e.DroppedUnits,
		}
	}
	for i, e := range res.Dynamic {
		resp.Dynamic[i] = DynamicDTO{
			EventTime: e.EventTime,
			ATT:       e.ATT,
			SE:        e.SE,
			Groups:    e.Groups,
			Draws:     e.Draws,
		}
	}
	if res.Overall != nil {
		resp.Overall = &OverallDTO{ATT: res.Overall.ATT, Cells: res.Overall.Cells}
	}
	for _, e := range res.ByGroup {
		resp.ByGroup = append(resp.ByGroup, GroupEffectDTO{Group: e.Group, ATT: e.ATT, Periods: e.Periods})
	}
	for _, e := range res.ByPeriod {
		resp.ByPeriod = append(resp.ByPeriod, PeriodEffectDTO{Period: e.Period, ATT: e.ATT, Groups: e.Groups})
	}
	for _, c := range res.Diagnostics.SkippedCells {
		resp.Diagnostics.SkippedCells = append(resp.Diagnostics.SkippedCells, SkippedCellDTO{
			Group:      c.Group,
			Period:     c.Period,
			BasePeriod: c.BasePeriod,
			Reason:     string(c.Reason),
		})
	}
	if res.Bootstrap != nil {
		resp.Bootstrap = &BootstrapReportDTO{
			Iterations: res.Bootstrap.Iterations,
			Failed:     res.Bootstrap.Failed,
			Seed:       res.Bootstrap.Seed,
			MinDraws:   res.Bootstrap.MinDraws,
		}
	}
	return resp
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
