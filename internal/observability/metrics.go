// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Estimation metrics
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	CellsPlanned   prometheus.Counter
	CellsComputed  prometheus.Counter
	CellsSkipped   *prometheus.CounterVec
	UnitsDropped   prometheus.Counter
	EventTimesSeen prometheus.Gauge

	// Bootstrap metrics
	BootstrapIterations *prometheus.CounterVec
	BootstrapDuration   prometheus.Histogram

	// Ingestion metrics
	RowsIngested    prometheus.Counter
	IngestionErrors *prometheus.CounterVec

	// Reporting metrics
	ReportsGenerated prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Server metrics
	ProgressSubscribers prometheus.Gauge

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "panel_did_lab"
	}

	return &Metrics{
		// Estimation metrics
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "runs_total",
			Help:      "Total number of estimation runs by phase and status",
		}, []string{"phase", "status"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "run_duration_seconds",
			Help:      "Estimation run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),
		CellsPlanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "cells_planned_total",
			Help:      "Total number of group-time cells planned",
		}),
		CellsComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "cells_computed_total",
			Help:      "Total number of group-time cells estimated",
		}),
		CellsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "cells_skipped_total",
			Help:      "Total number of group-time cells skipped by reason",
		}, []string{"reason"}),
		UnitsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "units_dropped_total",
			Help:      "Total number of unbalanced unit drops across cells",
		}),
		EventTimesSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "estimation",
			Name:      "event_times_seen",
			Help:      "Number of distinct event times in the latest run",
		}),

		// Bootstrap metrics
		BootstrapIterations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "iterations_total",
			Help:      "Total number of bootstrap iterations by status",
		}, []string{"status"}),
		BootstrapDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "duration_seconds",
			Help:      "Bootstrap inference duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Ingestion metrics
		RowsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "rows_ingested_total",
			Help:      "Total number of panel observations ingested",
		}),
		IngestionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors by type",
		}, []string{"error_type"}),

		// Reporting metrics
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "reports_generated_total",
			Help:      "Total number of run reports generated",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Server metrics
		ProgressSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "progress_subscribers",
			Help:      "Number of connected progress WebSocket clients",
		}),

		// Health metrics
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful estimation run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRun records an estimation run by phase and status.
func RecordRun(phase, status string, durationSeconds float64) {
	DefaultMetrics.RunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.RunDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordCells records cell counts from a run's diagnostics.
func RecordCells(planned, computed int) {
	DefaultMetrics.CellsPlanned.Add(float64(planned))
	DefaultMetrics.CellsComputed.Add(float64(computed))
}

// RecordCellsSkipped records skipped cells by reason.
func RecordCellsSkipped(reason string, count int) {
	DefaultMetrics.CellsSkipped.WithLabelValues(reason).Add(float64(count))
}

// RecordUnitsDropped records unbalanced unit drops.
func RecordUnitsDropped(count int) {
	DefaultMetrics.UnitsDropped.Add(float64(count))
}

// RecordEventTimes updates the distinct event time gauge.
func RecordEventTimes(count int) {
	DefaultMetrics.EventTimesSeen.Set(float64(count))
}

// RecordBootstrap records a completed bootstrap pass.
func RecordBootstrap(completed, failed int, durationSeconds float64) {
	DefaultMetrics.BootstrapIterations.WithLabelValues("ok").Add(float64(completed - failed))
	DefaultMetrics.BootstrapIterations.WithLabelValues("failed").Add(float64(failed))
	DefaultMetrics.BootstrapDuration.Observe(durationSeconds)
}

// RecordRowsIngested increments the ingested row counter.
func RecordRowsIngested(count int) {
	DefaultMetrics.RowsIngested.Add(float64(count))
}

// RecordIngestionError records an ingestion error by type.
func RecordIngestionError(errorType string) {
	DefaultMetrics.IngestionErrors.WithLabelValues(errorType).Inc()
}

// RecordReportGenerated increments the reports generated counter.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateProgressSubscribers updates the connected subscriber gauge.
func UpdateProgressSubscribers(count int) {
	DefaultMetrics.ProgressSubscribers.Set(float64(count))
}

// RecordSuccessfulRun updates the last successful run timestamp.
func RecordSuccessfulRun(unixTime int64) {
	DefaultMetrics.LastSuccessfulRun.Set(float64(unixTime))
}
