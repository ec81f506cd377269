// Package telemetry provides application-level observability for the access engine.
//
// All metrics register against the default Prometheus registry and are served on
// the side-channel HTTP server started by main.go (GET /metrics on
// telemetry.prometheus_port, default 9090). The endpoint is deliberately not part
// of the Gin router so scrapes bypass auth, tenant context, and rate limiting.
//
// HTTP metrics label by c.FullPath() (route template such as
// /api/v1/companies/:companyId/roles/:id) rather than the raw URL so
// user-supplied path segments cannot blow up label cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Permission-decision metrics.
//
// PermissionDecisionsTotal counts every engine decision, labelled by outcome
// ("granted", "denied", "error") and by whether the elevated override applied.
// PermissionChecksRateLimited counts checks rejected by the per-actor limiter.
var (
	PermissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_decisions_total",
			Help: "Total permission validation decisions, by outcome and elevated flag.",
		},
		[]string{"outcome", "elevated"},
	)

	PermissionChecksRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permission_checks_rate_limited_total",
			Help: "Permission checks rejected by the per-actor rate limiter.",
		},
	)
)

// Activity-pipeline metrics.
//
// ActivityEventsIngested counts events accepted onto the queue; dropped events
// (full queue) and failed persists are counted separately because the pipeline
// is fire-and-forget and these counters are its only failure signal.
var (
	ActivityEventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_events_ingested_total",
			Help: "Activity events accepted onto the ingestion queue.",
		},
	)

	ActivityEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_events_dropped_total",
			Help: "Activity events dropped because the ingestion queue was full.",
		},
	)

	ActivityPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_persist_failures_total",
			Help: "Activity events that failed to persist after dequeue.",
		},
	)

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_alerts_triggered_total",
			Help: "Alert rules tripped, by alert type.",
		},
		[]string{"type"},
	)
)

// Retention metrics, labelled by outcome ("archived", "deleted").
var RetentionRowsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "retention_rows_processed_total",
		Help: "Activity-log rows archived or hard-deleted by the retention job.",
	},
	[]string{"outcome"},
)

// DBConnectionsInUse tracks the connection pool; polled by StartDBPoolGauge.
var DBConnectionsInUse = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_connections_in_use",
		Help: "Open connections currently in use by the database pool.",
	},
)

// StartDBPoolGauge polls db.Stats() every interval and updates
// DBConnectionsInUse until stop is closed.
func StartDBPoolGauge(db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				DBConnectionsInUse.Set(float64(db.Stats().InUse))
			case <-stop:
				slog.Debug("db pool gauge stopped")
				return
			}
		}
	}()
}
