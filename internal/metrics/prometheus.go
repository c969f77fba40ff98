package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the engine
type PrometheusMetrics struct {
	// Verification metrics
	SessionsStartedTotal   prometheus.Counter
	SessionsFinishedTotal  *prometheus.CounterVec
	PollAttemptsTotal      *prometheus.CounterVec
	ActiveSessions         prometheus.Gauge
	VerificationDuration   prometheus.Histogram

	// Reader metrics
	ReaderScansTotal   *prometheus.CounterVec
	ReaderScanDuration *prometheus.HistogramVec
	RPCRequestsTotal   *prometheus.CounterVec

	// Mission and reward metrics
	MissionsCompletedTotal *prometheus.CounterVec
	CubesGrantedTotal      prometheus.Counter
	GrantsRejectedTotal    prometheus.Counter

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		SessionsStartedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "questforge_verification_sessions_started_total",
				Help: "Total number of verification sessions started",
			},
		),

		SessionsFinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_verification_sessions_finished_total",
				Help: "Total number of verification sessions reaching a terminal state",
			},
			[]string{"status"},
		),

		PollAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_poll_attempts_total",
				Help: "Total number of poll attempts consumed",
			},
			[]string{"result"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "questforge_active_sessions",
				Help: "Number of sessions currently polling",
			},
		),

		VerificationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "questforge_verification_duration_seconds",
				Help:    "Wall time from session start to terminal state",
				Buckets: []float64{5, 10, 20, 30, 45, 60, 90, 120},
			},
		),

		ReaderScansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_reader_scans_total",
				Help: "Chain activity scans by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		ReaderScanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "questforge_reader_scan_duration_seconds",
				Help:    "Time spent per reader strategy",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_rpc_requests_total",
				Help: "Upstream RPC requests by method and status",
			},
			[]string{"method", "status"},
		),

		MissionsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_missions_completed_total",
				Help: "Mission completions by mission type",
			},
			[]string{"mission_type"},
		),

		CubesGrantedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "questforge_cubes_granted_total",
				Help: "Total cubes granted",
			},
		),

		GrantsRejectedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "questforge_grants_rejected_total",
				Help: "Cube grants rejected by the daily cap",
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_database_operations_total",
				Help: "Database operations by type and status",
			},
			[]string{"operation", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "questforge_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questforge_http_requests_total",
				Help: "HTTP requests by method, path and status code",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "questforge_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "questforge_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "questforge_component_health",
				Help: "Component health status (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordReaderScan records one reader strategy evaluation
func (m *PrometheusMetrics) RecordReaderScan(strategy, outcome string, duration time.Duration) {
	m.ReaderScansTotal.WithLabelValues(strategy, outcome).Inc()
	m.ReaderScanDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetComponentHealth sets a component health gauge
func (m *PrometheusMetrics) SetComponentHealth(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(v)
}
