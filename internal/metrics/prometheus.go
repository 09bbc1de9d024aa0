package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the anchoring engine
type PrometheusMetrics struct {
	// Anchoring metrics
	SubmissionsTotal       *prometheus.CounterVec
	ConfirmationsTotal     prometheus.Counter
	SweepDuration          prometheus.Histogram
	SweepsTotal            *prometheus.CounterVec
	RecordsByStatus        *prometheus.GaugeVec
	RetryCount             prometheus.Histogram
	LedgerRequestDuration  *prometheus.HistogramVec
	LedgerErrorsTotal      *prometheus.CounterVec

	// Verification metrics
	VerificationsTotal    *prometheus.CounterVec
	VerificationDuration  prometheus.Histogram

	// Event metrics
	EventsCreatedTotal *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	GoroutineCount    prometheus.Gauge
	MemoryUsage       prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		SubmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_submissions_total",
				Help: "Total number of ledger submissions by outcome",
			},
			[]string{"outcome"},
		),

		ConfirmationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "anchor_confirmations_total",
				Help: "Total number of anchors confirmed on the ledger",
			},
		),

		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anchor_sweep_duration_seconds",
				Help:    "Time spent per anchoring sweep cycle",
				Buckets: prometheus.DefBuckets,
			},
		),

		SweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_sweeps_total",
				Help: "Total number of sweep cycles by phase",
			},
			[]string{"phase"},
		),

		RecordsByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "anchor_records_by_status",
				Help: "Current number of integrity records per status",
			},
			[]string{"status"},
		),

		RetryCount: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anchor_submission_retries",
				Help:    "Retry count distribution for submissions that eventually settled",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),

		LedgerRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anchor_ledger_request_duration_seconds",
				Help:    "Duration of ledger client calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		LedgerErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_ledger_errors_total",
				Help: "Total number of ledger client errors by class",
			},
			[]string{"operation", "class"},
		),

		VerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_verifications_total",
				Help: "Total number of verification checks by reason",
			},
			[]string{"reason"},
		),

		VerificationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anchor_verification_duration_seconds",
				Help:    "Time spent per verification check",
				Buckets: prometheus.DefBuckets,
			},
		),

		EventsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_events_created_total",
				Help: "Total number of events recorded",
			},
			[]string{"entity_type", "event_type", "severity"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anchor_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anchor_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anchor_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anchor_goroutines",
				Help: "Current number of goroutines",
			},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anchor_memory_usage_bytes",
				Help: "Current heap allocation in bytes",
			},
		),
	}
}

// RecordSubmission records a submission outcome (submitted, transient_error, rejected)
func (pm *PrometheusMetrics) RecordSubmission(outcome string) {
	pm.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordConfirmation records a confirmed anchor and its retry count
func (pm *PrometheusMetrics) RecordConfirmation(retries int) {
	pm.ConfirmationsTotal.Inc()
	pm.RetryCount.Observe(float64(retries))
}

// RecordSweep records a completed sweep phase and its duration
func (pm *PrometheusMetrics) RecordSweep(phase string, duration time.Duration) {
	pm.SweepsTotal.WithLabelValues(phase).Inc()
	pm.SweepDuration.Observe(duration.Seconds())
}

// RecordLedgerRequest records a ledger client call
func (pm *PrometheusMetrics) RecordLedgerRequest(operation string, duration time.Duration, errClass string) {
	pm.LedgerRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errClass != "" {
		pm.LedgerErrorsTotal.WithLabelValues(operation, errClass).Inc()
	}
}

// RecordVerification records a verification outcome
func (pm *PrometheusMetrics) RecordVerification(reason string, duration time.Duration) {
	pm.VerificationsTotal.WithLabelValues(reason).Inc()
	pm.VerificationDuration.Observe(duration.Seconds())
}

// RecordEventCreated records a newly recorded event
func (pm *PrometheusMetrics) RecordEventCreated(entityType, eventType, severity string) {
	pm.EventsCreatedTotal.WithLabelValues(entityType, eventType, severity).Inc()
}

// RecordDatabaseOperation records a database operation
func (pm *PrometheusMetrics) RecordDatabaseOperation(operation, status string, duration time.Duration) {
	pm.DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	pm.DatabaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateRecordsByStatus updates the per-status record gauges
func (pm *PrometheusMetrics) UpdateRecordsByStatus(status string, count int64) {
	pm.RecordsByStatus.WithLabelValues(status).Set(float64(count))
}
