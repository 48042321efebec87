package observability

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access guard metrics
	GuardDecisionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditRecordsTotal *prometheus.CounterVec
	AuditWriteErrors  prometheus.Counter
	AuditSkippedTotal prometheus.Counter

	// Usage metrics
	UsageEventsTotal  *prometheus.CounterVec
	UsageWriteErrors  prometheus.Counter
	LimitChecksTotal  *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_guard_decisions_total",
				Help: "Access guard admissions and rejections",
			},
			[]string{"required_role", "decision"},
		),
		AuditRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_audit_records_total",
				Help: "Audit records written, by action",
			},
			[]string{"action"},
		),
		AuditWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_audit_write_errors_total",
				Help: "Audit record writes that failed",
			},
		),
		AuditSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_audit_skipped_total",
				Help: "Audit writes skipped because entity or org id was unknown",
			},
		),
		UsageEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_usage_events_total",
				Help: "Usage events recorded, by event type",
			},
			[]string{"event_type"},
		),
		UsageWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_usage_write_errors_total",
				Help: "Usage event writes that failed",
			},
		),
		LimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_limit_checks_total",
				Help: "Plan limit checks, by outcome",
			},
			[]string{"metric", "outcome"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backoffice_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backoffice_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GuardDecisionsTotal,
		m.AuditRecordsTotal,
		m.AuditWriteErrors,
		m.AuditSkippedTotal,
		m.UsageEventsTotal,
		m.UsageWriteErrors,
		m.LimitChecksTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// SetDBStats publishes connection pool gauges from a sql.DBStats sample.
func (m *Metrics) SetDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
