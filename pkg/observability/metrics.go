package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Grant metrics
	GrantAssignsTotal     *prometheus.CounterVec
	GrantRemovalsTotal    *prometheus.CounterVec
	ReconcilesTotal       *prometheus.CounterVec
	ReconcileDuration     *prometheus.HistogramVec
	OrphanGrantsRemoved   prometheus.Counter
	PermissionChecksTotal *prometheus.CounterVec

	// Check cache metrics
	CheckCacheHitsTotal   prometheus.Counter
	CheckCacheMissesTotal prometheus.Counter

	// Audit metrics
	AuditEventsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardian_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardian_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		GrantAssignsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_grant_assigns_total",
				Help: "Total number of grant assignments",
			},
			[]string{"object_type"},
		),
		GrantRemovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_grant_removals_total",
				Help: "Total number of grant removals",
			},
			[]string{"object_type"},
		),
		ReconcilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_reconciles_total",
				Help: "Total number of grant reconciliations",
			},
			[]string{"object_type", "status"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardian_reconcile_duration_seconds",
				Help:    "Grant reconciliation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"object_type"},
		),
		OrphanGrantsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_orphan_grants_removed_total",
				Help: "Total number of orphaned grants removed by the cleanup sweep",
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result"},
		),

		CheckCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_check_cache_hits_total",
				Help: "Total number of permission check cache hits",
			},
		),
		CheckCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guardian_check_cache_misses_total",
				Help: "Total number of permission check cache misses",
			},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardian_audit_events_total",
				Help: "Total number of audit events written",
			},
			[]string{"event_type", "status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardian_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.GrantAssignsTotal,
		m.GrantRemovalsTotal,
		m.ReconcilesTotal,
		m.ReconcileDuration,
		m.OrphanGrantsRemoved,
		m.PermissionChecksTotal,
		m.CheckCacheHitsTotal,
		m.CheckCacheMissesTotal,
		m.AuditEventsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
	)

	return m
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
