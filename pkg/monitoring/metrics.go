// Package monitoring exposes the gateway's Prometheus metrics and health
// surface.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// ServiceName labels every health payload.
	ServiceName = "geogate"
)

var (
	// Inbound HTTP metrics, recorded by the server middleware.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_http_requests_total",
			Help: "Total number of gateway HTTP requests processed",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geogate_http_request_duration_seconds",
			Help:    "Gateway HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"handler"},
	)

	InflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geogate_inflight_requests",
			Help: "Number of gateway HTTP requests currently being served",
		},
	)

	// Upstream exchange metrics, recorded by the proxy handlers and the
	// Overpass engine with one sample per exchange.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_upstream_requests_total",
			Help: "Total number of upstream service requests",
		},
		[]string{"service", "outcome"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geogate_upstream_request_duration_seconds",
			Help:    "Upstream service request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"service"},
	)

	// OSM query metrics by mode (availability or fetch).
	OSMQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_osm_queries_total",
			Help: "Total number of OSM query operations",
		},
		[]string{"mode", "result"},
	)

	// PlaceholderTilesTotal counts transparent tiles served in place of a
	// failed WMS exchange.
	PlaceholderTilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geogate_placeholder_tiles_total",
			Help: "Total number of synthesized placeholder tiles served",
		},
	)

	// Rate limiting metrics.
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"scope"},
	)

	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geogate_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limits",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"scope"},
	)

	// Error metrics.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics, refreshed by the health checker.
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geogate_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geogate_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geogate_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	GCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geogate_gc_runs_total",
			Help: "Total number of garbage collection runs",
		},
	)
)

// ServiceHealth is the payload of the /health endpoint.
type ServiceHealth struct {
	Service       string                `json:"service"`
	Version       string                `json:"version"`
	Status        string                `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration         `json:"uptime"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	StartTime     time.Time             `json:"start_time,omitempty"`
	Connections   map[string]ConnStatus `json:"connections"`
	Metrics       map[string]any        `json:"metrics,omitempty"`
}

// ConnStatus describes the last observed state of one upstream connection.
type ConnStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "connected", "disconnected", "error"
	Latency int64  `json:"latency_ms,omitempty"`
	Error   string `json:"last_error,omitempty"`
}

// RecordHTTPRequest records one completed inbound request.
func RecordHTTPRequest(handler, method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(handler, method, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// statusClass buckets status codes so the label set stays small.
func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// RecordUpstreamRequest records one upstream exchange. Outcome is the
// closed classification of the exchange (success, http_error, transport,
// timeout, internal).
func RecordUpstreamRequest(service, outcome string, duration time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordOSMQuery records the result of one OSM query operation.
func RecordOSMQuery(mode, result string) {
	OSMQueriesTotal.WithLabelValues(mode, result).Inc()
}

// RecordPlaceholderTile counts one synthesized tile served to keep a map
// layer rendering through an upstream failure.
func RecordPlaceholderTile() {
	PlaceholderTilesTotal.Inc()
}

// RecordRateLimitExceeded records a rejected request for the given scope.
func RecordRateLimitExceeded(scope string) {
	RateLimitExceeded.WithLabelValues(scope).Inc()
}

// RecordRateLimitWait records time spent blocked on a limiter.
func RecordRateLimitWait(scope string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordError records an error for the given component.
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
