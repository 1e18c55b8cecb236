package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	// Test that all metrics are properly registered
	metrics := []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		InflightRequests,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		OSMQueriesTotal,
		PlaceholderTilesTotal,
		RateLimitExceeded,
		RateLimitWaitTime,
		ErrorsTotal,
		SystemInfo,
		GoRoutines,
		MemoryUsage,
		GCRuns,
	}

	for _, metric := range metrics {
		if metric == nil {
			t.Error("Metric is nil")
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("wms", "GET", 200, 100*time.Millisecond)
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("wms", "GET", "2xx")); got != 1 {
		t.Errorf("Expected 1 2xx request, got %v", got)
	}

	RecordHTTPRequest("wms", "GET", 504, 100*time.Millisecond)
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("wms", "GET", "5xx")); got != 1 {
		t.Errorf("Expected 1 5xx request, got %v", got)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{400, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{504, "5xx"},
	}

	for _, tc := range tests {
		if got := statusClass(tc.status); got != tc.want {
			t.Errorf("statusClass(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestRecordUpstreamRequest(t *testing.T) {
	UpstreamRequestsTotal.Reset()

	RecordUpstreamRequest("bhuvan_wms", "success", 500*time.Millisecond)
	if got := testutil.ToFloat64(UpstreamRequestsTotal.WithLabelValues("bhuvan_wms", "success")); got != 1 {
		t.Errorf("Expected 1 successful upstream request, got %v", got)
	}

	RecordUpstreamRequest("bhuvan_wms", "timeout", 30*time.Second)
	if got := testutil.ToFloat64(UpstreamRequestsTotal.WithLabelValues("bhuvan_wms", "timeout")); got != 1 {
		t.Errorf("Expected 1 timed out upstream request, got %v", got)
	}
}

func TestRecordOSMQuery(t *testing.T) {
	OSMQueriesTotal.Reset()

	RecordOSMQuery("availability", "partial")
	if got := testutil.ToFloat64(OSMQueriesTotal.WithLabelValues("availability", "partial")); got != 1 {
		t.Errorf("Expected 1 partial availability query, got %v", got)
	}
}

func TestRecordPlaceholderTile(t *testing.T) {
	before := testutil.ToFloat64(PlaceholderTilesTotal)
	RecordPlaceholderTile()
	if got := testutil.ToFloat64(PlaceholderTilesTotal); got != before+1 {
		t.Errorf("Expected placeholder counter %v, got %v", before+1, got)
	}
}

func TestRateLimitMetrics(t *testing.T) {
	RateLimitExceeded.Reset()
	RateLimitWaitTime.Reset()

	RecordRateLimitExceeded("client_ip")
	if got := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("client_ip")); got != 1 {
		t.Errorf("Expected 1 rate limit exceeded, got %v", got)
	}

	// Histogram values are awkward to assert; recording must not panic.
	RecordRateLimitWait("overpass", 1*time.Second)
}

func TestErrorMetrics(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("styles", "db_fallback")
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("styles", "db_fallback")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("benchmark", "GET", 200, 100*time.Millisecond)
	}
}

func BenchmarkRecordUpstreamRequest(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordUpstreamRequest("benchmark_service", "success", 100*time.Millisecond)
	}
}
