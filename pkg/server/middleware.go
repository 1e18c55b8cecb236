package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teris-io/shortid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/geogate/pkg/monitoring"
	"github.com/NERVsystems/geogate/pkg/tracing"
)

type contextKey string

const requestIDKey contextKey = "request_id"

const (
	defaultMaxVisitors = 10000
	visitorIdleTTL     = 3 * time.Minute
)

// RateLimiter enforces a per-client-IP token bucket across all API routes.
type RateLimiter struct {
	mu          sync.RWMutex
	visitors    map[string]*visitor
	rate        rate.Limit
	burst       int
	maxVisitors int
	done        chan struct{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter granting each client IP a bucket of b
// tokens refilled at r. Idle buckets are pruned in the background until Stop.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{
		visitors:    make(map[string]*visitor),
		rate:        r,
		burst:       b,
		maxVisitors: defaultMaxVisitors,
		done:        make(chan struct{}),
	}
	go rl.prune()
	return rl
}

// Stop ends the background pruning goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

func (rl *RateLimiter) prune() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > visitorIdleTTL {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.visitors[ip]; ok {
		v.lastSeen = time.Now()
		return v.limiter
	}

	// The map is bounded; when full, the least recently seen client
	// gives up its slot.
	if len(rl.visitors) >= rl.maxVisitors {
		var oldest string
		for ip, v := range rl.visitors {
			if oldest == "" || v.lastSeen.Before(rl.visitors[oldest].lastSeen) {
				oldest = ip
			}
		}
		delete(rl.visitors, oldest)
	}

	v := &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst), lastSeen: time.Now()}
	rl.visitors[ip] = v
	return v.limiter
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getVisitor(getIP(r)).Allow() {
			monitoring.RecordRateLimitExceeded("client_ip")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getIP resolves the client address. Proxy headers count only when the
// direct peer is a loopback or private address, i.e. the reverse proxy in
// front of the gateway; a public client rotating forged headers would
// otherwise mint a fresh rate-limit identity per request.
func getIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peer := net.ParseIP(host)
	if peer == nil || !(peer.IsLoopback() || peer.IsPrivate()) {
		return host
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" && net.ParseIP(real) != nil {
		return real
	}
	return host
}

// RequestSizeLimiter caps request bodies at maxBytes; oversized reads fail
// inside the handler with http.MaxBytesError.
func RequestSizeLimiter(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets the browser hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware assigns each request an ID and logs its start and
// completion. The query string is never logged: Bhuvan requests can carry
// upstream tokens in it.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = generateRequestID()
			}
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID))

			logger.Info("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", getIP(r),
				"user_agent", r.UserAgent())

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			logger.Info("http response",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"bytes", rec.written)
		})
	}
}

func generateRequestID() string {
	id, err := shortid.Generate()
	if err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return id
}

// statusRecorder captures the status code and byte count while passing the
// optional writer interfaces through to the underlying ResponseWriter.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := s.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// TracingMiddleware opens a span per request. The span carries the path but
// never the query string, for the same token reason as the logger.
func TracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String(tracing.AttrHTTPMethod, r.Method),
					attribute.String(tracing.AttrHTTPPath, r.URL.Path),
					attribute.String(tracing.AttrHTTPHost, r.Host),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.remote_addr", r.RemoteAddr),
				),
			)
			defer span.End()

			if reqID, ok := r.Context().Value(requestIDKey).(string); ok && reqID != "" {
				span.SetAttributes(attribute.String(tracing.AttrHTTPRequestID, reqID))
			}

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(
				attribute.Int(tracing.AttrHTTPStatusCode, rec.status),
				attribute.Int64("http.response.size", rec.written),
			)
			if rec.status >= 400 {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// MetricsMiddleware feeds the request histogram and the in-flight gauge.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			monitoring.InflightRequests.Inc()
			defer monitoring.InflightRequests.Dec()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			monitoring.RecordHTTPRequest(routeLabel(r.URL.Path), r.Method, rec.status, time.Since(start))
		})
	}
}

// routeLabel maps a request path onto a fixed handler label so the metric
// cardinality stays bounded under arbitrary request paths.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/bhuvan/wms"):
		return "bhuvan_wms"
	case strings.HasPrefix(path, "/api/geoserver/"):
		return "geoserver"
	case path == "/api/osm/query":
		return "osm_query"
	case path == "/api/attributes/distinct":
		return "attributes_distinct"
	case path == "/api/attributes":
		return "attributes"
	case path == "/api/styles/config":
		return "styles_config"
	case path == "/api/analysis/buffer":
		return "buffer"
	case path == "/api/bhuvan/lulc-stats":
		return "bhuvan_lulc_stats"
	case path == "/api/bhuvan/lulc-aoi":
		return "bhuvan_lulc_aoi"
	case path == "/api/bhuvan/routing":
		return "bhuvan_routing"
	case path == "/api/raster/upload":
		return "raster_upload"
	case path == "/api/raster/list":
		return "raster_list"
	case strings.HasPrefix(path, "/media/rasters/"):
		return "media"
	case path == "/health" || path == "/ready" || path == "/live":
		return "health"
	default:
		return "other"
	}
}
