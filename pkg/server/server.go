// Package server assembles the gateway's HTTP surface: the upstream
// proxies, the PostGIS-backed analysis APIs, shared style configuration,
// raster storage, and the health endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/monitoring"
	"github.com/NERVsystems/geogate/pkg/proxy"
)

// Config holds configuration for the gateway HTTP server
type Config struct {
	Addr           string  // HTTP server address (e.g., ":8080")
	RateLimit      float64 // Requests per second per IP (0 = disabled)
	RateBurst      int     // Burst size for rate limiter
	MaxRequestSize int64   // Maximum request body size in bytes
	MaxHeaderBytes int     // Maximum header size in bytes
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RateLimit:      10,       // 10 requests per second per IP
		RateBurst:      20,       // Allow bursts of 20
		MaxRequestSize: 64 << 20, // 64 MB, enough for raster uploads
		MaxHeaderBytes: 1 << 20,  // 1 MB
	}
}

// Deps carries the wired dependencies for the gateway routes. Nil entries
// leave their routes unmounted.
type Deps struct {
	WMS       http.Handler     // Bhuvan WMS tile proxy
	GeoServer http.Handler     // GeoServer passthrough proxy
	Bhuvan    *proxy.BhuvanAPI // Bhuvan JSON API proxies
	API       *API             // PostGIS, style, raster, and OSM handlers
	RasterDir string           // directory served under /media/rasters/
}

// Gateway is the gateway HTTP server.
type Gateway struct {
	config        Config
	logger        *slog.Logger
	mux           *http.ServeMux
	httpSrv       *http.Server
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker
	mu            sync.RWMutex
}

// NewGateway creates the gateway server and mounts all routes.
func NewGateway(config Config, deps Deps, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: config,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	if config.RateLimit > 0 {
		g.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	g.setupRoutes(deps)
	return g
}

// SetHealthChecker sets the health checker backing /health, /ready and /live.
func (g *Gateway) SetHealthChecker(hc *monitoring.HealthChecker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthChecker = hc
}

// setupRoutes configures all HTTP routes
func (g *Gateway) setupRoutes(deps Deps) {
	// Upstream proxies
	if deps.WMS != nil {
		g.mux.Handle("/api/bhuvan/wms", deps.WMS)
		g.mux.Handle("/api/bhuvan/wms/", deps.WMS)
	}
	if deps.GeoServer != nil {
		g.mux.Handle("/api/geoserver/", http.StripPrefix("/api/geoserver", deps.GeoServer))
	}
	if deps.Bhuvan != nil {
		g.mux.HandleFunc("/api/bhuvan/lulc-stats", deps.Bhuvan.LULCStats)
		g.mux.HandleFunc("/api/bhuvan/lulc-aoi", deps.Bhuvan.LULCAOI)
		g.mux.HandleFunc("/api/bhuvan/routing", deps.Bhuvan.Routing)
	}

	// JSON APIs
	if deps.API != nil {
		g.mux.HandleFunc("/api/osm/query", deps.API.OSMQuery)
		g.mux.HandleFunc("/api/analysis/buffer", deps.API.Buffer)
		g.mux.HandleFunc("/api/attributes", deps.API.Attributes)
		g.mux.HandleFunc("/api/attributes/distinct", deps.API.DistinctValues)
		g.mux.HandleFunc("/api/styles/config", deps.API.StyleConfig)
		g.mux.HandleFunc("/api/raster/upload", deps.API.RasterUpload)
		g.mux.HandleFunc("/api/raster/list", deps.API.RasterList)
	}

	// Uploaded rasters are served back as static files
	if deps.RasterDir != "" {
		files := http.FileServer(http.Dir(deps.RasterDir))
		g.mux.Handle("/media/rasters/", http.StripPrefix("/media/rasters/", noListing(files)))
	}

	// Health check endpoints
	g.mux.HandleFunc("/health", g.handleHealth)
	g.mux.HandleFunc("/ready", g.handleReady)
	g.mux.HandleFunc("/live", g.handleLive)
}

// noListing blocks directory index responses from the file server.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth provides the comprehensive health check endpoint
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	g.mu.RLock()
	hc := g.healthChecker
	g.mu.RUnlock()

	if hc != nil {
		hc.HealthHandler()(w, r)
		return
	}

	// Fallback to a minimal health check
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok"}); err != nil {
		g.logger.Error("failed to encode health response", "error", err)
	}
}

// handleReady provides the Kubernetes-style readiness check
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	g.mu.RLock()
	hc := g.healthChecker
	g.mu.RUnlock()

	if hc != nil {
		hc.ReadinessHandler()(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"ready": true, "status": "ok"}); err != nil {
		g.logger.Error("failed to encode ready response", "error", err)
	}
}

// handleLive provides the Kubernetes-style liveness check
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	g.mu.RLock()
	hc := g.healthChecker
	g.mu.RUnlock()

	if hc != nil {
		hc.LivenessHandler()(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"alive": true}); err != nil {
		g.logger.Error("failed to encode liveness response", "error", err)
	}
}

// Handler returns the fully assembled middleware chain. Exposed so tests
// can drive the gateway without binding a listener.
func (g *Gateway) Handler() http.Handler {
	handler := http.Handler(g.mux)
	handler = MetricsMiddleware()(handler)
	handler = TracingMiddleware()(handler)
	handler = LoggingMiddleware(g.logger)(handler)
	if g.rateLimiter != nil {
		handler = g.rateLimiter.Middleware(handler)
	}
	handler = SecurityHeaders(handler)
	handler = RequestSizeLimiter(g.config.MaxRequestSize)(handler)
	return handler
}

// Start begins serving HTTP requests. It blocks until the listener fails
// or Shutdown is called.
func (g *Gateway) Start() error {
	g.mu.Lock()

	if g.httpSrv != nil {
		g.mu.Unlock()
		return core.NewError(core.ErrInternalError, "gateway already started").
			WithGuidance("The gateway is already running. Stop it before starting again.")
	}

	// The write timeout has to cover a full sequential Overpass failover,
	// which is far slower than any other route. The read timeout leaves
	// room for large raster uploads on slow links.
	g.httpSrv = &http.Server{
		Addr:           g.config.Addr,
		Handler:        g.Handler(),
		ReadTimeout:    120 * time.Second,
		WriteTimeout:   300 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: g.config.MaxHeaderBytes,
	}

	g.logger.Info("starting gateway",
		"addr", g.config.Addr,
		"rate_limit", g.config.RateLimit,
		"max_request_size", g.config.MaxRequestSize)

	g.mu.Unlock() // Release lock before blocking call
	return g.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the gateway
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.httpSrv == nil {
		return nil
	}

	g.logger.Info("shutting down gateway")

	if g.rateLimiter != nil {
		g.rateLimiter.Stop()
	}

	err := g.httpSrv.Shutdown(ctx)
	g.httpSrv = nil
	return err
}
