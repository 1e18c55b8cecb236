package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestGateway(t *testing.T, config Config, deps Deps) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(config, deps, logger)
}

func TestGatewayHealthFallbacks(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 0 // keep rate limiting out of the way
	g := newTestGateway(t, config, Deps{})
	handler := g.Handler()

	tests := []struct {
		path string
		key  string
	}{
		{"/health", "status"},
		{"/ready", "ready"},
		{"/live", "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("GET %s status = %d, want %d", tt.path, rec.Code, http.StatusOK)
			}

			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if _, ok := body[tt.key]; !ok {
				t.Errorf("response missing %q key: %v", tt.key, body)
			}
		})
	}

	t.Run("MethodNotAllowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST /health status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestGatewayUnmountedRoutes(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 0
	g := newTestGateway(t, config, Deps{})
	handler := g.Handler()

	paths := []string{
		"/api/osm/query",
		"/api/analysis/buffer",
		"/api/bhuvan/lulc-stats",
		"/api/geoserver/ows",
		"/media/rasters/x.tif",
	}

	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, rec.Code, http.StatusNotFound)
		}
	}
}

func TestGatewayAPIMounted(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := NewAPI(nil, nil, nil, nil, logger)
	g := newTestGateway(t, config, Deps{API: api})
	handler := g.Handler()

	// The database-backed endpoint is mounted but has no store behind it.
	req := httptest.NewRequest(http.MethodGet, "/api/attributes?layer=roads", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /api/attributes status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["error"] != "Database is not available." {
		t.Errorf("error = %q, want %q", body["error"], "Database is not available.")
	}
}

func TestGatewayMediaFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "lulc")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "20240101.tif"), []byte("tif-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	config := DefaultConfig()
	config.RateLimit = 0
	g := newTestGateway(t, config, Deps{RasterDir: dir})
	handler := g.Handler()

	t.Run("ServesFile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/media/rasters/lulc/20240101.tif", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := rec.Body.String(); got != "tif-bytes" {
			t.Errorf("body = %q, want %q", got, "tif-bytes")
		}
	})

	t.Run("NoDirectoryListing", func(t *testing.T) {
		for _, path := range []string{"/media/rasters/", "/media/rasters/lulc/"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s status = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		}
	})
}

func TestGatewaySecurityHeadersApplied(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 0
	g := newTestGateway(t, config, Deps{})
	handler := g.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}

func TestGatewayRateLimiting(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 1
	config.RateBurst = 1
	g := newTestGateway(t, config, Deps{})
	t.Cleanup(func() {
		if g.rateLimiter != nil {
			g.rateLimiter.Stop()
		}
	})
	handler := g.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.1:4000"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
}

func TestGatewayShutdownBeforeStart(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 0
	g := newTestGateway(t, config, Deps{})

	if err := g.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v, want nil", err)
	}
}
