package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/monitoring"
)

const (
	// DefaultGeoServerBase is the in-network GeoServer instance.
	DefaultGeoServerBase = "http://192.168.20.57:5855/geoserver"

	geoserverService = "geoserver"
)

// GeoServer is a thin transparent proxy to the configured GeoServer
// instance. One attempt per request, no retry; callers retry if they care.
type GeoServer struct {
	base   string
	port   string
	client *http.Client
	logger *slog.Logger
}

// NewGeoServer builds the proxy. The upstream port is extracted from base
// once so transport failures can name it for operators.
func NewGeoServer(base string, client *http.Client, logger *slog.Logger) *GeoServer {
	if base == "" {
		base = DefaultGeoServerBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeoServer{
		base:   strings.TrimRight(base, "/"),
		port:   upstreamPort(base),
		client: client,
		logger: logger,
	}
}

// CheckHealth probes the upstream's web root. Any HTTP answer counts as
// alive; only transport failures and 5xx report unhealthy.
func (p *GeoServer) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/web/", nil)
	if err != nil {
		return fmt.Errorf("failed to create geoserver health check request: %w", err)
	}
	req.Header.Set("User-Agent", core.DefaultUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("geoserver health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("geoserver health check returned status %d", resp.StatusCode)
	}
	return nil
}

// upstreamPort pulls the port out of the base URL, falling back to the
// scheme default.
func upstreamPort(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return "80"
	}
	if port := u.Port(); port != "" {
		return port
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

// ServeHTTP forwards method, path suffix, query string, and body to the
// upstream. It is mounted behind http.StripPrefix, so r.URL.Path already
// holds just the suffix.
func (p *GeoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	upstreamURL := p.base + path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	p.logger.Debug("proxying geoserver request",
		"method", r.Method,
		"url", core.Truncate(upstreamURL, 200))

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Unexpected error: %v", err), http.StatusInternalServerError)
		return
	}
	req.Header.Set("User-Agent", core.DefaultUserAgent)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	start := time.Now()
	out := core.Call(p.client, req)
	monitoring.RecordUpstreamRequest(geoserverService, out.Kind.String(), time.Since(start))

	switch out.Kind {
	case core.KindSuccess:
		contentType := out.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(out.Status)
		_, _ = w.Write(out.Body)

	case core.KindHTTPError:
		p.logger.Warn("geoserver upstream error",
			"status", out.Status,
			"body", core.Truncate(string(out.Body), 200))
		http.Error(w,
			fmt.Sprintf("GeoServer proxy error: %d - %s", out.Status, core.Truncate(string(out.Body), 200)),
			out.Status)

	case core.KindTimeout:
		p.logger.Warn("geoserver request timed out", "error", out.Err)
		http.Error(w, "GeoServer request timed out.", http.StatusGatewayTimeout)

	case core.KindTransport:
		p.logger.Warn("geoserver connection failed", "error", out.Err)
		http.Error(w,
			fmt.Sprintf("GeoServer connection error: %v. Please ensure GeoServer is running on port %s.", out.Err, p.port),
			http.StatusBadGateway)

	default:
		http.Error(w, fmt.Sprintf("Unexpected error: %v", out.Err), http.StatusInternalServerError)
	}
}
