// Package overpass runs Overpass QL queries against an ordered list of
// mirror endpoints, stopping at the first mirror that returns parseable
// JSON. Failover is strictly sequential so a query never lands on two
// mirrors at once.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/monitoring"
)

const (
	// DefaultTimeout bounds one mirror attempt. It sits above the
	// server-side [timeout:*] budgets carried in the queries themselves,
	// so the mirror's own verdict usually arrives first.
	DefaultTimeout = 45 * time.Second

	acceptHeader = "application/json,text/plain;q=0.9,*/*;q=0.8"

	// snippetLimit bounds upstream body excerpts quoted in diagnostics.
	snippetLimit = 120
)

// DefaultEndpoints lists the public mirrors tried in order when no
// explicit endpoint configuration is supplied.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
}

// AppendExtraEndpoints parses a comma-separated list of additional mirror
// URLs and appends them to the defaults, preserving order. Blank entries
// are skipped.
func AppendExtraEndpoints(csv string) []string {
	endpoints := make([]string, len(DefaultEndpoints))
	copy(endpoints, DefaultEndpoints)
	for _, e := range strings.Split(csv, ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}

// Config carries the tunables for a Client. Zero values select defaults.
type Config struct {
	// Endpoints are tried strictly in order. Empty falls back to
	// DefaultEndpoints.
	Endpoints []string

	// RatePerSecond and Burst shape the limiter shared across mirrors.
	// Zero values default to 1 req/s with burst 1, matching the usage
	// policy of the public instances.
	RatePerSecond float64
	Burst         int

	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger
}

// Client is the Overpass query engine. It owns its HTTP client and rate
// limiter rather than sharing ambient globals, so each upstream's policy
// stays local to the client that needs it.
type Client struct {
	endpoints []string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
	ua        string
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = core.OverpassUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoints: endpoints,
		http:      core.NewClient(core.ClientOptions{Timeout: timeout}),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger,
		ua:        ua,
	}
}

// Endpoints returns the mirror list in failover order.
func (c *Client) Endpoints() []string {
	return c.endpoints
}

// AggregateError reports that every mirror failed, carrying one diagnostic
// per mirror in the order they were tried.
type AggregateError struct {
	Diagnostics []string
}

func (e *AggregateError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "All Overpass endpoints failed."
	}
	return "All Overpass endpoints failed. " + strings.Join(e.Diagnostics, " | ")
}

// RunQuery posts the query to each mirror in order and returns the first
// response that is both an HTTP success and valid JSON. When every mirror
// fails the returned error is an *AggregateError listing each mirror's
// failure.
func (c *Client) RunQuery(ctx context.Context, query string) (json.RawMessage, error) {
	var diagnostics []string
	for _, endpoint := range c.endpoints {
		raw, diag := c.tryEndpoint(ctx, endpoint, query)
		if diag == "" {
			return raw, nil
		}
		c.logger.Warn("overpass endpoint failed",
			"endpoint", endpoint,
			"diagnostic", diag)
		diagnostics = append(diagnostics, diag)

		// Remaining mirrors cannot succeed once the caller is gone.
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &AggregateError{Diagnostics: diagnostics}
}

// tryEndpoint runs one mirror attempt. An empty diagnostic means success.
func (c *Client) tryEndpoint(ctx context.Context, endpoint, query string) (json.RawMessage, string) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Sprintf("%s failed: %v", endpoint, err)
	}
	if wait := time.Since(waitStart); wait > time.Millisecond {
		monitoring.RecordRateLimitWait("overpass", wait)
	}

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Sprintf("%s failed: %v", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", acceptHeader)

	start := time.Now()
	out := core.Call(c.http, req)
	monitoring.RecordUpstreamRequest("overpass", out.Kind.String(), time.Since(start))
	switch out.Kind {
	case core.KindSuccess, core.KindHTTPError:
		// Mirrors signal overload with 429/504; anything below 400 with a
		// JSON body counts as usable.
		if out.Status >= http.StatusBadRequest {
			return nil, fmt.Sprintf("%s returned %d: %s", endpoint, out.Status, snippet(out.Body))
		}
		if !json.Valid(out.Body) {
			if looksLikeJSON(out.Body) {
				return nil, fmt.Sprintf("%s returned invalid JSON payload.", endpoint)
			}
			return nil, fmt.Sprintf("%s returned non-JSON payload: %s", endpoint, snippet(out.Body))
		}
		return json.RawMessage(out.Body), ""
	default:
		return nil, fmt.Sprintf("%s failed: %v", endpoint, out.Err)
	}
}

// CheckHealth probes the first mirror with a trivial metadata query.
func (c *Client) CheckHealth(ctx context.Context) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("no overpass endpoints configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints[0], nil)
	if err != nil {
		return fmt.Errorf("failed to create overpass health check request: %w", err)
	}
	req.URL.RawQuery = "data=[out:json];out meta;"
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("overpass health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("overpass health check returned status %d", resp.StatusCode)
	}
	return nil
}

// snippet collapses whitespace runs and bounds the excerpt length so
// upstream HTML error pages stay readable in diagnostics.
func snippet(body []byte) string {
	collapsed := strings.Join(strings.Fields(string(body)), " ")
	runes := []rune(collapsed)
	if len(runes) > snippetLimit {
		return string(runes[:snippetLimit])
	}
	return collapsed
}

func looksLikeJSON(body []byte) bool {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}
