// Package core provides shared utilities for the geogate upstream clients.
package core

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/NERVsystems/geogate/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultUserAgent identifies the gateway to upstreams that accept
	// non-browser clients (GeoServer, Bhuvan APIs).
	DefaultUserAgent = "geogate/0.1.0"

	// OverpassUserAgent identifies the gateway's Overpass traffic per the
	// Overpass usage policy.
	OverpassUserAgent = "geogate-osm-proxy/1.0"
)

// ClientOptions configures a pooled upstream HTTP client. Each upstream gets
// its own client, built once at startup and passed explicitly into the
// component that talks to it.
type ClientOptions struct {
	// Timeout bounds the whole exchange including body read.
	Timeout time.Duration

	// InsecureTLS disables certificate verification. Only the Bhuvan WMS
	// upstream is served over a certificate Go cannot verify; no other
	// client may set this.
	InsecureTLS bool
}

// NewClient builds a pooled HTTP client for one upstream.
func NewClient(opts ClientOptions) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Kind classifies the result of one upstream HTTP exchange. The set is
// closed: every exchange maps to exactly one kind and callers dispatch on it
// by switching.
type Kind int

const (
	// KindSuccess means a response with a 2xx status was received.
	KindSuccess Kind = iota

	// KindHTTPError means a response was received with a non-2xx status.
	KindHTTPError

	// KindTransport means the exchange failed below HTTP: DNS, connection
	// refused, TLS handshake.
	KindTransport

	// KindTimeout means the exchange exceeded its deadline.
	KindTimeout

	// KindInternal means the gateway itself failed to build the request or
	// read the response.
	KindInternal
)

// String returns the kind name for logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindHTTPError:
		return "http_error"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Outcome captures one upstream exchange. Body is fully read and the
// response closed before Outcome is returned, so callers never manage the
// connection themselves.
type Outcome struct {
	Kind        Kind
	Status      int    // set when a response was received
	Body        []byte // response body, success or error
	ContentType string
	Err         error // set for transport/timeout/internal kinds
}

// OK reports whether the exchange produced a 2xx response.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// MappedStatus maps the outcome to the status code the gateway should
// return: upstream HTTP errors keep their status, timeouts become 504,
// transport failures 502, internal failures 500.
func (o Outcome) MappedStatus() int {
	switch o.Kind {
	case KindSuccess, KindHTTPError:
		return o.Status
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Call performs a single upstream exchange and classifies the result. There
// is exactly one attempt; retry policy, where one exists, is the caller's.
func Call(client *http.Client, req *http.Request) Outcome {
	ctx, span := tracing.StartSpan(req.Context(), "upstream.call",
		trace.WithAttributes(
			attribute.String(tracing.AttrHTTPMethod, req.Method),
			attribute.String(tracing.AttrHTTPHost, req.URL.Host),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		kind := classifyTransportError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		return Outcome{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "body read failed")
		return Outcome{Kind: KindInternal, Status: resp.StatusCode, Err: err}
	}

	out := Outcome{
		Status:      resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Kind = KindSuccess
		span.SetStatus(codes.Ok, "")
	} else {
		out.Kind = KindHTTPError
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode))
	return out
}

// classifyTransportError splits client.Do failures into timeout vs
// connection-level kinds. context cancellation counts as timeout so callers
// surface 504 rather than 502 when the deadline fires mid-dial.
func classifyTransportError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

// Truncate bounds a string to at most n bytes for diagnostics and logs.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
