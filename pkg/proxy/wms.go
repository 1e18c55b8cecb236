// Package proxy contains the HTTP handlers fronting the gateway's upstream
// map services: the Bhuvan WMS tile proxy, the GeoServer reverse proxy, and
// the token-holding Bhuvan API proxies.
package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/monitoring"
	"github.com/NERVsystems/geogate/pkg/tile"
)

const (
	// DefaultWMSBase is the Bhuvan LULC 250K WMS endpoint.
	DefaultWMSBase = "https://bhuvan-ras2.nrsc.gov.in/cgi-bin/LULC250K.exe"

	// WMSErrorHeader carries the upstream failure note on placeholder tile
	// responses so map clients can surface degraded layers.
	WMSErrorHeader = "X-Proxy-WMS-Error"

	// browserUserAgent and wmsReferer make the gateway look like a browser
	// session. Bhuvan rejects requests from unrecognized clients.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	wmsReferer       = "https://bhuvan.nrsc.gov.in/"
	wmsAccept        = "image/png,image/*,*/*;q=0.8"

	wmsService = "bhuvan_wms"
)

// WMS proxies WMS tile traffic to the Bhuvan upstream. Failed GetMap
// exchanges degrade to a synthesized transparent tile so the client's map
// layer never shows a broken-image icon.
type WMS struct {
	base   string
	client *http.Client
	tiles  *tile.Synthesizer
	logger *slog.Logger
}

// NewWMS builds the WMS proxy around an upstream client and a tile
// synthesizer. The client must be the one upstream client built with TLS
// verification disabled; Bhuvan serves a certificate Go cannot verify.
func NewWMS(base string, client *http.Client, tiles *tile.Synthesizer, logger *slog.Logger) *WMS {
	if base == "" {
		base = DefaultWMSBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WMS{
		base:   base,
		client: client,
		tiles:  tiles,
		logger: logger,
	}
}

// requestType returns the upper-cased WMS REQUEST parameter, looked up
// case-insensitively the way upstream clients actually send it.
func requestType(r *http.Request) string {
	q := r.URL.Query()
	v := q.Get("REQUEST")
	if v == "" {
		v = q.Get("request")
	}
	return strings.ToUpper(v)
}

func (p *WMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upstreamURL := p.base + "?" + r.URL.RawQuery
	p.logger.Debug("proxying wms request", "url", core.Truncate(upstreamURL, 150))

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		p.failure(w, r, core.Outcome{Kind: core.KindInternal, Err: err})
		return
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", wmsAccept)
	req.Header.Set("Referer", wmsReferer)

	start := time.Now()
	out := core.Call(p.client, req)
	monitoring.RecordUpstreamRequest(wmsService, out.Kind.String(), time.Since(start))

	if out.Kind == core.KindSuccess && out.Status == http.StatusOK {
		contentType := out.ContentType
		if contentType == "" {
			contentType = "image/png"
		}
		p.logger.Debug("wms upstream success",
			"content_type", contentType,
			"bytes", len(out.Body))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Body)
		return
	}

	p.failure(w, r, out)
}

// failure renders the degraded response: GetMap requests get a transparent
// placeholder tile with the upstream verdict in a diagnostic header, all
// other request types get a textual error with the mapped status.
func (p *WMS) failure(w http.ResponseWriter, r *http.Request, out core.Outcome) {
	status := out.MappedStatus()
	p.logger.Warn("wms upstream failed",
		"kind", out.Kind.String(),
		"status", status,
		"error", out.Err)

	if requestType(r) == "GETMAP" {
		q := r.URL.Query()
		width, height := tile.ResolveSize(q.Get("WIDTH"), q.Get("HEIGHT"))
		monitoring.RecordPlaceholderTile()

		w.Header().Set(WMSErrorHeader, fmt.Sprintf("Bhuvan %d", status))
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(p.tiles.Tile(width, height))
		return
	}

	http.Error(w, p.failureText(out), status)
}

func (p *WMS) failureText(out core.Outcome) string {
	switch out.Kind {
	case core.KindSuccess, core.KindHTTPError:
		// A response arrived but not the 200 the tile pipeline needs.
		msg := core.Truncate(string(out.Body), 300)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", out.Status)
		}
		return fmt.Sprintf("Bhuvan WMS Error %d: %s", out.Status, msg)
	case core.KindTimeout:
		return "Request to Bhuvan WMS server timed out."
	case core.KindTransport:
		if isTLSError(out.Err) {
			return "SSL connection error with Bhuvan server. Please try again later."
		}
		return "Could not connect to Bhuvan WMS server. Please ensure the Bhuvan service is accessible."
	default:
		return fmt.Sprintf("Unexpected error: %v", out.Err)
	}
}

// isTLSError reports whether the transport failure happened during the TLS
// handshake rather than at the connection level.
func isTLSError(err error) bool {
	if err == nil {
		return false
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var authErr x509.UnknownAuthorityError
	return errors.As(err, &authErr)
}
