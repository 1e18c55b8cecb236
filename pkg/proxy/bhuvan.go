package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/monitoring"
)

const (
	// DefaultBhuvanAPIBase is the Bhuvan application API root holding the
	// LULC statistics and routing endpoints.
	DefaultBhuvanAPIBase = "https://bhuvan-app1.nrsc.gov.in/api"

	bhuvanAPIService = "bhuvan_api"
)

// BhuvanConfig wires the Bhuvan API proxies. Tokens usually come from the
// environment; a token in the inbound query string takes precedence.
type BhuvanConfig struct {
	Base         string
	LULCToken    string
	RoutingToken string
	Client       *http.Client
	Logger       *slog.Logger
}

// BhuvanAPI proxies the token-authenticated Bhuvan endpoints. The gateway
// holds the tokens so browser clients never see them, and no token is ever
// echoed in logs or error bodies.
type BhuvanAPI struct {
	base         string
	client       *http.Client
	logger       *slog.Logger
	lulcToken    string
	routingToken string
}

// NewBhuvanAPI builds the proxy set from cfg.
func NewBhuvanAPI(cfg BhuvanConfig) *BhuvanAPI {
	base := cfg.Base
	if base == "" {
		base = DefaultBhuvanAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BhuvanAPI{
		base:         strings.TrimRight(base, "/"),
		client:       cfg.Client,
		logger:       logger,
		lulcToken:    cfg.LULCToken,
		routingToken: cfg.RoutingToken,
	}
}

// LULCStats proxies the LULC 50k statistics API. Required: year (0506 or
// 1112) and either statcode or distcode; distcode wins when both are given.
func (b *BhuvanAPI) LULCStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	year := q.Get("year")
	statcode := q.Get("statcode")
	distcode := q.Get("distcode")
	mode := strings.ToLower(q.Get("mode"))
	if mode == "" {
		mode = "json"
	}

	if year != "0506" && year != "1112" {
		core.WriteJSONError(w, http.StatusBadRequest, "Invalid year. Use 0506 or 1112.")
		return
	}
	if distcode == "" && statcode == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "Provide statcode or distcode.")
		return
	}

	token := q.Get("token")
	if token == "" {
		token = b.lulcToken
	}
	if token == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "Missing token. Provide token or set BHUVAN_LULC_TOKEN.")
		return
	}

	if mode != "json" && mode != "pie" {
		core.WriteJSONError(w, http.StatusBadRequest, "Invalid mode. Use json or pie.")
		return
	}

	endpoint := b.base + "/lulc/curljson.php"
	if mode == "pie" {
		endpoint = b.base + "/lulc/curlpie.php"
	}

	params := url.Values{
		"year":  {year},
		"token": {token},
	}
	if distcode != "" {
		params.Set("distcode", distcode)
	} else {
		params.Set("statcode", statcode)
	}

	b.forward(w, r, "LULC stats", endpoint, params)
}

// Routing proxies the Bhuvan state routing API. Required: lat1, lon1,
// lat2, lon2.
func (b *BhuvanAPI) Routing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	lat1, lon1 := q.Get("lat1"), q.Get("lon1")
	lat2, lon2 := q.Get("lat2"), q.Get("lon2")
	if lat1 == "" || lon1 == "" || lat2 == "" || lon2 == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "Provide lat1, lon1, lat2, lon2.")
		return
	}

	token := q.Get("token")
	if token == "" {
		token = b.routingToken
	}
	if token == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "Missing token. Provide token or set BHUVAN_ROUTING_TOKEN.")
		return
	}

	params := url.Values{
		"lat1":  {lat1},
		"lon1":  {lon1},
		"lat2":  {lat2},
		"lon2":  {lon2},
		"token": {token},
	}

	b.forward(w, r, "routing", b.base+"/routing/curl_routing_state.php", params)
}

// LULCAOI proxies the LULC area-of-interest API. Required: geom as WKT.
func (b *BhuvanAPI) LULCAOI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	geom := q.Get("geom")
	if geom == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "Missing geom (WKT).")
		return
	}

	token := q.Get("token")
	if token == "" {
		token = b.lulcToken
	}
	if token == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "Missing token. Provide token or set BHUVAN_LULC_TOKEN.")
		return
	}

	params := url.Values{
		"geom":  {geom},
		"token": {token},
	}

	b.forward(w, r, "LULC AOI", b.base+"/lulc/curl_aoi.php", params)
}

// forward runs the upstream exchange shared by all Bhuvan API proxies.
// kind names the API in error text ("LULC stats", "LULC AOI", "routing").
func (b *BhuvanAPI) forward(w http.ResponseWriter, r *http.Request, kind, endpoint string, params url.Values) {
	token := params.Get("token")

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bhuvan %s request failed.", kind), http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", core.DefaultUserAgent)

	b.logger.Debug("proxying bhuvan api request", "kind", kind, "endpoint", endpoint)

	start := time.Now()
	out := core.Call(b.client, req)
	monitoring.RecordUpstreamRequest(bhuvanAPIService, out.Kind.String(), time.Since(start))

	if out.Kind == core.KindSuccess && out.Status == http.StatusOK {
		contentType := out.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Body)
		return
	}

	switch out.Kind {
	case core.KindSuccess, core.KindHTTPError:
		// Upstream bodies are dropped, not forwarded: they may echo the
		// token back.
		http.Error(w, fmt.Sprintf("Bhuvan %s error %d", kind, out.Status), out.Status)
	case core.KindTimeout:
		http.Error(w, fmt.Sprintf("Bhuvan %s request timed out.", kind), http.StatusGatewayTimeout)
	case core.KindTransport:
		b.logger.Warn("bhuvan api request failed",
			"kind", kind,
			"error", redactToken(out.Err.Error(), token))
		http.Error(w, fmt.Sprintf("Bhuvan %s request failed.", kind), http.StatusBadGateway)
	default:
		b.logger.Error("bhuvan api internal failure",
			"kind", kind,
			"error", redactToken(errString(out.Err), token))
		http.Error(w, fmt.Sprintf("Bhuvan %s request failed.", kind), http.StatusInternalServerError)
	}
}

// redactToken scrubs the token (raw and URL-encoded) from text destined for
// logs. Transport errors embed the full request URL, token included.
func redactToken(s, token string) string {
	if token == "" {
		return s
	}
	s = strings.ReplaceAll(s, token, "[redacted]")
	if escaped := url.QueryEscape(token); escaped != token {
		s = strings.ReplaceAll(s, escaped, "[redacted]")
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
