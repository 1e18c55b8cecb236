package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NERVsystems/geogate/pkg/core"
	"github.com/NERVsystems/geogate/pkg/geo"
	"github.com/NERVsystems/geogate/pkg/monitoring"
	"github.com/NERVsystems/geogate/pkg/overpass"
	"github.com/NERVsystems/geogate/pkg/postgis"
	"github.com/NERVsystems/geogate/pkg/raster"
	"github.com/NERVsystems/geogate/pkg/styles"
	"github.com/NERVsystems/geogate/pkg/tracing"
)

const (
	// defaultSRID is Web Mercator, the projection map clients hand us.
	defaultSRID = 3857

	// maxWKTBytes bounds the geometry text accepted by the buffer endpoint.
	maxWKTBytes = 100000
)

// API implements the gateway's JSON endpoints.
type API struct {
	gis     *postgis.Store
	styles  *styles.Service
	rasters *raster.Store
	osm     *overpass.Client
	logger  *slog.Logger
}

// NewAPI creates the JSON API handler set. gis may be nil when the gateway
// runs without Postgres; the database-backed endpoints then answer 503.
func NewAPI(gis *postgis.Store, st *styles.Service, rasters *raster.Store, osm *overpass.Client, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		gis:     gis,
		styles:  st,
		rasters: rasters,
		osm:     osm,
		logger:  logger,
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

// OSMQuery answers availability probes and feature fetches against the
// Overpass mirrors.
func (a *API) OSMQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Mode       string `json:"mode"`
		BBox       []any  `json:"bbox"`
		Categories []any  `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		core.WriteJSONError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	mode := strings.ToLower(strings.TrimSpace(body.Mode))
	if mode == "" {
		mode = "availability"
	}

	box, perr := geo.ParseBBox(body.BBox)
	if perr != nil {
		core.WriteJSONError(w, http.StatusBadRequest, perr.Message)
		return
	}

	ctx := r.Context()
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrOSMMode, mode),
		attribute.String(tracing.AttrOSMBBox, box.OverpassBBox()),
	)

	switch mode {
	case "availability":
		a.osmAvailability(ctx, w, box)
	case "fetch":
		a.osmFetch(ctx, w, box, body.Categories)
	default:
		core.WriteJSONError(w, http.StatusBadRequest, "mode must be 'availability' or 'fetch'.")
	}
}

// availabilityEntry is one dataset's probe result. Count is nil when the
// probe failed; Error then carries the diagnostic.
type availabilityEntry struct {
	Key   string `json:"key"`
	Count *int   `json:"count"`
	Error string `json:"error,omitempty"`
}

func (a *API) osmAvailability(ctx context.Context, w http.ResponseWriter, box geo.BoundingBox) {
	bbox := box.OverpassBBox()
	entries := make([]availabilityEntry, 0, len(overpass.Datasets))
	available := 0

	// Sequential on purpose: the public mirrors rate limit aggressively
	// and a burst of parallel probes trips them.
	for _, ds := range overpass.Datasets {
		raw, err := a.osm.RunQuery(ctx, ds.CountQuery(bbox))
		if err != nil {
			entries = append(entries, availabilityEntry{Key: ds.Key, Error: err.Error()})
			continue
		}
		count := overpass.ExtractCount(raw)
		entries = append(entries, availabilityEntry{Key: ds.Key, Count: &count})
		available++
	}

	if available == 0 {
		monitoring.RecordOSMQuery("availability", "error")
		a.writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    "OSM availability failed for all datasets.",
			"datasets": entries,
		})
		return
	}

	partial := available != len(entries)
	result := "success"
	if partial {
		result = "partial"
	}
	monitoring.RecordOSMQuery("availability", result)
	a.writeJSON(w, http.StatusOK, map[string]any{
		"datasets": entries,
		"partial":  partial,
	})
}

func (a *API) osmFetch(ctx context.Context, w http.ResponseWriter, box geo.BoundingBox, requested []any) {
	if len(requested) == 0 {
		core.WriteJSONError(w, http.StatusBadRequest, "categories must be a non-empty list.")
		return
	}
	keys := make([]string, 0, len(requested))
	for _, c := range requested {
		if s, ok := c.(string); ok {
			keys = append(keys, s)
		}
	}
	selected := overpass.SelectCategories(keys)
	if len(selected) == 0 {
		core.WriteJSONError(w, http.StatusBadRequest, "No valid categories selected.")
		return
	}

	tracing.SetAttributes(ctx, attribute.String(tracing.AttrOSMCategories, strings.Join(selected, ",")))

	bbox := box.OverpassBBox()
	fc := geojson.NewFeatureCollection()
	for _, key := range selected {
		ds, _ := overpass.DatasetByKey(key)
		raw, err := a.osm.RunQuery(ctx, ds.GeomQuery(bbox))
		if err != nil {
			monitoring.RecordOSMQuery("fetch", "error")
			tracing.SetAttributes(ctx, tracing.ErrorAttributes(err)...)
			core.WriteJSONError(w, http.StatusBadGateway, fmt.Sprintf("OSM fetch failed: %v", err))
			return
		}
		sub := overpass.ToFeatureCollection(overpass.DecodeElements(raw), key)
		fc.Features = append(fc.Features, sub.Features...)
	}

	fc.ExtraMembers = geojson.Properties{"categories": selected}
	monitoring.RecordOSMQuery("fetch", "success")
	a.writeJSON(w, http.StatusOK, fc)
}

// Buffer builds a geodesic buffer around the supplied geometry.
func (a *API) Buffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.gis == nil {
		core.WriteJSONError(w, http.StatusServiceUnavailable, "Database is not available.")
		return
	}

	var body struct {
		WKT        string          `json:"wkt"`
		Distance   json.RawMessage `json:"distance"`
		InputSRID  json.RawMessage `json:"input_srid"`
		OutputSRID json.RawMessage `json:"output_srid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		core.WriteJSONError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	wkt := strings.TrimSpace(body.WKT)
	if wkt == "" {
		core.WriteJSONError(w, http.StatusBadRequest, "wkt is required.")
		return
	}
	if len(wkt) > maxWKTBytes {
		core.WriteJSONError(w, http.StatusBadRequest, "wkt is too large.")
		return
	}

	distance, ok := jsonFloat(body.Distance, 0)
	if !ok {
		core.WriteJSONError(w, http.StatusBadRequest, "distance must be a number.")
		return
	}
	if distance <= 0 {
		core.WriteJSONError(w, http.StatusBadRequest, "distance must be > 0.")
		return
	}

	inputSRID, ok := jsonInt(body.InputSRID, defaultSRID)
	if !ok {
		core.WriteJSONError(w, http.StatusBadRequest, "input_srid must be an integer.")
		return
	}
	outputSRID, ok := jsonInt(body.OutputSRID, defaultSRID)
	if !ok {
		core.WriteJSONError(w, http.StatusBadRequest, "output_srid must be an integer.")
		return
	}

	res, err := a.gis.Buffer(r.Context(), wkt, distance, inputSRID, outputSRID)
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, postgis.ErrNoGeometry):
		core.WriteJSONError(w, http.StatusInternalServerError, "Failed to generate buffer geometry.")
	case errors.Is(err, postgis.ErrBadGeometry):
		core.WriteJSONError(w, http.StatusInternalServerError, "Invalid buffer geometry response.")
	default:
		monitoring.RecordError("postgis", "query_failed")
		core.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Buffer computation failed: %v", err))
	}
}

// Attributes returns the column list and a row page for one named layer.
func (a *API) Attributes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.gis == nil {
		core.WriteJSONError(w, http.StatusServiceUnavailable, "Database is not available.")
		return
	}

	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)

	payload, err := a.gis.Attributes(r.Context(), q.Get("layer"), q.Get("filter_field"), q.Get("filter_value"), limit)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	case errors.Is(err, postgis.ErrUnknownLayer):
		a.writeJSON(w, http.StatusOK, map[string]any{
			"columns": []string{},
			"rows":    []any{},
			"message": "Data not available for this layer",
		})
	case errors.Is(err, postgis.ErrInvalidField), errors.Is(err, postgis.ErrUnknownColumn):
		core.WriteJSONError(w, http.StatusBadRequest, "Invalid filter_field.")
	default:
		monitoring.RecordError("postgis", "query_failed")
		a.logger.Error("attributes query failed", "layer", q.Get("layer"), "error", err)
		core.WriteJSONError(w, http.StatusInternalServerError, "Failed to fetch attributes.")
	}
}

// DistinctValues lists the distinct non-blank values of one column, for
// populating filter pickers.
func (a *API) DistinctValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.gis == nil {
		core.WriteJSONError(w, http.StatusServiceUnavailable, "Database is not available.")
		return
	}

	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 100)
	match := strings.TrimSpace(q.Get("q"))

	values, err := a.gis.DistinctValues(r.Context(), q.Get("layer"), q.Get("field"), match, limit)
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusOK, map[string]any{"values": values})
	case errors.Is(err, postgis.ErrUnknownLayer), errors.Is(err, postgis.ErrUnknownColumn):
		a.writeJSON(w, http.StatusOK, map[string]any{"values": []string{}})
	case errors.Is(err, postgis.ErrInvalidField):
		core.WriteJSONError(w, http.StatusBadRequest, "Invalid field.")
	default:
		monitoring.RecordError("postgis", "query_failed")
		a.logger.Error("distinct query failed", "layer", q.Get("layer"), "field", q.Get("field"), "error", err)
		core.WriteJSONError(w, http.StatusInternalServerError, "Failed to fetch distinct values.")
	}
}

// StyleConfig reads and updates the shared style configuration.
func (a *API) StyleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.writeJSON(w, http.StatusOK, a.styles.Get(r.Context()))

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			core.WriteJSONError(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		update, err := styles.ParseUpdate(body)
		if err != nil {
			var verr *styles.ValidationError
			if errors.As(err, &verr) {
				core.WriteJSONError(w, http.StatusBadRequest, verr.Error())
				return
			}
			core.WriteJSONError(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		saved, err := a.styles.Apply(r.Context(), update)
		if err != nil {
			a.logger.Error("style config update failed", "error", err)
			core.WriteJSONError(w, http.StatusInternalServerError, "Failed to persist style configuration.")
			return
		}
		a.writeJSON(w, http.StatusOK, saved)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// RasterUpload stores an uploaded GeoTIFF under its dataset and timestamp.
func (a *API) RasterUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		core.WriteJSONError(w, http.StatusBadRequest, "Missing file.")
		return
	}
	defer file.Close()

	datetime := r.FormValue("datetime")
	if datetime == "" {
		datetime = r.FormValue("date")
	}

	res, err := a.rasters.Save(r.FormValue("dataset"), datetime, header.Filename, file, mediaBase(r))
	if err != nil {
		var verr *raster.ValidationError
		if errors.As(err, &verr) {
			core.WriteJSONError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.logger.Error("raster upload failed", "error", err)
		core.WriteJSONError(w, http.StatusInternalServerError, "Failed to save raster.")
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

// RasterList lists stored rasters, optionally filtered by dataset.
func (a *API) RasterList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := a.rasters.List(r.URL.Query().Get("dataset"), mediaBase(r))
	if err != nil {
		a.logger.Error("raster list failed", "error", err)
		core.WriteJSONError(w, http.StatusInternalServerError, "Failed to list rasters.")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// mediaBase rebuilds the absolute URL prefix for stored rasters from the
// inbound request.
func mediaBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/media/rasters/"
}

// intParam parses an integer query parameter, falling back to the default
// on anything unparseable.
func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// jsonFloat reads a JSON value that may arrive as a number or a numeric
// string. An absent value takes the default; null and anything non-numeric
// fail.
func jsonFloat(raw json.RawMessage, def float64) (float64, bool) {
	if len(raw) == 0 {
		return def, true
	}
	if bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// jsonInt is jsonFloat's integer counterpart. Numeric JSON values are
// truncated; strings must parse as integers.
func jsonInt(raw json.RawMessage, def int) (int, bool) {
	if len(raw) == 0 {
		return def, true
	}
	if bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
