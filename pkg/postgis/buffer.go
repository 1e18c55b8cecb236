package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/NERVsystems/geogate/pkg/monitoring"
)

// Buffer result failures the HTTP layer reports separately from SQL errors.
var (
	// ErrNoGeometry means the buffer query produced no geometry.
	ErrNoGeometry = errors.New("no buffer geometry produced")
	// ErrBadGeometry means the produced GeoJSON did not parse.
	ErrBadGeometry = errors.New("buffer geometry is not valid JSON")
)

// The buffer runs on geography so the distance is meters regardless of the
// input projection. Transforms bracket it: input SRID to 4326 for the
// geography cast, then to the caller's output SRID.
const bufferSQL = `
WITH src AS (
    SELECT ST_Transform(ST_GeomFromText($1, $2), 4326) AS g4326
),
buf AS (
    SELECT ST_Transform(ST_Buffer(g4326::geography, $3)::geometry, $4) AS g
    FROM src
)
SELECT ST_AsText(g), ST_AsGeoJSON(g)
FROM buf
`

// BufferResult is the buffer geometry in both encodings plus the echoed
// request parameters.
type BufferResult struct {
	WKT        string          `json:"wkt"`
	Geometry   json.RawMessage `json:"geometry"`
	Distance   float64         `json:"distance"`
	InputSRID  int             `json:"input_srid"`
	OutputSRID int             `json:"output_srid"`
}

// Buffer computes a geometric buffer of distance meters around the WKT
// geometry. Input validation is the caller's job; this runs the SQL and
// classifies its failures.
func (s *Store) Buffer(ctx context.Context, wkt string, distance float64, inputSRID, outputSRID int) (*BufferResult, error) {
	start := time.Now()
	var outWKT, outGeoJSON sql.NullString
	err := s.db.QueryRowContext(ctx, bufferSQL, wkt, inputSRID, distance, outputSRID).Scan(&outWKT, &outGeoJSON)
	monitoring.RecordUpstreamRequest(postgresService, outcomeLabel(err), time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoGeometry
	}
	if err != nil {
		return nil, err
	}
	if !outGeoJSON.Valid || outGeoJSON.String == "" {
		return nil, ErrNoGeometry
	}
	if !json.Valid([]byte(outGeoJSON.String)) {
		return nil, ErrBadGeometry
	}

	return &BufferResult{
		WKT:        outWKT.String,
		Geometry:   json.RawMessage(outGeoJSON.String),
		Distance:   distance,
		InputSRID:  inputSRID,
		OutputSRID: outputSRID,
	}, nil
}
