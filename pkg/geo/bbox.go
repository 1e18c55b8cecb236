// Package geo provides geographic primitives shared by the gateway
// components.
package geo

import (
	"encoding/json"
	"strconv"

	"github.com/NERVsystems/geogate/pkg/core"
)

// BoundingBox is a rectangular region in WGS84 decimal degrees.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// ParseBBox builds a validated BoundingBox from the wire form
// [minLon, minLat, maxLon, maxLat]. Values arrive as untyped JSON and are
// coerced individually; strings holding numbers are accepted.
func ParseBBox(values []any) (BoundingBox, *core.Error) {
	if len(values) != 4 {
		return BoundingBox{}, core.NewError(core.ErrInvalidBBox,
			"bbox must be [minLon, minLat, maxLon, maxLat].")
	}

	parsed := make([]float64, 4)
	for i, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return BoundingBox{}, core.NewError(core.ErrInvalidBBox,
				"bbox values must be numeric.")
		}
		parsed[i] = f
	}

	b := BoundingBox{
		MinLon: parsed[0],
		MinLat: parsed[1],
		MaxLon: parsed[2],
		MaxLat: parsed[3],
	}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate enforces the boundary invariant: coordinates in range and
// min strictly below max on both axes.
func (b BoundingBox) Validate() *core.Error {
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 ||
		b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return core.NewError(core.ErrInvalidBBox, "bbox coordinates are out of range.")
	}
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return core.NewError(core.ErrInvalidBBox, "bbox min values must be smaller than max values.")
	}
	return nil
}

// OverpassBBox serializes the box in Overpass QL's south,west,north,east
// ordering. The lat/lon transposition is load-bearing: Overpass silently
// returns wrong-region results if the order is swapped.
func (b BoundingBox) OverpassBBox() string {
	return formatCoord(b.MinLat) + "," + formatCoord(b.MinLon) + "," +
		formatCoord(b.MaxLat) + "," + formatCoord(b.MaxLon)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// toFloat coerces the JSON wire value into a float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
