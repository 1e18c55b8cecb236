package overpass

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Coord is a coordinate decoded leniently from upstream JSON. Overpass
// output is partially trusted: a non-numeric lat/lon marks the coordinate
// invalid instead of failing the surrounding decode, so one malformed
// element never poisons a whole result set.
type Coord struct {
	Value float64
	Valid bool
}

// UnmarshalJSON never returns an error. Only JSON numbers are accepted;
// strings, nulls and other tokens leave the coordinate invalid.
func (c *Coord) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		c.Value, c.Valid = 0, false
		return nil
	}
	c.Value, c.Valid = f, true
	return nil
}

// Vertex is one point of a way's inline geometry.
type Vertex struct {
	Lat Coord `json:"lat"`
	Lon Coord `json:"lon"`
}

// Element is a single Overpass result element. Tags stay untyped because
// they flow through to GeoJSON properties unchanged.
type Element struct {
	Type     string         `json:"type"`
	ID       int64          `json:"id"`
	Lat      Coord          `json:"lat"`
	Lon      Coord          `json:"lon"`
	Geometry []Vertex       `json:"geometry"`
	Tags     map[string]any `json:"tags"`
}

// DecodeElements extracts the element list from a raw Overpass response.
// Elements that fail to decode individually are dropped rather than
// failing the batch.
func DecodeElements(raw json.RawMessage) []Element {
	var envelope struct {
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}

	elements := make([]Element, 0, len(envelope.Elements))
	for _, r := range envelope.Elements {
		var el Element
		if err := json.Unmarshal(r, &el); err != nil {
			continue
		}
		elements = append(elements, el)
	}
	return elements
}

// ExtractCount pulls the integer total from a count-only query response:
// the first element's "total" tag. Any structural irregularity yields 0.
func ExtractCount(raw json.RawMessage) int {
	var envelope struct {
		Elements []struct {
			Tags map[string]any `json:"tags"`
		} `json:"elements"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0
	}
	if len(envelope.Elements) == 0 {
		return 0
	}
	return coerceCount(envelope.Elements[0].Tags["total"])
}

func coerceCount(v any) int {
	switch x := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int(x)
	case json.Number:
		n, err := strconv.Atoi(x.String())
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
