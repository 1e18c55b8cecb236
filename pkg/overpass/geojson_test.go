package overpass

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
)

func decodeTestElements(t *testing.T, raw string) []Element {
	t.Helper()
	return DecodeElements(json.RawMessage(raw))
}

func TestToFeatureCollectionRingClosure(t *testing.T) {
	tests := []struct {
		name     string
		geometry string
		wantType string
	}{
		{
			name:     "closed ring of four becomes polygon",
			geometry: `[{"lat":0,"lon":0},{"lat":0,"lon":1},{"lat":1,"lon":1},{"lat":0,"lon":0}]`,
			wantType: "Polygon",
		},
		{
			name:     "open three vertex way stays linestring",
			geometry: `[{"lat":0,"lon":0},{"lat":0,"lon":1},{"lat":1,"lon":1}]`,
			wantType: "LineString",
		},
		{
			name:     "closed triangle of three stays linestring",
			geometry: `[{"lat":0,"lon":0},{"lat":0,"lon":1},{"lat":0,"lon":0}]`,
			wantType: "LineString",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			elements := decodeTestElements(t,
				`{"elements":[{"type":"way","id":7,"geometry":`+tc.geometry+`,"tags":{"highway":"residential"}}]}`)
			fc := ToFeatureCollection(elements, "roads")
			if len(fc.Features) != 1 {
				t.Fatalf("features = %d, want 1", len(fc.Features))
			}
			if got := fc.Features[0].Geometry.GeoJSONType(); got != tc.wantType {
				t.Errorf("geometry type = %q, want %q", got, tc.wantType)
			}
		})
	}
}

func TestToFeatureCollectionNode(t *testing.T) {
	elements := decodeTestElements(t,
		`{"elements":[{"type":"node","id":42,"lat":18.5,"lon":73.1,"tags":{"amenity":"school"}}]}`)
	fc := ToFeatureCollection(elements, "amenities")
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(fc.Features))
	}

	f := fc.Features[0]
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		t.Fatalf("geometry type = %T, want orb.Point", f.Geometry)
	}
	if pt != (orb.Point{73.1, 18.5}) {
		t.Errorf("point = %v, want lon-first [73.1 18.5]", pt)
	}
	if f.Properties["amenity"] != "school" {
		t.Errorf("tag missing from properties: %v", f.Properties)
	}
	if f.Properties["osm_id"] != int64(42) || f.Properties["osm_type"] != "node" || f.Properties["category"] != "amenities" {
		t.Errorf("reserved properties = %v", f.Properties)
	}
}

func TestToFeatureCollectionSkipsInvalidNode(t *testing.T) {
	elements := decodeTestElements(t,
		`{"elements":[{"type":"node","id":1,"lat":"bad","lon":73.1},{"type":"node","id":2,"lon":73.1}]}`)
	fc := ToFeatureCollection(elements, "amenities")
	if len(fc.Features) != 0 {
		t.Errorf("invalid nodes produced %d features, want 0", len(fc.Features))
	}
}

func TestToFeatureCollectionDropsBadVertices(t *testing.T) {
	// One corrupt vertex inside a closed ring: it is dropped individually
	// and the remaining four still close the polygon.
	elements := decodeTestElements(t,
		`{"elements":[{"type":"way","id":9,"geometry":[
			{"lat":0,"lon":0},{"lat":"x","lon":1},{"lat":0,"lon":1},{"lat":1,"lon":1},{"lat":0,"lon":0}
		]}]}`)
	fc := ToFeatureCollection(elements, "buildings")
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(fc.Features))
	}
	poly, ok := fc.Features[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry type = %T, want orb.Polygon", fc.Features[0].Geometry)
	}
	if len(poly[0]) != 4 {
		t.Errorf("ring length = %d, want 4 after dropping the bad vertex", len(poly[0]))
	}
}

func TestToFeatureCollectionSkipsShortWays(t *testing.T) {
	elements := decodeTestElements(t,
		`{"elements":[{"type":"way","id":3,"geometry":[{"lat":0,"lon":0},{"lat":"x","lon":1}]}]}`)
	fc := ToFeatureCollection(elements, "roads")
	if len(fc.Features) != 0 {
		t.Errorf("way with one usable vertex produced %d features, want 0", len(fc.Features))
	}
}

func TestToFeatureCollectionIgnoresRelations(t *testing.T) {
	elements := decodeTestElements(t,
		`{"elements":[{"type":"relation","id":5,"tags":{"type":"multipolygon"}}]}`)
	fc := ToFeatureCollection(elements, "water")
	if len(fc.Features) != 0 {
		t.Errorf("relation produced %d features, want 0", len(fc.Features))
	}
}

func TestToFeatureCollectionReservedKeysWin(t *testing.T) {
	elements := decodeTestElements(t,
		`{"elements":[{"type":"node","id":11,"lat":1,"lon":2,"tags":{"category":"spoofed","osm_type":"fake"}}]}`)
	fc := ToFeatureCollection(elements, "green")
	props := fc.Features[0].Properties
	if props["category"] != "green" || props["osm_type"] != "node" {
		t.Errorf("reserved keys overridden by tags: %v", props)
	}
}

func TestFeatureCollectionMarshalShape(t *testing.T) {
	elements := decodeTestElements(t,
		`{"elements":[{"type":"node","id":42,"lat":18.5,"lon":73.1}]}`)
	fc := ToFeatureCollection(elements, "amenities")

	out, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshaling feature collection: %v", err)
	}

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded.Type != "FeatureCollection" || len(decoded.Features) != 1 {
		t.Fatalf("unexpected shape: %s", out)
	}
	g := decoded.Features[0].Geometry
	if g.Type != "Point" || len(g.Coordinates) != 2 || g.Coordinates[0] != 73.1 || g.Coordinates[1] != 18.5 {
		t.Errorf("geometry = %+v, want Point [73.1 18.5]", g)
	}
}
