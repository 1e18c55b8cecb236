package overpass

import (
	"encoding/json"
	"testing"
)

func TestExtractCount(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"string total", `{"elements":[{"type":"count","tags":{"total":"42"}}]}`, 42},
		{"numeric total truncates", `{"elements":[{"tags":{"total":7.9}}]}`, 7},
		{"padded string", `{"elements":[{"tags":{"total":" 12 "}}]}`, 12},
		{"missing total", `{"elements":[{"tags":{"nodes":"3"}}]}`, 0},
		{"unparseable total", `{"elements":[{"tags":{"total":"12.5"}}]}`, 0},
		{"no tags", `{"elements":[{"type":"count"}]}`, 0},
		{"empty elements", `{"elements":[]}`, 0},
		{"no elements key", `{"version":0.6}`, 0},
		{"top level not object", `[1,2,3]`, 0},
		{"only first element consulted", `{"elements":[{"tags":{"total":"5"}},{"tags":{"total":"99"}}]}`, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractCount(json.RawMessage(tc.raw)); got != tc.want {
				t.Errorf("ExtractCount(%s) = %d, want %d", tc.raw, got, tc.want)
			}
		})
	}
}

func TestCoordUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantValid bool
		wantValue float64
	}{
		{"integer", "18", true, 18},
		{"float", "73.125", true, 73.125},
		{"negative", "-0.5", true, -0.5},
		{"string number rejected", `"73.1"`, false, 0},
		{"garbage string rejected", `"bad"`, false, 0},
		{"null rejected", "null", false, 0},
		{"bool rejected", "true", false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c Coord
			if err := json.Unmarshal([]byte(tc.raw), &c); err != nil {
				t.Fatalf("Coord unmarshal must never fail, got %v", err)
			}
			if c.Valid != tc.wantValid || c.Value != tc.wantValue {
				t.Errorf("Coord from %s = {%v %v}, want {%v %v}",
					tc.raw, c.Value, c.Valid, tc.wantValue, tc.wantValid)
			}
		})
	}
}

func TestDecodeElementsLenient(t *testing.T) {
	raw := `{"elements":[
		{"type":"node","id":1,"lat":1,"lon":2},
		{"type":"way","id":2,"geometry":{"not":"a list"}},
		{"type":"way","id":3,"geometry":[{"lat":0,"lon":0},{"lat":1,"lon":1}]}
	]}`

	elements := DecodeElements(json.RawMessage(raw))
	if len(elements) != 2 {
		t.Fatalf("decoded %d elements, want 2 (malformed one dropped)", len(elements))
	}
	if elements[0].ID != 1 || elements[1].ID != 3 {
		t.Errorf("surviving element IDs = %d, %d, want 1, 3", elements[0].ID, elements[1].ID)
	}
}

func TestDecodeElementsBadEnvelope(t *testing.T) {
	if got := DecodeElements(json.RawMessage(`"remark"`)); got != nil {
		t.Errorf("DecodeElements on scalar = %v, want nil", got)
	}
	if got := DecodeElements(json.RawMessage(`{"elements":null}`)); len(got) != 0 {
		t.Errorf("DecodeElements on null elements = %v, want empty", got)
	}
}
