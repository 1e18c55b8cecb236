package overpass

import "testing"

func TestDatasetQueries(t *testing.T) {
	const bbox = "18.9,72.8,19.1,73"

	roads, ok := DatasetByKey("roads")
	if !ok {
		t.Fatal("roads dataset missing")
	}
	wantCount := `[out:json][timeout:25];(way["highway"](18.9,72.8,19.1,73););out count;`
	if got := roads.CountQuery(bbox); got != wantCount {
		t.Errorf("CountQuery =\n%s\nwant\n%s", got, wantCount)
	}

	amenities, ok := DatasetByKey("amenities")
	if !ok {
		t.Fatal("amenities dataset missing")
	}
	wantGeom := `[out:json][timeout:50];(node["amenity"](18.9,72.8,19.1,73);way["amenity"](18.9,72.8,19.1,73););out body geom;`
	if got := amenities.GeomQuery(bbox); got != wantGeom {
		t.Errorf("GeomQuery =\n%s\nwant\n%s", got, wantGeom)
	}
}

func TestDatasetsOrder(t *testing.T) {
	want := []string{"roads", "buildings", "amenities", "water", "green"}
	if len(Datasets) != len(want) {
		t.Fatalf("Datasets has %d entries, want %d", len(Datasets), len(want))
	}
	for i, key := range want {
		if Datasets[i].Key != key {
			t.Errorf("Datasets[%d] = %q, want %q", i, Datasets[i].Key, key)
		}
	}
}

func TestSelectCategories(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{"preserves caller order", []string{"green", "roads"}, []string{"green", "roads"}},
		{"drops unknown keys", []string{"roads", "railways", "water"}, []string{"roads", "water"}},
		{"all unknown", []string{"railways"}, nil},
		{"empty", nil, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectCategories(tc.requested)
			if len(got) != len(tc.want) {
				t.Fatalf("SelectCategories(%v) = %v, want %v", tc.requested, got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("SelectCategories(%v) = %v, want %v", tc.requested, got, tc.want)
				}
			}
		})
	}
}
