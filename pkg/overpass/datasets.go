package overpass

import "strings"

// Dataset describes one queryable OSM category: the stable key exposed to
// clients and the Overpass QL element filters selecting its features.
// Multi-filter categories become a union query with the bounding box
// applied to every member.
type Dataset struct {
	Key     string
	Filters []string
}

// Datasets lists the queryable categories in presentation order. Read-only
// after initialization.
var Datasets = []Dataset{
	{Key: "roads", Filters: []string{`way["highway"]`}},
	{Key: "buildings", Filters: []string{`way["building"]`}},
	{Key: "amenities", Filters: []string{`node["amenity"]`, `way["amenity"]`}},
	{Key: "water", Filters: []string{`way["waterway"]`, `way["natural"="water"]`, `way["landuse"="reservoir"]`}},
	{Key: "green", Filters: []string{`way["leisure"="park"]`, `way["landuse"="grass"]`, `way["landuse"="forest"]`}},
}

// DatasetByKey returns the dataset registered under key.
func DatasetByKey(key string) (Dataset, bool) {
	for _, d := range Datasets {
		if d.Key == key {
			return d, true
		}
	}
	return Dataset{}, false
}

// SelectCategories filters the requested keys down to known dataset keys,
// preserving the caller's order.
func SelectCategories(requested []string) []string {
	var selected []string
	for _, key := range requested {
		if _, ok := DatasetByKey(key); ok {
			selected = append(selected, key)
		}
	}
	return selected
}

// CountQuery builds the availability probe for this dataset: a count-only
// union query bounded to bbox, expressed in Overpass's south,west,north,east
// coordinate order.
func (d Dataset) CountQuery(bbox string) string {
	return d.unionQuery(bbox, "25", "out count;")
}

// GeomQuery builds the feature fetch for this dataset, requesting inline
// way geometry so the translator never needs a second node-resolution pass.
func (d Dataset) GeomQuery(bbox string) string {
	return d.unionQuery(bbox, "50", "out body geom;")
}

func (d Dataset) unionQuery(bbox, timeout, output string) string {
	var b strings.Builder
	b.WriteString("[out:json][timeout:")
	b.WriteString(timeout)
	b.WriteString("];(")
	for _, filter := range d.Filters {
		b.WriteString(filter)
		b.WriteString("(")
		b.WriteString(bbox)
		b.WriteString(");")
	}
	b.WriteString(");")
	b.WriteString(output)
	return b.String()
}
