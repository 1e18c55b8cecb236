package overpass

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ToFeatureCollection converts raw Overpass elements into GeoJSON features
// tagged with the category they were fetched for.
//
// Nodes become Points and require numeric lat/lon; a node missing either is
// skipped, never an error. Ways use their inline geometry: vertices with
// non-numeric coordinates are dropped individually, a way left with fewer
// than two usable vertices is skipped, and a way of four or more vertices
// whose first and last points coincide exactly is classified as a Polygon
// (single ring). Ring closure is the only area signal available in this
// query shape, so it is treated as authoritative. Relations and other
// element types are ignored.
func ToFeatureCollection(elements []Element, category string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, el := range elements {
		switch el.Type {
		case "node":
			if !el.Lat.Valid || !el.Lon.Valid {
				continue
			}
			f := geojson.NewFeature(orb.Point{el.Lon.Value, el.Lat.Value})
			f.Properties = elementProperties(el, category)
			fc.Append(f)

		case "way":
			line := make(orb.LineString, 0, len(el.Geometry))
			for _, v := range el.Geometry {
				if !v.Lat.Valid || !v.Lon.Valid {
					continue
				}
				line = append(line, orb.Point{v.Lon.Value, v.Lat.Value})
			}
			if len(line) < 2 {
				continue
			}

			var geom orb.Geometry = line
			if len(line) >= 4 && line[0] == line[len(line)-1] {
				geom = orb.Polygon{orb.Ring(line)}
			}

			f := geojson.NewFeature(geom)
			f.Properties = elementProperties(el, category)
			fc.Append(f)
		}
	}
	return fc
}

// elementProperties merges element tags with the reserved identification
// keys. Reserved keys win on collision.
func elementProperties(el Element, category string) geojson.Properties {
	props := make(geojson.Properties, len(el.Tags)+3)
	for k, v := range el.Tags {
		props[k] = v
	}
	props["osm_id"] = el.ID
	props["osm_type"] = el.Type
	props["category"] = category
	return props
}
