// Package geometry wraps the polygon math used by spatial containment
// fallback: GeoJSON parsing, intersection-over-area overlap shares, and
// centroid/great-circle helpers.
package geometry

import (
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/peterstace/simplefeatures/geom"
)

const earthRadiusKm = 6371.0

// Parse decodes a GeoJSON geometry (Polygon or MultiPolygon in practice).
func Parse(raw []byte) (geom.Geometry, error) {
	g, err := geom.UnmarshalGeoJSON(raw)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("parse geojson: %w", err)
	}
	return g, nil
}

// OverlapPercent returns the share of child's area covered by parent, in
// [0,100]. Areas are planar over lon/lat coordinates; for the ratio of two
// areas at the same latitude the projection error cancels out, which is all
// containment scoring needs.
func OverlapPercent(child, parent geom.Geometry) (float64, error) {
	childArea := child.Area()
	if childArea == 0 {
		return 0, fmt.Errorf("overlap: child geometry has zero area")
	}
	inter, err := geom.Intersection(child, parent)
	if err != nil {
		return 0, fmt.Errorf("overlap: intersection: %w", err)
	}
	pct := inter.Area() / childArea * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// Centroid returns the lat/lng centroid of g; ok is false for empty
// geometries.
func Centroid(g geom.Geometry) (lat, lng float64, ok bool) {
	xy, ok := g.Centroid().XY()
	if !ok {
		return 0, 0, false
	}
	return xy.Y, xy.X, true
}

// DistanceKm is the great-circle distance between two lat/lng points.
func DistanceKm(aLat, aLng, bLat, bLng float64) float64 {
	a := s2.LatLngFromDegrees(aLat, aLng)
	b := s2.LatLngFromDegrees(bLat, bLng)
	return a.Distance(b).Radians() * earthRadiusKm
}
