package field

import (
	"log"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// validPair reports whether a raw coordinate entry is a usable [lng, lat]
// pair: exactly two components, both finite.
func validPair(pair []float64) bool {
	if len(pair) != 2 {
		return false
	}
	return !math.IsNaN(pair[0]) && !math.IsInf(pair[0], 0) &&
		!math.IsNaN(pair[1]) && !math.IsInf(pair[1], 0)
}

// sanitizeRing converts one raw coordinate ring to an orb.Ring, dropping
// any entry that is not a valid numeric pair. Dropped pairs are logged once
// per ring; they are not an error.
func sanitizeRing(raw [][]float64, fieldName string) orb.Ring {
	ring := make(orb.Ring, 0, len(raw))
	dropped := 0
	for _, pair := range raw {
		if !validPair(pair) {
			dropped++
			continue
		}
		ring = append(ring, orb.Point{pair[0], pair[1]})
	}
	if dropped > 0 {
		log.Printf("[GEOM] %s: dropped %d invalid coordinate pair(s)", fieldName, dropped)
	}
	return ring
}

// BuildPolygon converts a GeoJSON-shaped Geometry to a validated orb.Polygon.
// Invalid coordinate pairs are filtered silently; rings left empty after
// filtering are dropped. Returns nil when nothing survives.
func BuildPolygon(geom Geometry, fieldName string) orb.Polygon {
	if len(geom.Coordinates) == 0 {
		return nil
	}
	poly := make(orb.Polygon, 0, len(geom.Coordinates))
	for _, raw := range geom.Coordinates {
		ring := sanitizeRing(raw, fieldName)
		if len(ring) == 0 {
			continue
		}
		// GeoJSON rings must close on themselves.
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		poly = append(poly, ring)
	}
	if len(poly) == 0 {
		return nil
	}
	return poly
}

// OuterBoundary returns the polygon's outer ring as map-display coordinates.
func OuterBoundary(poly orb.Polygon) []LatLng {
	if len(poly) == 0 {
		return nil
	}
	outer := poly[0]
	coords := make([]LatLng, 0, len(outer))
	for _, p := range outer {
		coords = append(coords, LatLng{Lat: p.Lat(), Lng: p.Lon()})
	}
	return coords
}

// Center computes the polygon's geometric center via the planar centroid.
// Returns false when the polygon is empty or the centroid is not finite
// (degenerate geometry collapses to a zero-area centroid of NaN).
func Center(poly orb.Polygon) (LatLng, bool) {
	if len(poly) == 0 {
		return LatLng{}, false
	}
	centroid, area := planar.CentroidArea(poly)
	if area == 0 {
		// Zero-area polygons (collinear rings) still have a usable
		// vertex centroid; fall back to the ring bound center.
		centroid = poly.Bound().Center()
	}
	if math.IsNaN(centroid[0]) || math.IsInf(centroid[0], 0) ||
		math.IsNaN(centroid[1]) || math.IsInf(centroid[1], 0) {
		return LatLng{}, false
	}
	return LatLng{Lat: centroid.Lat(), Lng: centroid.Lon()}, true
}

// Bound returns the polygon's bounding box, or false when empty.
func Bound(poly orb.Polygon) (orb.Bound, bool) {
	if len(poly) == 0 {
		return orb.Bound{}, false
	}
	return poly.Bound(), true
}

// SimplifyForRender reduces polygon detail for map rendering. The tolerance
// is in coordinate degrees; 0 returns the polygon unchanged.
func SimplifyForRender(poly orb.Polygon, tolerance float64) orb.Polygon {
	if tolerance <= 0 || len(poly) == 0 {
		return poly
	}
	simplified := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		ls := orb.LineString(ring)
		s := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
		result, ok := s.(orb.LineString)
		if !ok || len(result) < 3 {
			simplified[i] = ring
			continue
		}
		simplified[i] = orb.Ring(result)
	}
	return simplified
}
