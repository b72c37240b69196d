package geometry

import (
	"github.com/ctessum/geom"

	"github.com/parcelmap/server/internal/geodata"
)

// Overlaps reports whether either ring has a vertex strictly inside the
// other. Rings that only touch along edges or at vertices do not overlap.
// When every vertex of one ring lies on the other's boundary, as with a
// duplicate or a piece drawn on the other's corners, points just inside
// that ring's edges are tested instead.
//
// This is a vertex-containment heuristic. Two rings that cross without
// either one having a vertex inside the other, such as a thin sliver laid
// across an edge, are reported as not overlapping.
func Overlaps(a, b geodata.Ring) bool {
	if len(a) < 3 || len(b) < 3 {
		return false
	}
	ca, cb := contour(a), contour(b)

	boundsA := geom.Polygon{ca}.Bounds()
	boundsB := geom.Polygon{cb}.Bounds()
	if !boundsA.Overlaps(boundsB) {
		return false
	}

	if anyVertexInside(ca, cb) || anyVertexInside(cb, ca) {
		return true
	}
	return sharesInteriorAlongBoundary(ca, cb) || sharesInteriorAlongBoundary(cb, ca)
}

// OverlappingIndexes returns the positions in rings that overlap candidate.
func OverlappingIndexes(candidate geodata.Ring, rings []geodata.Ring) []int {
	var hits []int
	for i, r := range rings {
		if Overlaps(candidate, r) {
			hits = append(hits, i)
		}
	}
	return hits
}

func anyVertexInside(vertices, closed []geom.Point) bool {
	// The last vertex of a closed contour repeats the first.
	for _, v := range vertices[:len(vertices)-1] {
		if strictlyInside(v, closed) {
			return true
		}
	}
	return false
}

// sharesInteriorAlongBoundary reports whether inner, whose vertices all sit
// on the boundary of outer, has interior samples strictly inside outer.
func sharesInteriorAlongBoundary(inner, outer []geom.Point) bool {
	for _, v := range inner[:len(inner)-1] {
		if !onBoundary(v, outer) {
			return false
		}
	}
	for _, s := range interiorSamples(inner) {
		if strictlyInside(s, outer) {
			return true
		}
	}
	return false
}
