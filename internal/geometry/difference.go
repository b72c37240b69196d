package geometry

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/parcelmap/server/internal/geodata"
)

// Subtract returns the parts of subject not covered by clip. The result
// may hold zero, one or several rings; every ring is cleaned and has at
// least three vertices. Holes produced by the difference are dropped and
// only outer boundaries are returned.
//
// A clip with fewer than three vertices leaves subject untouched. A subject
// with fewer than three vertices, or one the clipper cannot process,
// yields no rings.
func Subtract(subject, clip geodata.Ring) []geodata.Ring {
	rings, err := subtract(subject, clip)
	if err != nil {
		return nil
	}
	return rings
}

func subtract(subject, clip geodata.Ring) (rings []geodata.Ring, err error) {
	if len(clip) < 3 {
		return []geodata.Ring{subject.Clone()}, nil
	}
	if len(subject) < 3 {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			rings = nil
			err = fmt.Errorf("polygon clipping failed: %v", r)
		}
	}()

	result := geom.Polygon{contour(subject)}.Difference(geom.Polygon{contour(clip)})

	for i, c := range result {
		if nestingDepth(i, result)%2 == 1 {
			continue
		}
		ring := CleanupRing(fromContour(c), DefaultEpsilon)
		if len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	return rings, nil
}

// nestingDepth counts how many other contours of p enclose contour i.
// Outer boundaries have an even depth and holes an odd one.
func nestingDepth(i int, p geom.Polygon) int {
	depth := 0
	for j, other := range p {
		if j == i || len(other) < 4 {
			continue
		}
		if contourInside(p[i], other) {
			depth++
		}
	}
	return depth
}

// contourInside decides containment from the first vertex of inner that is
// not on the boundary of outer. Contours produced by the clipper never
// cross, so one such vertex is enough.
func contourInside(inner, outer []geom.Point) bool {
	poly := geom.Polygon{outer}
	for _, v := range inner {
		if onBoundary(v, outer) {
			continue
		}
		return v.Within(poly) == geom.Inside
	}
	return false
}
