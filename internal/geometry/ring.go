// Package geometry holds the planar polygon operations behind overlap
// detection and repair. Coordinates are treated as Cartesian with longitude
// on the x axis and latitude on the y axis; there is no geodesic correction.
package geometry

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/parcelmap/server/internal/geodata"
)

// DefaultEpsilon is the distance under which two consecutive vertices are
// considered the same point.
const DefaultEpsilon = 1e-10

// boundaryTolerance is how close a vertex may sit to another ring's edge
// and still be treated as touching rather than contained.
const boundaryTolerance = 1e-9

// sampleOffset is how far, as a fraction of the edge length, an interior
// sample is placed from its edge.
const sampleOffset = 1e-3

// CleanupRing removes consecutive near-duplicate vertices and a closing
// vertex that repeats the first one. The result is always a new slice.
func CleanupRing(ring geodata.Ring, epsilon float64) geodata.Ring {
	out := make(geodata.Ring, 0, len(ring))
	for _, p := range ring {
		if len(out) > 0 && distance(out[len(out)-1], p) < epsilon {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && distance(out[len(out)-1], out[0]) < epsilon {
		out = out[:len(out)-1]
	}
	return out
}

// SignedArea is the shoelace area of the ring. Counter-clockwise rings are
// positive. The magnitude is in squared degrees and only useful for
// comparing rings with each other.
func SignedArea(ring geodata.Ring) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		sum += a.Lng*b.Lat - b.Lng*a.Lat
	}
	return sum / 2
}

// Centroid is the arithmetic mean of the ring's vertices.
func Centroid(ring geodata.Ring) geodata.LatLng {
	var c geodata.LatLng
	if len(ring) == 0 {
		return c
	}
	for _, p := range ring {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	n := float64(len(ring))
	return geodata.LatLng{Lat: c.Lat / n, Lng: c.Lng / n}
}

// Scale moves every vertex toward the centroid so that the ring keeps
// factor of its linear size.
func Scale(ring geodata.Ring, factor float64) geodata.Ring {
	c := Centroid(ring)
	out := make(geodata.Ring, len(ring))
	for i, p := range ring {
		out[i] = geodata.LatLng{
			Lat: c.Lat + (p.Lat-c.Lat)*factor,
			Lng: c.Lng + (p.Lng-c.Lng)*factor,
		}
	}
	return out
}

func distance(a, b geodata.LatLng) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// contour converts an open ring into a closed geom contour in x=lng, y=lat.
func contour(ring geodata.Ring) []geom.Point {
	pts := make([]geom.Point, 0, len(ring)+1)
	for _, p := range ring {
		pts = append(pts, geom.Point{X: p.Lng, Y: p.Lat})
	}
	if len(ring) > 0 && ring[len(ring)-1] != ring[0] {
		pts = append(pts, pts[0])
	}
	return pts
}

func fromContour(pts []geom.Point) geodata.Ring {
	ring := make(geodata.Ring, len(pts))
	for i, p := range pts {
		ring[i] = geodata.LatLng{Lat: p.Y, Lng: p.X}
	}
	return ring
}

// strictlyInside reports whether pt lies in the interior of the closed
// contour, excluding points on or within boundaryTolerance of its edges.
func strictlyInside(pt geom.Point, closed []geom.Point) bool {
	if onBoundary(pt, closed) {
		return false
	}
	return pt.Within(geom.Polygon{closed}) == geom.Inside
}

// interiorSamples returns a point just inside each edge midpoint of the
// closed contour. Samples that do not land strictly inside are dropped.
func interiorSamples(closed []geom.Point) []geom.Point {
	var twiceArea float64
	for i := 1; i < len(closed); i++ {
		twiceArea += closed[i-1].X*closed[i].Y - closed[i].X*closed[i-1].Y
	}
	if twiceArea == 0 {
		return nil
	}
	// The interior is on the left of each edge for counter-clockwise rings.
	side := 1.0
	if twiceArea < 0 {
		side = -1
	}

	var samples []geom.Point
	for i := 1; i < len(closed); i++ {
		a, b := closed[i-1], closed[i]
		dx, dy := b.X-a.X, b.Y-a.Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		offset := math.Max(length*sampleOffset, 4*boundaryTolerance)
		s := geom.Point{
			X: (a.X+b.X)/2 - side*dy/length*offset,
			Y: (a.Y+b.Y)/2 + side*dx/length*offset,
		}
		if strictlyInside(s, closed) {
			samples = append(samples, s)
		}
	}
	return samples
}

func onBoundary(pt geom.Point, closed []geom.Point) bool {
	for i := 1; i < len(closed); i++ {
		if distToSegment(pt, closed[i-1], closed[i]) <= boundaryTolerance {
			return true
		}
	}
	return false
}

func distToSegment(p, a, b geom.Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	wx, wy := p.X-a.X, p.Y-a.Y
	c1 := vx*wx + vy*wy
	if c1 <= 0 {
		return math.Hypot(wx, wy)
	}
	c2 := vx*vx + vy*vy
	if c2 <= c1 {
		return math.Hypot(p.X-b.X, p.Y-b.Y)
	}
	t := c1 / c2
	return math.Hypot(p.X-(a.X+t*vx), p.Y-(a.Y+t*vy))
}
