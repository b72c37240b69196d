package geodata

import (
	"encoding/json"
	"fmt"
	"math"
)

// LatLng is a single map coordinate. Latitude is the planar y axis and
// longitude the planar x axis.
type LatLng struct {
	Lat float64
	Lng float64
}

// Ring is an open, ordered polygon boundary. The closing vertex is never
// stored; writers add it when serializing.
type Ring []LatLng

// Pt is shorthand for building coordinates in fixtures and tests.
func Pt(lat, lng float64) LatLng {
	return LatLng{Lat: lat, Lng: lng}
}

// MarshalJSON encodes the point as a [lat, lng] pair, the shape the map
// client draws with.
func (p LatLng) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lng})
}

// UnmarshalJSON decodes a [lat, lng] pair.
func (p *LatLng) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed to decode coordinate: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinate must have 2 values, got %d", len(pair))
	}
	if !isFinite(pair[0]) || !isFinite(pair[1]) {
		return fmt.Errorf("coordinate must be finite")
	}
	p.Lat, p.Lng = pair[0], pair[1]
	return nil
}

// Clone returns a copy that shares no backing storage with r.
func (r Ring) Clone() Ring {
	if r == nil {
		return nil
	}
	out := make(Ring, len(r))
	copy(out, r)
	return out
}

// Equal reports exact coordinate equality.
func (r Ring) Equal(other Ring) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// IsPolygon reports whether the ring has enough vertices to enclose area.
func (r Ring) IsPolygon() bool {
	return len(r) >= 3
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
