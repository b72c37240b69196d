package overlap

import (
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/geometry"
)

// Neighbor is an existing parcel a candidate overlaps.
type Neighbor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Warning describes a commit that overlaps existing parcels. FixedRing is
// nil when no usable fix could be computed, in which case accepting the fix
// is not offered.
type Warning struct {
	PolygonID           string            `json:"polygonId"`
	OverlappingPolygons []Neighbor        `json:"overlappingPolygons"`
	OriginalRing        geodata.Ring      `json:"originalRing"`
	FixedRing           geodata.Ring      `json:"fixedRing"`
	IsNewPolygon        bool              `json:"isNewPolygon"`
	Strategy            geometry.Strategy `json:"strategy"`
}

// CanAccept reports whether a fixed ring is available.
func (w *Warning) CanAccept() bool {
	return w != nil && len(w.FixedRing) >= 3
}

// ManualEditContext keeps the warning that sent a new parcel into manual
// editing, so cancelling the edit brings the same warning back.
type ManualEditContext struct {
	Warning          *Warning
	AreaNameSnapshot string
}

// Candidate is a ring being committed.
type Candidate struct {
	PolygonID string
	Ring      geodata.Ring
	IsNew     bool
}

// PreviewLayer selects one of the two preview overlays.
type PreviewLayer string

const (
	PreviewOriginal PreviewLayer = "original"
	PreviewFixed    PreviewLayer = "fixed"
)

// Preview tracks which overlays are shown while a warning is open. It has no
// effect on what gets persisted.
type Preview struct {
	Original bool `json:"original"`
	Fixed    bool `json:"fixed"`
}

// Overlay is a ring to draw on top of the map for a preview layer.
type Overlay struct {
	Layer PreviewLayer
	Ring  geodata.Ring
}
