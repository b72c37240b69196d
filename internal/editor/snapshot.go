package editor

import (
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/overlap"
	"github.com/parcelmap/server/internal/parcels"
)

// SessionSummary describes the open session for clients.
type SessionSummary struct {
	PolygonID  string `json:"polygonId,omitempty"`
	PointCount int    `json:"pointCount"`
	CanFinish  bool   `json:"canFinish"`
	Manual     bool   `json:"manual"`
	// Ring is the working ring being drawn or edited.
	Ring geodata.Ring `json:"ring"`
}

// Snapshot is everything a client needs to render the editor.
type Snapshot struct {
	Revision uint64
	State    Kind
	Session  *SessionSummary
	Warning  *overlap.Warning
	Preview  overlap.Preview
	Overlays []overlap.Overlay
	Parcels  parcels.Collection
}

// Snapshot captures the current state.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		Revision: c.revision,
		State:    c.state.Kind(),
		Warning:  c.workflow.Warning(),
		Preview:  c.workflow.Preview(),
		Overlays: c.workflow.Overlays(),
		Parcels:  c.store.Load(),
	}

	var s *Session
	switch st := c.state.(type) {
	case Creating:
		s = st.Session
	case Editing:
		s = st.Session
	}
	if s != nil {
		snap.Session = &SessionSummary{
			PolygonID:  s.PolygonID(),
			PointCount: s.PointCount(),
			CanFinish:  s.CanFinish(),
			Manual:     s.Manual(),
			Ring:       s.Ring(),
		}
	}
	return snap
}
