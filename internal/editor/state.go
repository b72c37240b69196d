package editor

import "github.com/parcelmap/server/internal/geodata"

// Kind names a controller state.
type Kind string

const (
	KindIdle                    Kind = "idle"
	KindCreating                Kind = "creating"
	KindEditing                 Kind = "editing"
	KindAwaitingOverlapDecision Kind = "awaiting_overlap_decision"
)

// State is one of Idle, Creating, Editing or AwaitingOverlapDecision.
type State interface {
	Kind() Kind
	isState()
}

// Idle has no session and no open warning.
type Idle struct{}

// Creating collects the points of a new parcel.
type Creating struct {
	Session *Session
}

// Editing manipulates the ring of an existing parcel, or of an unsaved one
// the user chose to fix by hand after an overlap warning.
type Editing struct {
	Session *Session
}

// AwaitingOverlapDecision holds a commit until the user answers the
// overlap warning.
type AwaitingOverlapDecision struct {
	Pending Pending
}

// Pending is the commit an overlap warning is holding back.
type Pending struct {
	PolygonID   string
	Name        string
	IsNew       bool
	PreEditRing geodata.Ring
}

func (Idle) Kind() Kind                    { return KindIdle }
func (Creating) Kind() Kind                { return KindCreating }
func (Editing) Kind() Kind                 { return KindEditing }
func (AwaitingOverlapDecision) Kind() Kind { return KindAwaitingOverlapDecision }

func (Idle) isState()                    {}
func (Creating) isState()                {}
func (Editing) isState()                 {}
func (AwaitingOverlapDecision) isState() {}
