package overlap

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/geometry"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/metrics"
	"github.com/parcelmap/server/internal/parcels"
	"github.com/parcelmap/server/internal/performance"
)

const (
	StateClean            = "clean"
	StateDetecting        = "detecting"
	StateAwaitingDecision = "awaiting_decision"
	StateIgnored          = "ignored"
	StateAccepted         = "accepted"
	StateManualEdit       = "manual_edit"
	StateEditOriginal     = "edit_original"
)

const (
	EventCommit       = "commit"
	EventClear        = "clear"
	EventOverlap      = "overlap"
	EventIgnore       = "ignore"
	EventAccept       = "accept"
	EventManualEdit   = "manual_edit"
	EventEditOriginal = "edit_original"
	EventCancel       = "cancel"
	EventSettle       = "settle"
	EventResume       = "resume"
	EventAbandon      = "abandon"
)

var (
	// ErrNoWarning is returned for a decision while no warning is open.
	ErrNoWarning = errors.New("no overlap warning is awaiting a decision")
	// ErrFixUnavailable is returned when accepting a warning without a fix.
	ErrFixUnavailable = errors.New("no fixed geometry is available")
	// ErrNotApplicable is returned for a decision that does not fit the
	// warning, such as manual editing an existing parcel.
	ErrNotApplicable = errors.New("decision does not apply to this warning")
	// ErrNoManualEdit is returned when resuming without a manual edit.
	ErrNoManualEdit = errors.New("no manual edit in progress")
)

var decisionEvents = map[string]bool{
	EventIgnore:       true,
	EventAccept:       true,
	EventManualEdit:   true,
	EventEditOriginal: true,
	EventCancel:       true,
}

// Workflow runs overlap detection on commits and tracks the user's answer
// to the resulting warning. It decides nothing about persistence; callers
// act on the warning each decision returns.
type Workflow struct {
	machine  *fsm.FSM
	warning  *Warning
	manual   *ManualEditContext
	preview  Preview
	profiler *performance.Profiler
	log      *zap.SugaredLogger
}

// New creates a workflow in the clean state. profiler may be nil.
func New(log *zap.SugaredLogger, profiler *performance.Profiler) *Workflow {
	w := &Workflow{
		profiler: profiler,
		log:      logger.OrNop(log),
	}

	decided := []string{StateIgnored, StateAccepted, StateEditOriginal}
	w.machine = fsm.NewFSM(
		StateClean,
		fsm.Events{
			{Name: EventCommit, Src: []string{StateClean, StateManualEdit}, Dst: StateDetecting},
			{Name: EventClear, Src: []string{StateDetecting}, Dst: StateClean},
			{Name: EventOverlap, Src: []string{StateDetecting}, Dst: StateAwaitingDecision},
			{Name: EventIgnore, Src: []string{StateAwaitingDecision}, Dst: StateIgnored},
			{Name: EventAccept, Src: []string{StateAwaitingDecision}, Dst: StateAccepted},
			{Name: EventManualEdit, Src: []string{StateAwaitingDecision}, Dst: StateManualEdit},
			{Name: EventEditOriginal, Src: []string{StateAwaitingDecision}, Dst: StateEditOriginal},
			{Name: EventCancel, Src: []string{StateAwaitingDecision}, Dst: StateClean},
			{Name: EventSettle, Src: decided, Dst: StateClean},
			{Name: EventResume, Src: []string{StateManualEdit}, Dst: StateAwaitingDecision},
			{Name: EventAbandon, Src: []string{StateManualEdit, StateAwaitingDecision, StateDetecting}, Dst: StateClean},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				w.log.Debugw("overlap workflow transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
			"after_event": func(_ context.Context, e *fsm.Event) {
				if decisionEvents[e.Event] {
					metrics.OverlapDecisionsTotal.WithLabelValues(e.Event).Inc()
				}
			},
		},
	)
	return w
}

// State returns the current workflow state.
func (w *Workflow) State() string {
	return w.machine.Current()
}

// Warning returns the warning awaiting a decision, or nil.
func (w *Workflow) Warning() *Warning {
	if w.machine.Current() != StateAwaitingDecision {
		return nil
	}
	return w.warning
}

// ManualContext returns the saved context while a manual edit is running.
func (w *Workflow) ManualContext() *ManualEditContext {
	return w.manual
}

// Evaluate checks the candidate against every visible parcel in collection
// other than itself. It returns nil when nothing overlaps; otherwise it
// computes a fix and returns the warning now awaiting a decision.
func (w *Workflow) Evaluate(ctx context.Context, c Candidate, collection parcels.Collection) (*Warning, error) {
	op := w.profiler.Start("overlap.evaluate")
	defer op.End()

	if err := w.machine.Event(ctx, EventCommit); err != nil {
		return nil, fmt.Errorf("cannot commit in state %s: %w", w.machine.Current(), err)
	}
	w.manual = nil
	w.warning = nil

	var neighbors []Neighbor
	var obstacles []geodata.Ring
	for _, p := range collection.Obstacles(c.PolygonID) {
		if geometry.Overlaps(c.Ring, p.Ring) {
			neighbors = append(neighbors, Neighbor{ID: p.ID, Name: p.Name})
			obstacles = append(obstacles, p.Ring)
		}
	}

	if len(neighbors) == 0 {
		metrics.OverlapChecksTotal.WithLabelValues("clean").Inc()
		if err := w.machine.Event(ctx, EventClear); err != nil {
			return nil, err
		}
		return nil, nil
	}

	res := geometry.Resolve(c.Ring, obstacles)
	metrics.OverlapChecksTotal.WithLabelValues("overlap").Inc()
	metrics.ResolveStrategyTotal.WithLabelValues(string(res.Strategy)).Inc()

	w.warning = &Warning{
		PolygonID:           c.PolygonID,
		OverlappingPolygons: neighbors,
		OriginalRing:        c.Ring.Clone(),
		FixedRing:           res.Ring,
		IsNewPolygon:        c.IsNew,
		Strategy:            res.Strategy,
	}
	w.preview = Preview{}
	if err := w.machine.Event(ctx, EventOverlap); err != nil {
		return nil, err
	}

	w.log.Infow("overlap detected",
		"parcel_id", c.PolygonID,
		"neighbors", len(neighbors),
		"strategy", res.Strategy,
		"new", c.IsNew)
	return w.warning, nil
}

// Ignore closes the warning; the original ring is to be kept as drawn.
func (w *Workflow) Ignore(ctx context.Context) (*Warning, error) {
	return w.decideAndSettle(ctx, EventIgnore)
}

// Accept closes the warning; the fixed ring replaces the original.
func (w *Workflow) Accept(ctx context.Context) (*Warning, error) {
	if w.Warning() != nil && !w.warning.CanAccept() {
		return nil, ErrFixUnavailable
	}
	return w.decideAndSettle(ctx, EventAccept)
}

// EditOriginal closes the warning on an existing parcel so that it can be
// edited again from its pre-edit ring.
func (w *Workflow) EditOriginal(ctx context.Context) (*Warning, error) {
	if warning := w.Warning(); warning != nil && warning.IsNewPolygon {
		return nil, ErrNotApplicable
	}
	return w.decideAndSettle(ctx, EventEditOriginal)
}

// Cancel drops the warning without keeping anything.
func (w *Workflow) Cancel(ctx context.Context) (*Warning, error) {
	warning, err := w.decide(ctx, EventCancel)
	if err != nil {
		return nil, err
	}
	w.reset()
	return warning, nil
}

// ManualEdit moves a new parcel's warning into manual editing. The warning
// is kept aside with areaName so Resume can restore it unchanged.
func (w *Workflow) ManualEdit(ctx context.Context, areaName string) (*Warning, error) {
	if warning := w.Warning(); warning != nil && !warning.IsNewPolygon {
		return nil, ErrNotApplicable
	}
	warning, err := w.decide(ctx, EventManualEdit)
	if err != nil {
		return nil, err
	}
	w.manual = &ManualEditContext{Warning: warning, AreaNameSnapshot: areaName}
	w.warning = nil
	w.preview = Preview{}
	return warning, nil
}

// Resume ends a manual edit without committing it and reopens the saved
// warning. The returned context is the one ManualEdit stored.
func (w *Workflow) Resume(ctx context.Context) (*ManualEditContext, error) {
	if w.machine.Current() != StateManualEdit || w.manual == nil {
		return nil, ErrNoManualEdit
	}
	if err := w.machine.Event(ctx, EventResume); err != nil {
		return nil, err
	}
	saved := w.manual
	w.warning = saved.Warning
	w.manual = nil
	return saved, nil
}

// Abandon returns to clean from any open state, discarding the warning and
// any manual edit context.
func (w *Workflow) Abandon(ctx context.Context) {
	if w.machine.Can(EventAbandon) {
		if err := w.machine.Event(ctx, EventAbandon); err != nil {
			w.log.Debugw("overlap workflow abandon failed", "error", err)
		}
	}
	w.reset()
}

// TogglePreview flips one overlay and returns the new preview state.
func (w *Workflow) TogglePreview(layer PreviewLayer) (Preview, error) {
	warning := w.Warning()
	if warning == nil {
		return w.preview, ErrNoWarning
	}
	switch layer {
	case PreviewOriginal:
		w.preview.Original = !w.preview.Original
	case PreviewFixed:
		if !warning.CanAccept() {
			return w.preview, ErrFixUnavailable
		}
		w.preview.Fixed = !w.preview.Fixed
	default:
		return w.preview, fmt.Errorf("unknown preview layer %q", layer)
	}
	return w.preview, nil
}

// Preview returns the overlay switches.
func (w *Workflow) Preview() Preview {
	return w.preview
}

// Overlays returns the rings of the preview layers that are switched on.
func (w *Workflow) Overlays() []Overlay {
	warning := w.Warning()
	if warning == nil {
		return nil
	}
	var out []Overlay
	if w.preview.Original {
		out = append(out, Overlay{Layer: PreviewOriginal, Ring: warning.OriginalRing})
	}
	if w.preview.Fixed && warning.CanAccept() {
		out = append(out, Overlay{Layer: PreviewFixed, Ring: warning.FixedRing})
	}
	return out
}

func (w *Workflow) decide(ctx context.Context, event string) (*Warning, error) {
	warning := w.Warning()
	if warning == nil {
		return nil, ErrNoWarning
	}
	if err := w.machine.Event(ctx, event); err != nil {
		return nil, fmt.Errorf("overlap decision %s failed: %w", event, err)
	}
	return warning, nil
}

func (w *Workflow) decideAndSettle(ctx context.Context, event string) (*Warning, error) {
	warning, err := w.decide(ctx, event)
	if err != nil {
		return nil, err
	}
	if err := w.machine.Event(ctx, EventSettle); err != nil {
		return nil, err
	}
	w.reset()
	return warning, nil
}

func (w *Workflow) reset() {
	w.warning = nil
	w.manual = nil
	w.preview = Preview{}
}
