package editor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/gateway"
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/geometry"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/overlap"
	"github.com/parcelmap/server/internal/parcels"
	"github.com/parcelmap/server/internal/performance"
)

// Options tune a Controller.
type Options struct {
	DefaultColor string
	Epsilon      float64
	SyncInterval time.Duration
	Now          func() time.Time
}

// OptionsFromConfig reads the editor section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultColor: cfg.Editor.DefaultColor,
		Epsilon:      cfg.Editor.Epsilon,
		SyncInterval: cfg.Editor.SyncInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultColor == "" {
		o.DefaultColor = "#3388ff"
	}
	if o.Epsilon <= 0 {
		o.Epsilon = geometry.DefaultEpsilon
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = 16 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Controller owns the parcel collection of one editing client and at most
// one draw or edit session. It is driven from a single goroutine; only the
// collection Store may be read concurrently. Operations whose precondition
// does not hold return false and change nothing.
type Controller struct {
	store    *parcels.Store
	state    State
	workflow *overlap.Workflow
	persist  Persistence
	opts     Options
	deferred map[string]gateway.UpdateRequest
	creating map[string]struct{} // temporary ids with a create in flight
	deleting map[string]struct{}
	revision uint64

	mu       sync.Mutex
	queued   []Outcome
	ready    chan struct{}
	inflight sync.WaitGroup

	log      *zap.SugaredLogger
	profiler *performance.Profiler
}

// NewController creates an idle controller with an empty collection.
func NewController(persist Persistence, opts Options, log *zap.SugaredLogger, profiler *performance.Profiler) *Controller {
	log = logger.OrNop(log)
	return &Controller{
		store:    parcels.NewStore(),
		state:    Idle{},
		workflow: overlap.New(log.Named(logger.ComponentOverlap), profiler),
		persist:  persist,
		opts:     opts.withDefaults(),
		deferred: make(map[string]gateway.UpdateRequest),
		creating: make(map[string]struct{}),
		deleting: make(map[string]struct{}),
		ready:    make(chan struct{}, 1),
		log:      log,
		profiler: profiler,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Collection returns the current parcels.
func (c *Controller) Collection() parcels.Collection {
	return c.store.Load()
}

// Store exposes the collection for concurrent readers.
func (c *Controller) Store() *parcels.Store {
	return c.store
}

// Workflow returns the overlap workflow driven by this controller.
func (c *Controller) Workflow() *overlap.Workflow {
	return c.workflow
}

// Revision increases on every visible change.
func (c *Controller) Revision() uint64 {
	return c.revision
}

// Load requests the parcel list. The collection is replaced when the answer
// is applied while idle; unsaved local records are kept.
func (c *Controller) Load(ctx context.Context) {
	c.dispatch(ctx, OpList, "", func(ctx context.Context) Outcome {
		records, err := c.persist.List(ctx)
		return Outcome{Records: records, Err: err}
	})
}

// StartCreate opens a draw session.
func (c *Controller) StartCreate() bool {
	if _, ok := c.state.(Idle); !ok {
		return c.noop("start_create")
	}
	c.setState(Creating{Session: c.openSession("", nil)})
	return true
}

// AddPoint appends a vertex to the draft.
func (c *Controller) AddPoint(p geodata.LatLng) bool {
	cr, ok := c.state.(Creating)
	if !ok {
		return c.noop("add_point")
	}
	ring := append(cr.Session.Ring(), p)
	cr.Session.set(ring)
	return true
}

// UndoPoint removes the last vertex of the draft.
func (c *Controller) UndoPoint() bool {
	cr, ok := c.state.(Creating)
	if !ok || cr.Session.PointCount() == 0 {
		return c.noop("undo_point")
	}
	ring := cr.Session.Ring()
	cr.Session.set(ring[:len(ring)-1])
	return true
}

// SetDraftRing replaces the whole draft.
func (c *Controller) SetDraftRing(ring geodata.Ring) bool {
	cr, ok := c.state.(Creating)
	if !ok {
		return c.noop("set_draft_ring")
	}
	cr.Session.set(ring.Clone())
	return true
}

// FinishCreate commits the draft as a new parcel named name. It requires at
// least three points after cleanup. Without an overlap the parcel is added
// and saved; otherwise the controller waits for an overlap decision.
func (c *Controller) FinishCreate(ctx context.Context, name string) bool {
	cr, ok := c.state.(Creating)
	if !ok {
		return c.noop("finish_create")
	}
	ring := c.cleanup(cr.Session.Ring())
	if len(ring) < 3 {
		return c.noop("finish_create")
	}

	op := c.profiler.Start("editor.finish_create")
	defer op.End()

	cr.Session.Teardown()
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Parcel %d", c.store.Load().Len()+1)
	}
	id := parcels.NewTempID(c.opts.Now(), c.store.Load(), c.creating)
	c.commit(ctx, Pending{PolygonID: id, Name: name, IsNew: true}, ring)
	return true
}

// CancelCreate drops the draft.
func (c *Controller) CancelCreate() bool {
	cr, ok := c.state.(Creating)
	if !ok {
		return c.noop("cancel_create")
	}
	cr.Session.Teardown()
	c.setState(Idle{})
	return true
}

// StartEdit opens an edit session on parcel id. It does nothing while any
// other session or warning is open, while a delete of the parcel is in
// flight, or when the parcel has no usable ring.
func (c *Controller) StartEdit(id string) bool {
	if _, ok := c.state.(Idle); !ok {
		return c.noop("start_edit")
	}
	if _, pending := c.deleting[id]; pending {
		return c.noop("start_edit")
	}
	p, ok := c.store.Load().Get(id)
	if !ok || !p.Editable() {
		return c.noop("start_edit")
	}
	c.setState(Editing{Session: c.openSession(id, p.Ring)})
	return true
}

// UpdateEditRing replaces the working ring. The collection follows at most
// once per sync interval.
func (c *Controller) UpdateEditRing(ring geodata.Ring) bool {
	ed, ok := c.state.(Editing)
	if !ok {
		return c.noop("update_edit_ring")
	}
	ed.Session.set(ring.Clone())
	return true
}

// MoveVertex moves one vertex of the working ring.
func (c *Controller) MoveVertex(index int, p geodata.LatLng) bool {
	ed, ok := c.state.(Editing)
	if !ok || index < 0 || index >= ed.Session.PointCount() {
		return c.noop("move_vertex")
	}
	ring := ed.Session.Ring()
	ring[index] = p
	ed.Session.set(ring)
	return true
}

// Tick delivers a live sync that the throttle held back.
func (c *Controller) Tick() bool {
	switch s := c.state.(type) {
	case Editing:
		return s.Session.Flush()
	case Creating:
		return s.Session.Flush()
	}
	return false
}

// FinishEdit commits the working ring. Without an overlap the parcel's
// version is bumped and the geometry saved.
func (c *Controller) FinishEdit(ctx context.Context) bool {
	ed, ok := c.state.(Editing)
	if !ok {
		return c.noop("finish_edit")
	}
	s := ed.Session
	ring := c.cleanup(s.Ring())
	if len(ring) < 3 {
		return c.noop("finish_edit")
	}

	op := c.profiler.Start("editor.finish_edit")
	defer op.End()

	s.Flush()
	s.Teardown()

	pending := Pending{PolygonID: s.polygonID, IsNew: s.isNew, PreEditRing: s.Snapshot()}
	if p, ok := c.store.Load().Get(s.polygonID); ok {
		pending.Name = p.Name
	}
	c.commit(ctx, pending, ring)
	return true
}

// CancelEdit discards the session. A manual edit started from an overlap
// warning removes its unsaved record and reopens that same warning; any
// other edit restores the ring the session started from.
func (c *Controller) CancelEdit(ctx context.Context) bool {
	ed, ok := c.state.(Editing)
	if !ok {
		return c.noop("cancel_edit")
	}
	s := ed.Session
	s.Teardown()

	if s.manual {
		c.setCollection(c.store.Load().Remove(s.polygonID))
		saved, err := c.workflow.Resume(ctx)
		if err != nil {
			c.log.Warnw("manual edit had no saved warning", "parcel_id", s.polygonID, "error", err)
			c.setState(Idle{})
			return true
		}
		c.setState(AwaitingOverlapDecision{Pending: Pending{
			PolygonID: saved.Warning.PolygonID,
			Name:      saved.AreaNameSnapshot,
			IsNew:     true,
		}})
		return true
	}

	c.restoreRing(s.polygonID, s.Snapshot())
	c.setState(Idle{})
	return true
}

// IgnoreOverlap saves the ring as drawn.
func (c *Controller) IgnoreOverlap(ctx context.Context) bool {
	aw, ok := c.awaiting("ignore_overlap")
	if !ok {
		return false
	}
	w, err := c.workflow.Ignore(ctx)
	if err != nil {
		return c.noopErr("ignore_overlap", err)
	}
	c.persistRing(ctx, aw.Pending, w.OriginalRing)
	c.setState(Idle{})
	return true
}

// AcceptOverlapFix saves the computed non-overlapping ring.
func (c *Controller) AcceptOverlapFix(ctx context.Context) bool {
	aw, ok := c.awaiting("accept_overlap_fix")
	if !ok {
		return false
	}
	w, err := c.workflow.Accept(ctx)
	if err != nil {
		return c.noopErr("accept_overlap_fix", err)
	}
	c.persistRing(ctx, aw.Pending, w.FixedRing)
	c.setState(Idle{})
	return true
}

// ManualEditOverlap turns a new parcel's candidate into an unsaved record
// and opens an edit session on it.
func (c *Controller) ManualEditOverlap(ctx context.Context) bool {
	aw, ok := c.awaiting("manual_edit_overlap")
	if !ok {
		return false
	}
	if !aw.Pending.IsNew {
		return c.noop("manual_edit_overlap")
	}
	w, err := c.workflow.ManualEdit(ctx, aw.Pending.Name)
	if err != nil {
		return c.noopErr("manual_edit_overlap", err)
	}

	col := c.store.Load()
	if next, ok := col.SetRing(aw.Pending.PolygonID, w.OriginalRing, false); ok {
		c.setCollection(next)
	} else {
		c.setCollection(col.Add(parcels.Parcel{
			ID:      aw.Pending.PolygonID,
			Name:    aw.Pending.Name,
			Ring:    w.OriginalRing.Clone(),
			Visible: true,
			Color:   c.opts.DefaultColor,
		}))
	}

	s := c.openSession(aw.Pending.PolygonID, w.OriginalRing)
	s.isNew = true
	s.manual = true
	c.setState(Editing{Session: s})
	return true
}

// EditOriginalOverlap puts an existing parcel back to its pre-edit ring and
// opens a new edit session on it.
func (c *Controller) EditOriginalOverlap(ctx context.Context) bool {
	aw, ok := c.awaiting("edit_original_overlap")
	if !ok {
		return false
	}
	if aw.Pending.IsNew {
		return c.noop("edit_original_overlap")
	}
	if _, err := c.workflow.EditOriginal(ctx); err != nil {
		return c.noopErr("edit_original_overlap", err)
	}

	if !c.restoreRing(aw.Pending.PolygonID, aw.Pending.PreEditRing) {
		c.setState(Idle{})
		return true
	}
	c.setState(Editing{Session: c.openSession(aw.Pending.PolygonID, aw.Pending.PreEditRing)})
	return true
}

// CancelOverlap drops the pending commit. A new parcel is discarded and an
// existing one gets its pre-edit ring back.
func (c *Controller) CancelOverlap(ctx context.Context) bool {
	aw, ok := c.awaiting("cancel_overlap")
	if !ok {
		return false
	}
	if _, err := c.workflow.Cancel(ctx); err != nil {
		return c.noopErr("cancel_overlap", err)
	}
	if aw.Pending.IsNew {
		c.setCollection(c.store.Load().Remove(aw.Pending.PolygonID))
	} else {
		c.restoreRing(aw.Pending.PolygonID, aw.Pending.PreEditRing)
	}
	c.setState(Idle{})
	return true
}

// TogglePreview shows or hides one overlay of the open warning.
func (c *Controller) TogglePreview(layer overlap.PreviewLayer) bool {
	if _, err := c.workflow.TogglePreview(layer); err != nil {
		return c.noopErr("toggle_preview", err)
	}
	c.touch()
	return true
}

// Delete removes a parcel. A session or warning on it is torn down first.
// Unsaved parcels go away at once; saved ones only once the backend
// confirmed the delete.
func (c *Controller) Delete(ctx context.Context, id string) bool {
	p, ok := c.store.Load().Get(id)
	if !ok {
		return c.noop("delete")
	}
	if _, pending := c.deleting[id]; pending {
		return c.noop("delete")
	}
	c.releaseFor(ctx, id)

	if p.IsTemp() {
		delete(c.deferred, id)
		c.setCollection(c.store.Load().Remove(id))
		return true
	}
	c.sendDelete(ctx, id)
	return true
}

// Rename changes a parcel's name locally and on the backend.
func (c *Controller) Rename(ctx context.Context, id, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.noop("rename")
	}
	next, ok := c.store.Load().Update(id, func(p parcels.Parcel) parcels.Parcel {
		p.Name = name
		return p
	})
	if !ok {
		return c.noop("rename")
	}
	c.setCollection(next)
	c.sendUpdate(ctx, id, gateway.UpdateRequest{Name: &name})
	return true
}

// Recolor changes a parcel's color locally and on the backend.
func (c *Controller) Recolor(ctx context.Context, id, color string) bool {
	if color == "" {
		return c.noop("recolor")
	}
	next, ok := c.store.Load().Update(id, func(p parcels.Parcel) parcels.Parcel {
		p.Color = color
		return p
	})
	if !ok {
		return c.noop("recolor")
	}
	c.setCollection(next)
	c.sendUpdate(ctx, id, gateway.UpdateRequest{Color: &color})
	return true
}

// SetVisibility shows or hides a parcel. Hidden parcels are left out of
// overlap checks. Visibility is never saved.
func (c *Controller) SetVisibility(id string, visible bool) bool {
	next, ok := c.store.Load().Update(id, func(p parcels.Parcel) parcels.Parcel {
		p.Visible = visible
		return p
	})
	if !ok {
		return c.noop("set_visibility")
	}
	c.setCollection(next)
	return true
}

// Approve marks an imported parcel as validated once the backend agrees.
func (c *Controller) Approve(ctx context.Context, id string) bool {
	p, ok := c.store.Load().Get(id)
	if !ok || p.IsTemp() || p.ValidationStatus == parcels.ValidationValidated {
		return c.noop("approve")
	}
	c.sendApprove(ctx, id)
	return true
}

// Close tears down any session and open warning.
func (c *Controller) Close(ctx context.Context) {
	switch s := c.state.(type) {
	case Creating:
		s.Session.Teardown()
	case Editing:
		s.Session.Teardown()
	}
	c.workflow.Abandon(ctx)
	c.state = Idle{}
}

func (c *Controller) commit(ctx context.Context, pending Pending, ring geodata.Ring) {
	warning, err := c.workflow.Evaluate(ctx, overlap.Candidate{
		PolygonID: pending.PolygonID,
		Ring:      ring,
		IsNew:     pending.IsNew,
	}, c.store.Load())
	if err != nil {
		c.log.Errorw("overlap check failed, saving as drawn", "parcel_id", pending.PolygonID, "error", err)
		c.workflow.Abandon(ctx)
		warning = nil
	}
	if warning != nil {
		c.setState(AwaitingOverlapDecision{Pending: pending})
		return
	}
	c.persistRing(ctx, pending, ring)
	c.setState(Idle{})
}

// persistRing applies ring to the collection and sends it to the backend.
func (c *Controller) persistRing(ctx context.Context, pending Pending, ring geodata.Ring) {
	col := c.store.Load()
	id := pending.PolygonID

	if pending.IsNew {
		if next, ok := col.SetRing(id, ring, true); ok {
			col = next
		} else {
			col = col.Add(parcels.Parcel{
				ID:      id,
				Name:    pending.Name,
				Ring:    ring.Clone(),
				Visible: true,
				Color:   c.opts.DefaultColor,
			})
		}
		c.setCollection(col)
		p, _ := col.Get(id)
		c.sendCreate(ctx, p)
		return
	}

	next, ok := col.SetRing(id, ring, true)
	if !ok {
		c.log.Debugw("committed parcel no longer present", "parcel_id", id)
		return
	}
	c.setCollection(next)
	wkt := geodata.RingToWKT(ring)
	c.sendUpdate(ctx, id, gateway.UpdateRequest{Geodata: &wkt})
}

// releaseFor ends a session or warning that refers to id.
func (c *Controller) releaseFor(ctx context.Context, id string) {
	switch s := c.state.(type) {
	case Editing:
		if s.Session.polygonID != id {
			return
		}
		s.Session.Teardown()
		if s.Session.manual {
			c.workflow.Abandon(ctx)
		} else {
			c.restoreRing(id, s.Session.Snapshot())
		}
		c.setState(Idle{})
	case AwaitingOverlapDecision:
		if s.Pending.PolygonID != id {
			return
		}
		c.workflow.Abandon(ctx)
		if !s.Pending.IsNew {
			c.restoreRing(id, s.Pending.PreEditRing)
		}
		c.setState(Idle{})
	}
}

func (c *Controller) openSession(polygonID string, ring geodata.Ring) *Session {
	s := newSession(polygonID, ring, c.opts.SyncInterval)
	s.Listen(EventChange, func(geodata.Ring) { c.touch() })
	if polygonID != "" {
		s.Listen(EventSync, func(r geodata.Ring) {
			op := c.profiler.Start("editor.sync")
			defer op.End()
			if next, ok := c.store.Load().SetRing(s.polygonID, r, false); ok {
				c.setCollection(next)
			}
		})
	}
	return s
}

func (c *Controller) restoreRing(id string, ring geodata.Ring) bool {
	next, ok := c.store.Load().SetRing(id, ring, false)
	if ok {
		c.setCollection(next)
	}
	return ok
}

func (c *Controller) awaiting(op string) (AwaitingOverlapDecision, bool) {
	aw, ok := c.state.(AwaitingOverlapDecision)
	if !ok {
		c.noop(op)
	}
	return aw, ok
}

func (c *Controller) cleanup(ring geodata.Ring) geodata.Ring {
	return geometry.CleanupRing(ring, c.opts.Epsilon)
}

func (c *Controller) setCollection(next parcels.Collection) {
	c.store.Swap(next)
	c.touch()
}

func (c *Controller) setState(s State) {
	c.state = s
	c.touch()
}

func (c *Controller) touch() {
	c.revision++
}

func (c *Controller) noop(op string) bool {
	c.log.Debugw("operation ignored", "op", op, "state", c.state.Kind())
	return false
}

func (c *Controller) noopErr(op string, err error) bool {
	c.log.Debugw("operation ignored", "op", op, "state", c.state.Kind(), "error", err)
	return false
}
