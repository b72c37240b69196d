package editor

import (
	"context"
	"fmt"

	"github.com/parcelmap/server/internal/gateway"
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/parcels"
)

// Persistence is the parcel backend as the controller uses it.
// *gateway.ScopedClient satisfies it.
type Persistence interface {
	List(ctx context.Context) ([]gateway.ParcelRecord, error)
	Create(ctx context.Context, req gateway.CreateRequest) (*gateway.ParcelRecord, error)
	Update(ctx context.Context, id string, req gateway.UpdateRequest) error
	Delete(ctx context.Context, id string) error
	Approve(ctx context.Context, id string) error
}

// Op names a persistence call.
type Op string

const (
	OpList    Op = "list"
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpApprove Op = "approve"
)

// Outcome is the result of one persistence call. ParcelID is the id the
// call was issued for, which for a create is the temporary id.
type Outcome struct {
	Op       Op
	ParcelID string
	Record   *gateway.ParcelRecord
	Records  []gateway.ParcelRecord
	Err      error
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Notice levels.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// Notice is transient feedback about a network outcome.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// dispatch runs call off the caller's goroutine. The call keeps running if
// ctx is cancelled; its outcome is queued for ApplyPending.
func (c *Controller) dispatch(ctx context.Context, op Op, id string, call func(context.Context) Outcome) {
	ctx = context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		out := call(ctx)
		out.Op = op
		out.ParcelID = id

		c.mu.Lock()
		c.queued = append(c.queued, out)
		c.mu.Unlock()

		select {
		case c.ready <- struct{}{}:
		default:
		}
	}()
}

// Ready is signalled whenever outcomes are queued.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// ApplyPending reconciles every queued outcome with local state, in the
// order the calls finished, and returns the notices they produced.
func (c *Controller) ApplyPending() []Notice {
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	var notices []Notice
	for _, out := range queued {
		if n := c.Apply(out); n != nil {
			notices = append(notices, *n)
		}
	}
	return notices
}

// Settle waits for every in-flight call and applies the outcomes, including
// those of calls issued while reconciling.
func (c *Controller) Settle() []Notice {
	var notices []Notice
	for {
		c.inflight.Wait()
		c.mu.Lock()
		n := len(c.queued)
		c.mu.Unlock()
		if n == 0 {
			return notices
		}
		notices = append(notices, c.ApplyPending()...)
	}
}

// Apply reconciles one outcome. Failed creates and updates leave the local
// record as it is; a delete only removes the record once it succeeded.
func (c *Controller) Apply(out Outcome) *Notice {
	if !out.OK() {
		c.log.Warnw("parcel backend call failed", "op", out.Op, "parcel_id", out.ParcelID, "error", out.Err)
	}

	switch out.Op {
	case OpList:
		return c.applyList(out)
	case OpCreate:
		return c.applyCreate(out)
	case OpUpdate:
		if !out.OK() {
			return &Notice{Level: NoticeError, Message: fmt.Sprintf("Could not save changes: %v", out.Err)}
		}
		return nil
	case OpDelete:
		delete(c.deleting, out.ParcelID)
		if !out.OK() {
			return &Notice{Level: NoticeError, Message: fmt.Sprintf("Could not delete parcel: %v", out.Err)}
		}
		c.releaseFor(context.Background(), out.ParcelID)
		c.setCollection(c.store.Load().Remove(out.ParcelID))
		return &Notice{Level: NoticeSuccess, Message: "Parcel deleted"}
	case OpApprove:
		if !out.OK() {
			return &Notice{Level: NoticeError, Message: fmt.Sprintf("Could not approve parcel: %v", out.Err)}
		}
		next, _ := c.store.Load().Update(out.ParcelID, func(p parcels.Parcel) parcels.Parcel {
			p.ValidationStatus = parcels.ValidationValidated
			return p
		})
		c.setCollection(next)
		return &Notice{Level: NoticeSuccess, Message: "Parcel approved"}
	}
	return nil
}

func (c *Controller) applyCreate(out Outcome) *Notice {
	delete(c.creating, out.ParcelID)
	if !out.OK() {
		return &Notice{Level: NoticeError, Message: fmt.Sprintf("Could not save parcel: %v", out.Err)}
	}

	tempID, newID := out.ParcelID, string(out.Record.ID)
	next, ok := c.store.Load().Substitute(tempID, newID)
	if !ok {
		// Deleted locally while the create was in flight.
		c.log.Infow("removing parcel deleted before its create finished", "temp_id", tempID, "id", newID)
		delete(c.deferred, tempID)
		c.sendDelete(context.Background(), newID)
		return nil
	}
	c.setCollection(next)

	switch s := c.state.(type) {
	case Editing:
		if s.Session.polygonID == tempID {
			s.Session.polygonID = newID
			s.Session.isNew = false
		}
	case AwaitingOverlapDecision:
		if s.Pending.PolygonID == tempID {
			s.Pending.PolygonID = newID
			c.state = s
		}
	}

	if req, ok := c.deferred[tempID]; ok {
		delete(c.deferred, tempID)
		c.sendUpdate(context.Background(), newID, req)
	}

	c.log.Infow("parcel created", "temp_id", tempID, "id", newID)
	return &Notice{Level: NoticeSuccess, Message: "Parcel saved"}
}

func (c *Controller) applyList(out Outcome) *Notice {
	if !out.OK() {
		return &Notice{Level: NoticeError, Message: fmt.Sprintf("Could not load parcels: %v", out.Err)}
	}
	if c.state.Kind() != KindIdle {
		c.log.Debugw("parcel refresh skipped during an active session", "state", c.state.Kind())
		return nil
	}

	loaded := make([]parcels.Parcel, 0, len(out.Records))
	for _, rec := range out.Records {
		loaded = append(loaded, c.fromRecord(rec))
	}
	// Records the backend has not acknowledged are kept.
	for _, p := range c.store.Load().All() {
		if p.IsTemp() {
			loaded = append(loaded, p)
		}
	}
	c.setCollection(parcels.NewCollection(loaded))
	return nil
}

func (c *Controller) fromRecord(rec gateway.ParcelRecord) parcels.Parcel {
	color := rec.Color
	if color == "" {
		color = c.opts.DefaultColor
	}
	return parcels.Parcel{
		ID:               string(rec.ID),
		Name:             rec.Name,
		Ring:             c.cleanup(geodata.WKTToRing(rec.Geodata)),
		Visible:          true,
		Color:            color,
		ValidationStatus: rec.ValidationStatus,
		FarmID:           string(rec.FarmID),
	}
}

func (c *Controller) sendCreate(ctx context.Context, p parcels.Parcel) {
	req := gateway.CreateRequest{
		Name:          p.Name,
		Active:        true,
		StartValidity: c.opts.Now().Format("2006-01-02"),
		Geodata:       geodata.RingToWKT(p.Ring),
		Color:         p.Color,
	}
	c.creating[p.ID] = struct{}{}
	c.dispatch(ctx, OpCreate, p.ID, func(ctx context.Context) Outcome {
		rec, err := c.persist.Create(ctx, req)
		return Outcome{Record: rec, Err: err}
	})
}

// sendUpdate issues a partial update, or holds it until the create of a
// temporary id resolves.
func (c *Controller) sendUpdate(ctx context.Context, id string, req gateway.UpdateRequest) {
	if parcels.IsTempID(id) {
		c.deferred[id] = mergeUpdate(c.deferred[id], req)
		return
	}
	c.dispatch(ctx, OpUpdate, id, func(ctx context.Context) Outcome {
		return Outcome{Err: c.persist.Update(ctx, id, req)}
	})
}

func (c *Controller) sendDelete(ctx context.Context, id string) {
	c.deleting[id] = struct{}{}
	c.dispatch(ctx, OpDelete, id, func(ctx context.Context) Outcome {
		return Outcome{Err: c.persist.Delete(ctx, id)}
	})
}

func (c *Controller) sendApprove(ctx context.Context, id string) {
	c.dispatch(ctx, OpApprove, id, func(ctx context.Context) Outcome {
		return Outcome{Err: c.persist.Approve(ctx, id)}
	})
}

func mergeUpdate(base, next gateway.UpdateRequest) gateway.UpdateRequest {
	if next.Name != nil {
		base.Name = next.Name
	}
	if next.Geodata != nil {
		base.Geodata = next.Geodata
	}
	if next.Color != nil {
		base.Color = next.Color
	}
	return base
}
