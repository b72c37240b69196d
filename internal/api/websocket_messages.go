package api

import (
	"context"
	"encoding/json"

	"github.com/paulmach/orb/geojson"

	"github.com/parcelmap/server/internal/editor"
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/overlap"
	"github.com/parcelmap/server/internal/parcels"
)

type pointPayload struct {
	Point *geodata.LatLng `json:"point" validate:"required"`
}

type ringPayload struct {
	Ring geodata.Ring `json:"ring" validate:"required"`
}

type finishPayload struct {
	Name string `json:"name" validate:"max=255"`
}

type idPayload struct {
	ID string `json:"id" validate:"required"`
}

type movePayload struct {
	Index *int            `json:"index" validate:"required,min=0"`
	Point *geodata.LatLng `json:"point" validate:"required"`
}

type previewPayload struct {
	Layer overlap.PreviewLayer `json:"layer" validate:"required,oneof=original fixed"`
}

type renamePayload struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required,max=255"`
}

type recolorPayload struct {
	ID    string `json:"id" validate:"required"`
	Color string `json:"color" validate:"required,hexcolor"`
}

type visibilityPayload struct {
	ID      string `json:"id" validate:"required"`
	Visible *bool  `json:"visible" validate:"required"`
}

// statePayload is the body of a state message.
type statePayload struct {
	Revision  uint64                     `json:"revision"`
	State     editor.Kind                `json:"state"`
	Session   *editor.SessionSummary     `json:"session,omitempty"`
	Warning   *overlap.Warning           `json:"warning,omitempty"`
	CanAccept bool                       `json:"canAccept"`
	Preview   overlap.Preview            `json:"preview"`
	Overlays  *geojson.FeatureCollection `json:"overlays"`
	Parcels   *geojson.FeatureCollection `json:"parcels"`
}

func newStatePayload(snap editor.Snapshot) statePayload {
	overlays := geojson.NewFeatureCollection()
	for _, o := range snap.Overlays {
		overlays.Append(parcels.OverlayFeature(string(o.Layer), o.Ring))
	}
	return statePayload{
		Revision:  snap.Revision,
		State:     snap.State,
		Session:   snap.Session,
		Warning:   snap.Warning,
		CanAccept: snap.Warning.CanAccept(),
		Preview:   snap.Preview,
		Overlays:  overlays,
		Parcels:   snap.Parcels.FeatureCollection(),
	}
}

// decode unmarshals and validates a message body. On failure an error frame
// has already been sent.
func (h *WebSocketHandlers) decode(conn *WebSocketConnection, msg *WebSocketMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		conn.sendError(msg.ID, "Invalid message data", "InvalidMessageData")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		conn.sendError(msg.ID, err.Error(), "ValidationFailed")
		return false
	}
	return true
}

// handleMessage routes messages to the controller
func (h *WebSocketHandlers) handleMessage(ctx context.Context, conn *WebSocketConnection, ctrl *editor.Controller, msg *WebSocketMessage) {
	var applied bool

	switch msg.Type {
	case "ping":
		conn.sendMessage("pong", msg.ID, nil)
		return
	case "parcels_load":
		ctrl.Load(ctx)
		applied = true

	case "create_start":
		applied = ctrl.StartCreate()
	case "create_add_point":
		var p pointPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.AddPoint(*p.Point)
	case "create_undo_point":
		applied = ctrl.UndoPoint()
	case "create_set_ring":
		var p ringPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.SetDraftRing(p.Ring)
	case "create_finish":
		var p finishPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.FinishCreate(ctx, p.Name)
	case "create_cancel":
		applied = ctrl.CancelCreate()

	case "edit_start":
		var p idPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.StartEdit(p.ID)
	case "edit_update":
		var p ringPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.UpdateEditRing(p.Ring)
	case "edit_move_vertex":
		var p movePayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.MoveVertex(*p.Index, *p.Point)
	case "edit_finish":
		applied = ctrl.FinishEdit(ctx)
	case "edit_cancel":
		applied = ctrl.CancelEdit(ctx)

	case "overlap_ignore":
		applied = ctrl.IgnoreOverlap(ctx)
	case "overlap_accept":
		applied = ctrl.AcceptOverlapFix(ctx)
	case "overlap_manual_edit":
		applied = ctrl.ManualEditOverlap(ctx)
	case "overlap_edit_original":
		applied = ctrl.EditOriginalOverlap(ctx)
	case "overlap_cancel":
		applied = ctrl.CancelOverlap(ctx)
	case "overlap_preview":
		var p previewPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.TogglePreview(p.Layer)

	case "parcel_delete":
		var p idPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.Delete(ctx, p.ID)
	case "parcel_rename":
		var p renamePayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.Rename(ctx, p.ID, p.Name)
	case "parcel_recolor":
		var p recolorPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.Recolor(ctx, p.ID, p.Color)
	case "parcel_visibility":
		var p visibilityPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		applied = ctrl.SetVisibility(p.ID, *p.Visible)
	case "parcel_approve":
		var p idPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		if !conn.claims.CanValidateImports() {
			conn.sendError(msg.ID, "Not allowed to validate imported parcels", "Forbidden")
			return
		}
		applied = ctrl.Approve(ctx, p.ID)

	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
		return
	}

	if !applied {
		conn.sendError(msg.ID, "Operation not applicable in state "+string(ctrl.State().Kind()), "NotApplicable")
	}
}
