package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/auth"
	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/editor"
	"github.com/parcelmap/server/internal/gateway"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/metrics"
	"github.com/parcelmap/server/internal/performance"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "parcelmap-v1"

	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second

	sendBuffer    = 256
	inboundBuffer = 64
)

// WebSocketConnection is one editing client. The goroutine running run owns
// the connection's Controller; the pumps only move bytes.
type WebSocketConnection struct {
	id      string
	conn    *websocket.Conn
	claims  *auth.Claims
	scope   gateway.Scope
	version string
	log     *zap.SugaredLogger

	send    chan []byte
	inbound chan WebSocketMessage
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// WebSocketHub tracks live connections so they can be closed on shutdown.
type WebSocketHub struct {
	mu          sync.Mutex
	connections map[*WebSocketConnection]struct{}
	closed      bool
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{connections: make(map[*WebSocketConnection]struct{})}
}

func (h *WebSocketHub) register(c *WebSocketConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.connections[c] = struct{}{}
	metrics.ActiveConnections.Inc()
	return true
}

func (h *WebSocketHub) unregister(c *WebSocketConnection) {
	h.mu.Lock()
	_, ok := h.connections[c]
	delete(h.connections, c)
	h.mu.Unlock()
	if ok {
		metrics.ActiveConnections.Dec()
	}
	c.closeSend()
}

// Count returns the number of live connections.
func (h *WebSocketHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// CloseAll sends a close frame to every connection and refuses new ones.
func (h *WebSocketHub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*WebSocketConnection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeSend()
	}
}

// WebSocketHandlers handles WebSocket connections
type WebSocketHandlers struct {
	hub        *WebSocketHub
	config     *config.Config
	jwtService *auth.JWTService
	gateway    *gateway.Client
	profiler   *performance.Profiler
	validate   *validator.Validate
	log        *zap.SugaredLogger
	upgrader   websocket.Upgrader
}

// NewWebSocketHandlers creates a new WebSocket handlers instance
func NewWebSocketHandlers(cfg *config.Config, backend *gateway.Client, profiler *performance.Profiler, log *zap.SugaredLogger) *WebSocketHandlers {
	allowedOrigins := cfg.Server.AllowedOrigins
	return &WebSocketHandlers{
		hub:        NewWebSocketHub(),
		config:     cfg,
		jwtService: auth.NewJWTService(cfg),
		gateway:    backend,
		profiler:   profiler,
		validate:   validator.New(),
		log:        logger.OrNop(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// State frames carry the whole parcel collection.
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Hub returns the connection registry.
func (h *WebSocketHandlers) Hub() *WebSocketHub {
	return h.hub
}

var (
	errScopeKind   = errors.New("context must be farm or import")
	errScopeFarm   = errors.New("farm_id is required")
	errScopeBatch  = errors.New("batch_id is required")
	errScopeAccess = errors.New("no access to this farm")
)

// scopeFromRequest reads the parcel collection the client wants to edit.
func scopeFromRequest(r *http.Request, claims *auth.Claims) (gateway.Scope, error) {
	q := r.URL.Query()
	scope := gateway.Scope{FarmID: q.Get("farm_id")}

	switch gateway.ScopeKind(q.Get("context")) {
	case gateway.ScopeFarm, "":
		if scope.FarmID == "" {
			return scope, errScopeFarm
		}
		scope.Kind = gateway.ScopeFarm
		scope.ID = scope.FarmID
	case gateway.ScopeImport:
		scope.Kind = gateway.ScopeImport
		scope.ID = q.Get("batch_id")
		if scope.ID == "" {
			return scope, errScopeBatch
		}
	default:
		return scope, errScopeKind
	}

	if scope.FarmID != "" && !claims.CanAccessFarm(scope.FarmID) {
		return scope, errScopeAccess
	}
	return scope, nil
}

// HandleWebSocket upgrades the request and serves one editing client until
// the connection closes.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromRequest(r)
	if !ok {
		h.log.Debugw("websocket authentication failed", "remote", r.RemoteAddr)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtService.Validate(token)
	if err != nil {
		h.log.Debugw("websocket token validation failed", "error", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	scope, err := scopeFromRequest(r, claims)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errScopeAccess) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := h.negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		h.log.Infow("websocket version negotiation failed", "requested", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	responseHeaders := http.Header{}
	if requestedVersions != "" {
		responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	wsConn := &WebSocketConnection{
		id:      id,
		conn:    conn,
		claims:  claims,
		scope:   scope,
		version: selectedVersion,
		log:     h.log.With("conn_id", id, "user_id", claims.UserID, "scope", scope.Kind, "scope_id", scope.ID),
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan WebSocketMessage, inboundBuffer),
		done:    make(chan struct{}),
	}

	if !h.hub.register(wsConn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}
	wsConn.log.Infow("websocket connection registered", "version", selectedVersion)

	go wsConn.writePump()
	go wsConn.readPump()

	ctrl := editor.NewController(
		h.gateway.Scoped(scope, token),
		editor.OptionsFromConfig(h.config),
		wsConn.log.Named(logger.ComponentEditor),
		h.profiler,
	)
	wsConn.run(r.Context(), h, ctrl)
}

// negotiateVersion selects the highest supported protocol version
func (h *WebSocketHandlers) negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	requestedVersions := strings.Split(requested, ",")
	for i := range requestedVersions {
		requestedVersions[i] = strings.TrimSpace(requestedVersions[i])
	}

	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		if slices.Contains(requestedVersions, supported) {
			return supported
		}
	}
	return ""
}

// run drives the controller: inbound messages, finished backend calls and
// the sync ticker all land here, so the controller is never shared.
func (c *WebSocketConnection) run(ctx context.Context, h *WebSocketHandlers, ctrl *editor.Controller) {
	ticker := time.NewTicker(h.config.Editor.SyncInterval)
	defer func() {
		ticker.Stop()
		ctrl.Close(ctx)
		close(c.done)
		h.hub.unregister(c)
		c.log.Infow("websocket connection unregistered")
	}()

	ctrl.Load(ctx)
	c.sendState(ctrl.Snapshot())
	sent := ctrl.Revision()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.inbound:
			if !ok {
				return
			}
			h.handleMessage(ctx, c, ctrl, &msg)
		case <-ctrl.Ready():
			for _, n := range ctrl.ApplyPending() {
				c.sendNotice(n)
			}
		case <-ticker.C:
			ctrl.Tick()
			if rev := ctrl.Revision(); rev != sent {
				c.sendState(ctrl.Snapshot())
				sent = rev
			}
		}
	}
}

// readPump handles incoming messages from the WebSocket connection
func (c *WebSocketConnection) readPump() {
	defer close(c.inbound)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warnw("failed to set read deadline", "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("websocket read error", "error", err)
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil || msg.Type == "" {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump handles outgoing messages to the WebSocket connection
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.log.Debugw("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.log.Debugw("failed to write close message", "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame for the write pump. Frames are dropped once the
// connection is closing or when the client stops reading.
func (c *WebSocketConnection) enqueue(message []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- message:
	default:
		c.log.Warnw("dropping message: send buffer full")
	}
}

func (c *WebSocketConnection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketConnection) sendMessage(msgType, id string, payload interface{}) {
	msg := WebSocketMessage{Type: msgType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.log.Errorw("failed to marshal message", "type", msgType, "error", err)
			return
		}
		msg.Data = data
	}
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorw("failed to marshal message", "type", msgType, "error", err)
		return
	}
	c.enqueue(messageBytes)
}

// sendError sends an error message to the client
func (c *WebSocketConnection) sendError(id, errorMsg, code string) {
	messageBytes, err := json.Marshal(WebSocketError{
		Type:    "error",
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
	if err != nil {
		c.log.Errorw("failed to marshal error message", "error", err)
		return
	}
	c.enqueue(messageBytes)
}

func (c *WebSocketConnection) sendNotice(n editor.Notice) {
	c.sendMessage("notice", "", n)
}

func (c *WebSocketConnection) sendState(snap editor.Snapshot) {
	c.sendMessage("state", "", newStatePayload(snap))
}
