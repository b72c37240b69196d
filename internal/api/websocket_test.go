package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parcelmap/server/internal/auth"
	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/gateway"
	"github.com/parcelmap/server/internal/performance"
	"github.com/parcelmap/server/internal/testutil"
)

const testSecret = "test-secret-key-for-testing-only-32b"

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Environment:    "test",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Gateway: config.GatewayConfig{
			BaseURL: backendURL,
			Timeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:     testSecret,
			JWTIssuer:     "parcelmap",
			JWTExpiration: 15 * time.Minute,
		},
		Editor: config.EditorConfig{
			SyncInterval: 5 * time.Millisecond,
			DefaultColor: "#3388ff",
			Epsilon:      1e-10,
		},
	}
}

type wsFixture struct {
	backend *testutil.FakeBackend
	cfg     *config.Config
	routes  *Routes
	server  *httptest.Server
	jwt     *auth.JWTService
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	backend := testutil.NewFakeBackend()
	cfg := testConfig(backend.BaseURL())
	routes := SetupRoutes(cfg, gateway.NewClient(cfg, nil), performance.NewProfiler(true), nil)
	server := httptest.NewServer(routes.Handler)

	f := &wsFixture{
		backend: backend,
		cfg:     cfg,
		routes:  routes,
		server:  server,
		jwt:     auth.NewJWTService(cfg),
	}
	t.Cleanup(func() {
		routes.WebSocket.Hub().CloseAll()
		server.Close()
		backend.Close()
	})
	return f
}

func (f *wsFixture) token(t *testing.T, role string, farms ...string) string {
	t.Helper()
	token, err := f.jwt.Generate("u-1", role, farms)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	return token
}

func (f *wsFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?" + query
	dialer := websocket.Dialer{Subprotocols: []string{ProtocolVersion1}, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to dial websocket (status %d): %v", status, err)
	}
	if conn.Subprotocol() != ProtocolVersion1 {
		t.Errorf("Expected subprotocol %s, got %q", ProtocolVersion1, conn.Subprotocol())
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType, id string, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": msgType, "id": id}
	if data != nil {
		msg["data"] = data
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send %s: %v", msgType, err)
	}
}

// waitFor reads frames until one of msgType satisfies match.
func waitFor(t *testing.T, conn *websocket.Conn, msgType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Timed out waiting for %s: %v", msgType, err)
		}
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("Invalid frame %s: %v", raw, err)
		}
		if env.Type != msgType {
			continue
		}
		if env.Type == "error" {
			env.Data = raw
		}
		if match == nil || match(env.Data) {
			return env.Data
		}
	}
}

type testState struct {
	Revision  uint64 `json:"revision"`
	State     string `json:"state"`
	CanAccept bool   `json:"canAccept"`
	Session   *struct {
		PointCount int `json:"pointCount"`
	} `json:"session"`
	Warning *struct {
		OverlappingPolygons []struct {
			ID string `json:"id"`
		} `json:"overlappingPolygons"`
	} `json:"warning"`
	Parcels struct {
		Features []json.RawMessage `json:"features"`
	} `json:"parcels"`
}

func stateWhere(t *testing.T, pred func(testState) bool) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var s testState
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("Invalid state payload: %v", err)
		}
		return pred(s)
	}
}

func TestWebSocketHandlers_negotiateVersion(t *testing.T) {
	handlers := NewWebSocketHandlers(testConfig("http://127.0.0.1:1/api"), nil, nil, nil)

	tests := []struct {
		name      string
		requested string
		expected  string
	}{
		{"empty string defaults to v1", "", ProtocolVersion1},
		{"v1 requested", ProtocolVersion1, ProtocolVersion1},
		{"multiple versions", "parcelmap-v2, parcelmap-v1", ProtocolVersion1},
		{"unsupported version", "parcelmap-v99", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := handlers.negotiateVersion(tt.requested)
			if result != tt.expected {
				t.Errorf("negotiateVersion(%q) = %q, want %q", tt.requested, result, tt.expected)
			}
		})
	}
}

func TestWebSocketHandlers_HandleWebSocket_Rejections(t *testing.T) {
	f := newWSFixture(t)
	farmer := f.token(t, auth.RoleFarmer, "1")
	handlers := f.routes.WebSocket

	tests := []struct {
		name       string
		target     string
		protocol   string
		wantStatus int
	}{
		{"missing token", "/ws?farm_id=1", "", http.StatusUnauthorized},
		{"invalid token", "/ws?token=invalid-token&farm_id=1", "", http.StatusUnauthorized},
		{"missing farm", "/ws?token=" + farmer, "", http.StatusBadRequest},
		{"foreign farm", "/ws?token=" + farmer + "&farm_id=2", "", http.StatusForbidden},
		{"unknown context", "/ws?token=" + farmer + "&context=zone&farm_id=1", "", http.StatusBadRequest},
		{"import without batch", "/ws?token=" + farmer + "&context=import", "", http.StatusBadRequest},
		{"unsupported protocol", "/ws?token=" + farmer + "&farm_id=1", "parcelmap-v99", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.protocol != "" {
				req.Header.Set("Sec-WebSocket-Protocol", tt.protocol)
			}
			w := httptest.NewRecorder()
			handlers.HandleWebSocket(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestScopeFromRequest(t *testing.T) {
	farmer := &auth.Claims{Role: auth.RoleFarmer, FarmIDs: []string{"1"}}

	req := httptest.NewRequest(http.MethodGet, "/ws?context=import&batch_id=7&farm_id=1", nil)
	scope, err := scopeFromRequest(req, farmer)
	if err != nil {
		t.Fatalf("scopeFromRequest() failed: %v", err)
	}
	if scope.Kind != gateway.ScopeImport || scope.ID != "7" || scope.FarmID != "1" {
		t.Errorf("Unexpected scope %+v", scope)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws?farm_id=1", nil)
	scope, err = scopeFromRequest(req, farmer)
	if err != nil {
		t.Fatalf("scopeFromRequest() failed: %v", err)
	}
	if scope.Kind != gateway.ScopeFarm || scope.ID != "1" {
		t.Errorf("Expected farm scope by default, got %+v", scope)
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	f := newWSFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?farm_id=1&token=" + f.token(t, auth.RoleFarmer, "1")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Expected handshake to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}

func TestWebSocket_LoadsParcelsOnConnect(t *testing.T) {
	f := newWSFixture(t)
	f.backend.Seed("farms/1", testutil.NewTestFixtures().NewTestParcel(0, 0, 10))

	conn := f.dial(t, "farm_id=1&token="+f.token(t, auth.RoleFarmer, "1"))
	waitFor(t, conn, "state", stateWhere(t, func(s testState) bool {
		return s.State == "idle" && len(s.Parcels.Features) == 1
	}))

	reqs := f.backend.RequestsFor("list")
	if len(reqs) == 0 {
		t.Fatal("Expected a list request")
	}
	if reqs[0].Authorization == "" || !strings.HasPrefix(reqs[0].Authorization, "Bearer ") {
		t.Errorf("Expected the client token to be forwarded, got %q", reqs[0].Authorization)
	}
}

func TestWebSocket_CreateWithOverlapAccept(t *testing.T) {
	f := newWSFixture(t)
	f.backend.Seed("farms/1", testutil.NewTestFixtures().NewTestParcel(0, 0, 10))

	conn := f.dial(t, "farm_id=1&token="+f.token(t, auth.RoleFarmer, "1"))
	waitFor(t, conn, "state", stateWhere(t, func(s testState) bool { return len(s.Parcels.Features) == 1 }))

	sendMessage(t, conn, "create_start", "1", nil)
	sendMessage(t, conn, "create_set_ring", "2", map[string]interface{}{"ring": testutil.Square(5, 5, 10)})
	waitFor(t, conn, "state", stateWhere(t, func(s testState) bool {
		return s.State == "creating" && s.Session != nil && s.Session.PointCount == 4
	}))

	sendMessage(t, conn, "create_finish", "3", map[string]string{"name": "North field"})
	waitFor(t, conn, "state", stateWhere(t, func(s testState) bool {
		return s.State == "awaiting_overlap_decision" && s.Warning != nil && s.CanAccept &&
			len(s.Warning.OverlappingPolygons) == 1 && s.Warning.OverlappingPolygons[0].ID == "101"
	}))

	sendMessage(t, conn, "overlap_accept", "4", nil)
	waitFor(t, conn, "notice", func(raw json.RawMessage) bool {
		var n struct {
			Level string `json:"level"`
		}
		return json.Unmarshal(raw, &n) == nil && n.Level == "success"
	})
	waitFor(t, conn, "state", stateWhere(t, func(s testState) bool {
		return s.State == "idle" && len(s.Parcels.Features) == 2
	}))

	stored := f.backend.Parcels("farms/1")
	if len(stored) != 2 {
		t.Fatalf("Expected 2 stored parcels, got %d", len(stored))
	}
	if stored[1].Name != "North field" {
		t.Errorf("Expected name North field, got %q", stored[1].Name)
	}
	if !strings.HasPrefix(stored[1].Geodata, "POLYGON((") {
		t.Errorf("Expected WKT geodata, got %q", stored[1].Geodata)
	}
}

func TestWebSocket_MessageErrors(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "farm_id=1&token="+f.token(t, auth.RoleFarmer, "1"))

	codeIs := func(code string) func(json.RawMessage) bool {
		return func(raw json.RawMessage) bool {
			var e WebSocketError
			return json.Unmarshal(raw, &e) == nil && e.Code == code
		}
	}

	tests := []struct {
		name    string
		msgType string
		data    interface{}
		code    string
	}{
		{"unknown type", "teleport", nil, "UnknownMessageType"},
		{"missing point", "create_add_point", map[string]interface{}{}, "ValidationFailed"},
		{"bad preview layer", "overlap_preview", map[string]string{"layer": "both"}, "ValidationFailed"},
		{"bad color", "parcel_recolor", map[string]string{"id": "1", "color": "red"}, "ValidationFailed"},
		{"wrong state", "edit_finish", nil, "NotApplicable"},
		{"approve as farmer", "parcel_approve", map[string]string{"id": "1"}, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendMessage(t, conn, tt.msgType, tt.name, tt.data)
			waitFor(t, conn, "error", codeIs(tt.code))
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		waitFor(t, conn, "error", codeIs("InvalidMessageFormat"))
	})
}

func TestWebSocket_Ping(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "farm_id=1&token="+f.token(t, auth.RoleFarmer, "1"))

	sendMessage(t, conn, "ping", "p-1", nil)
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Expected pong: %v", err)
		}
		if msg.Type == "pong" {
			if msg.ID != "p-1" {
				t.Errorf("Expected pong id p-1, got %q", msg.ID)
			}
			return
		}
	}
}

func TestWebSocketHub_CloseAll(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "farm_id=1&token="+f.token(t, auth.RoleFarmer, "1"))
	waitFor(t, conn, "state", nil)

	hub := f.routes.WebSocket.Hub()
	if hub.Count() != 1 {
		t.Fatalf("Expected 1 connection, got %d", hub.Count())
	}

	hub.CloseAll()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Count() != 0 {
		t.Errorf("Expected no connections after CloseAll, got %d", hub.Count())
	}

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?farm_id=1&token=" + f.token(t, auth.RoleFarmer, "1")
	if late, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		late.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := late.ReadMessage(); err == nil {
			t.Error("Expected connections after CloseAll to be closed")
		}
		late.Close()
	}
}
