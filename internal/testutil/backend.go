package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// BackendParcel is a parcel as the fake backend stores it.
type BackendParcel struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Geodata          string  `json:"geodata"`
	Color            string  `json:"color"`
	Active           bool    `json:"active"`
	StartValidity    string  `json:"startValidity,omitempty"`
	EndValidity      *string `json:"endValidity"`
	ValidationStatus string  `json:"validationStatus,omitempty"`
	FarmID           string  `json:"farmId,omitempty"`
}

// RecordedRequest is one request the fake backend received.
type RecordedRequest struct {
	Op            string
	Method        string
	Path          string
	Authorization string
	RequestID     string
	Body          map[string]interface{}
}

// FakeBackend is an in-memory parcel backend served over httptest. Parcels
// are grouped by scope keys such as "farms/1" or "imports/7".
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	nextID   int64
	parcels  map[string][]*BackendParcel
	requests []RecordedRequest
	failures map[string]int
}

// NewFakeBackend starts the fake backend. Call Close when done.
func NewFakeBackend() *FakeBackend {
	b := &FakeBackend{
		nextID:   100,
		parcels:  make(map[string][]*BackendParcel),
		failures: make(map[string]int),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// BaseURL is the value to configure as the gateway base URL.
func (b *FakeBackend) BaseURL() string {
	return b.Server.URL + "/api"
}

// Close shuts the server down.
func (b *FakeBackend) Close() {
	b.Server.Close()
}

// Seed stores p under scope, assigning an id when p has none.
func (b *FakeBackend) Seed(scope string, p BackendParcel) BackendParcel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.ID == 0 {
		b.nextID++
		p.ID = b.nextID
	}
	stored := p
	b.parcels[scope] = append(b.parcels[scope], &stored)
	return stored
}

// Fail makes every following request for op answer with status. A status
// of 0 clears the failure.
func (b *FakeBackend) Fail(op string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, op)
		return
	}
	b.failures[op] = status
}

// Requests returns a copy of the received requests in order.
func (b *FakeBackend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// RequestsFor returns the received requests for one operation.
func (b *FakeBackend) RequestsFor(op string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range b.Requests() {
		if r.Op == op {
			out = append(out, r)
		}
	}
	return out
}

// Parcels returns a copy of the parcels stored under scope.
func (b *FakeBackend) Parcels(scope string) []BackendParcel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BackendParcel, 0, len(b.parcels[scope]))
	for _, p := range b.parcels[scope] {
		out = append(out, *p)
	}
	return out
}

func (b *FakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	// /api/{farms|imports}/{id}/...
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/"), "/")
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}
	scope := parts[0] + "/" + parts[1]
	rest := parts[2:]

	op := ""
	switch {
	case len(rest) == 1 && rest[0] == "parcels" && r.Method == http.MethodGet:
		op = "list"
	case len(rest) == 1 && rest[0] == "parcels" && r.Method == http.MethodPost:
		op = "create"
	case len(rest) == 2 && rest[0] == "parcels" && r.Method == http.MethodPut:
		op = "update"
	case len(rest) == 2 && rest[0] == "parcels" && r.Method == http.MethodDelete:
		op = "delete"
	case len(rest) == 3 && rest[0] == "imported-parcels" && rest[2] == "validate" && r.Method == http.MethodPatch:
		op = "approve"
	default:
		http.NotFound(w, r)
		return
	}

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, RecordedRequest{
		Op:            op,
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Body:          body,
	})

	if status, ok := b.failures[op]; ok {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"injected %s failure"}`, op)
		return
	}

	switch op {
	case "list":
		writeBackendJSON(w, http.StatusOK, b.listLocked(scope))
	case "create":
		b.nextID++
		p := &BackendParcel{ID: b.nextID, ValidationStatus: "pending"}
		p.Name, _ = body["name"].(string)
		p.Geodata, _ = body["geodata"].(string)
		p.Color, _ = body["color"].(string)
		p.Active, _ = body["active"].(bool)
		p.StartValidity, _ = body["startValidity"].(string)
		b.parcels[scope] = append(b.parcels[scope], p)
		writeBackendJSON(w, http.StatusCreated, p)
	case "update":
		p := b.findLocked(scope, rest[1])
		if p == nil {
			http.NotFound(w, r)
			return
		}
		if v, ok := body["name"].(string); ok {
			p.Name = v
		}
		if v, ok := body["geodata"].(string); ok {
			p.Geodata = v
		}
		if v, ok := body["color"].(string); ok {
			p.Color = v
		}
		writeBackendJSON(w, http.StatusOK, p)
	case "delete":
		if !b.removeLocked(scope, rest[1]) {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "approve":
		p := b.findLocked(scope, rest[1])
		if p == nil {
			http.NotFound(w, r)
			return
		}
		p.ValidationStatus, _ = body["validationStatus"].(string)
		p.FarmID, _ = body["farmId"].(string)
		writeBackendJSON(w, http.StatusOK, p)
	}
}

func (b *FakeBackend) listLocked(scope string) []BackendParcel {
	out := make([]BackendParcel, 0, len(b.parcels[scope]))
	for _, p := range b.parcels[scope] {
		out = append(out, *p)
	}
	return out
}

func (b *FakeBackend) findLocked(scope, id string) *BackendParcel {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}
	for _, p := range b.parcels[scope] {
		if p.ID == n {
			return p
		}
	}
	return nil
}

func (b *FakeBackend) removeLocked(scope, id string) bool {
	target := b.findLocked(scope, id)
	if target == nil {
		return false
	}
	list := b.parcels[scope]
	for i, p := range list {
		if p == target {
			b.parcels[scope] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func writeBackendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
