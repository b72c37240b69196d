package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/testutil"
)

func newTestClient(baseURL string) *Client {
	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
		},
	}
	return NewClient(cfg, nil)
}

func stringPtr(s string) *string {
	return &s
}

func TestNewClient(t *testing.T) {
	client := newTestClient("http://localhost:8081/api")
	if client == nil {
		t.Fatal("NewClient returned nil")
	}

	if client.baseURL != "http://localhost:8081/api" {
		t.Errorf("Expected baseURL http://localhost:8081/api, got %s", client.baseURL)
	}

	if client.timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", client.timeout)
	}
}

func TestScopedClient_List(t *testing.T) {
	backend := testutil.NewFakeBackend()
	defer backend.Close()

	fixtures := testutil.NewTestFixtures()
	seeded := backend.Seed("farms/12", fixtures.NewTestParcel(50, 4, 0.01))
	backend.Seed("farms/99", fixtures.NewTestParcel(0, 0, 1))

	scoped := newTestClient(backend.BaseURL()).Scoped(Scope{Kind: ScopeFarm, ID: "12"}, "secret-token")
	records, err := scoped.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if string(records[0].ID) != "101" || records[0].Geodata != seeded.Geodata {
		t.Errorf("Unexpected record: %+v", records[0])
	}

	reqs := backend.RequestsFor("list")
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 list request, got %d", len(reqs))
	}
	if reqs[0].Path != "/api/farms/12/parcels" {
		t.Errorf("Expected path /api/farms/12/parcels, got %s", reqs[0].Path)
	}
	if reqs[0].Authorization != "Bearer secret-token" {
		t.Errorf("Expected bearer token to be forwarded, got %q", reqs[0].Authorization)
	}
	if reqs[0].RequestID == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestScopedClient_Create(t *testing.T) {
	backend := testutil.NewFakeBackend()
	defer backend.Close()

	scoped := newTestClient(backend.BaseURL()).Scoped(Scope{Kind: ScopeFarm, ID: "1"}, "")
	record, err := scoped.Create(context.Background(), CreateRequest{
		Name:          "North field",
		Active:        true,
		StartValidity: "2024-05-01",
		Geodata:       testutil.SquareWKT(0, 0, 1),
		Color:         "#3388ff",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.ID == "" {
		t.Fatal("Expected assigned id")
	}

	body := backend.RequestsFor("create")[0].Body
	for _, key := range []string{"name", "active", "startValidity", "endValidity", "geodata", "color"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Expected create body to contain %s, got %v", key, body)
		}
	}
}

func TestScopedClient_CreateValidation(t *testing.T) {
	scoped := newTestClient("http://127.0.0.1:1").Scoped(Scope{Kind: ScopeFarm, ID: "1"}, "")

	_, err := scoped.Create(context.Background(), CreateRequest{
		Name:          "",
		StartValidity: "yesterday",
		Geodata:       "LINESTRING(0 0, 1 1)",
		Color:         "blue",
	})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 4 {
		t.Errorf("Expected 4 invalid fields, got %v", ve.Fields)
	}
}

func TestScopedClient_UpdateSendsOnlyChangedFields(t *testing.T) {
	backend := testutil.NewFakeBackend()
	defer backend.Close()

	seeded := backend.Seed("farms/1", testutil.NewTestFixtures().NewTestParcel(0, 0, 1))
	scoped := newTestClient(backend.BaseURL()).Scoped(Scope{Kind: ScopeFarm, ID: "1"}, "")

	id := jsonNumber(seeded.ID)
	if err := scoped.Update(context.Background(), id, UpdateRequest{Color: stringPtr("#ff0000")}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	req := backend.RequestsFor("update")[0]
	if req.Method != http.MethodPut {
		t.Errorf("Expected PUT, got %s", req.Method)
	}
	if len(req.Body) != 1 || req.Body["color"] != "#ff0000" {
		t.Errorf("Expected body with only color, got %v", req.Body)
	}

	if err := scoped.Update(context.Background(), id, UpdateRequest{}); !errors.Is(err, ErrEmptyUpdate) {
		t.Errorf("Expected ErrEmptyUpdate, got %v", err)
	}
}

func TestScopedClient_StatusError(t *testing.T) {
	backend := testutil.NewFakeBackend()
	defer backend.Close()
	backend.Fail("delete", http.StatusConflict)

	scoped := newTestClient(backend.BaseURL()).Scoped(Scope{Kind: ScopeFarm, ID: "1"}, "")
	err := scoped.Delete(context.Background(), "5")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusConflict || se.Op != "delete" {
		t.Errorf("Unexpected status error: %+v", se)
	}
	if !strings.Contains(se.Error(), "409") {
		t.Errorf("Expected status in message, got %s", se.Error())
	}
}

func TestScopedClient_ImportScope(t *testing.T) {
	backend := testutil.NewFakeBackend()
	defer backend.Close()

	seeded := backend.Seed("imports/7", testutil.NewTestFixtures().NewTestParcel(0, 0, 1))
	scoped := newTestClient(backend.BaseURL()).Scoped(Scope{Kind: ScopeImport, ID: "7", FarmID: "3"}, "")

	if err := scoped.Delete(context.Background(), "1"); !errors.Is(err, ErrDeleteUnsupported) {
		t.Errorf("Expected ErrDeleteUnsupported, got %v", err)
	}

	if err := scoped.Approve(context.Background(), jsonNumber(seeded.ID)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	req := backend.RequestsFor("approve")[0]
	if req.Method != http.MethodPatch {
		t.Errorf("Expected PATCH, got %s", req.Method)
	}
	if req.Path != "/api/imports/7/imported-parcels/"+jsonNumber(seeded.ID)+"/validate" {
		t.Errorf("Unexpected approve path %s", req.Path)
	}
	if req.Body["validationStatus"] != "validated" || req.Body["farmId"] != "3" {
		t.Errorf("Unexpected approve body %v", req.Body)
	}

	if got := backend.Parcels("imports/7")[0].ValidationStatus; got != "validated" {
		t.Errorf("Expected backend status validated, got %s", got)
	}

	if len(backend.RequestsFor("delete")) != 0 {
		t.Error("Import scope must never send a delete")
	}
}

func TestScopedClient_ApproveRequiresImportScope(t *testing.T) {
	scoped := newTestClient("http://127.0.0.1:1").Scoped(Scope{Kind: ScopeFarm, ID: "1"}, "")
	if err := scoped.Approve(context.Background(), "1"); !errors.Is(err, ErrApproveUnsupported) {
		t.Errorf("Expected ErrApproveUnsupported, got %v", err)
	}
}

func TestScopedClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scoped := newTestClient(server.URL).Scoped(Scope{Kind: ScopeFarm, ID: "1"}, "")
	if _, err := scoped.List(ctx); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`42`, "42"},
		{`"abc-1"`, "abc-1"},
		{`null`, ""},
		{`1.5`, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if id != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, id)
			}
		})
	}

	var id ID
	if err := json.Unmarshal([]byte(`{}`), &id); err == nil {
		t.Error("Expected error for object id")
	}
}

func jsonNumber(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
