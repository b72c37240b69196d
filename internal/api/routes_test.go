package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/parcelmap/server/internal/auth"
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/geometry"
	"github.com/parcelmap/server/internal/testutil"
)

func TestHealth(t *testing.T) {
	f := newWSFixture(t)
	helper := testutil.NewHTTPTestHelper(f.routes.Handler, "")

	rr := helper.MakeRequest(http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := testutil.DecodeJSON(rr, &body); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected security headers on every route")
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newWSFixture(t)
	rr := testutil.NewHTTPTestHelper(f.routes.Handler, "").MakeRequest(http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "parcelmap_active_connections") {
		t.Error("Expected parcelmap metrics in output")
	}
}

func TestResolveEndpoint(t *testing.T) {
	f := newWSFixture(t)
	helper := testutil.NewHTTPTestHelper(f.routes.Handler, f.token(t, auth.RoleFarmer, "1"))

	t.Run("requires token", func(t *testing.T) {
		rr := testutil.NewHTTPTestHelper(f.routes.Handler, "").MakeRequest(http.MethodPost, "/api/geometry/resolve", ResolveRequest{})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rr.Code)
		}
	})

	t.Run("overlap", func(t *testing.T) {
		rr := helper.MakeRequest(http.MethodPost, "/api/geometry/resolve", ResolveRequest{
			Candidate: testutil.SquareWKT(5, 5, 10),
			Obstacles: []ObstacleInput{
				{ID: "1", Name: "Home", Geodata: testutil.SquareWKT(0, 0, 10)},
				{ID: "2", Name: "Far", Geodata: testutil.SquareWKT(100, 100, 1)},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ResolveResponse
		if err := testutil.DecodeJSON(rr, &resp); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(resp.Overlapping) != 1 || resp.Overlapping[0].ID != "1" {
			t.Errorf("Expected only parcel 1 to overlap, got %+v", resp.Overlapping)
		}
		if resp.Strategy != geometry.StrategyDifference {
			t.Errorf("Expected difference strategy, got %s", resp.Strategy)
		}
		if resp.Fixed == nil {
			t.Fatal("Expected a fixed polygon")
		}
		fixed := geodata.WKTToRing(*resp.Fixed)
		if geometry.Overlaps(fixed, testutil.Square(0, 0, 10)) {
			t.Error("Fixed polygon still overlaps the obstacle")
		}
	})

	t.Run("clean", func(t *testing.T) {
		rr := helper.MakeRequest(http.MethodPost, "/api/geometry/resolve", ResolveRequest{
			Candidate: testutil.SquareWKT(50, 50, 1),
			Obstacles: []ObstacleInput{{ID: "1", Geodata: testutil.SquareWKT(0, 0, 10)}},
		})
		var resp ResolveResponse
		if err := testutil.DecodeJSON(rr, &resp); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(resp.Overlapping) != 0 || resp.Fixed != nil || resp.Strategy != geometry.StrategyNone {
			t.Errorf("Expected a clean response, got %+v", resp)
		}
	})

	t.Run("bad input", func(t *testing.T) {
		tests := []struct {
			name string
			body interface{}
		}{
			{"not json", "{"},
			{"missing candidate", ResolveRequest{}},
			{"not a polygon", ResolveRequest{Candidate: "POINT(1 2)"}},
			{"obstacle without id", ResolveRequest{Candidate: testutil.SquareWKT(0, 0, 1), Obstacles: []ObstacleInput{{Geodata: "POLYGON EMPTY"}}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := helper.MakeRequest(http.MethodPost, "/api/geometry/resolve", tt.body)
				if rr.Code != http.StatusBadRequest {
					t.Errorf("Expected 400, got %d", rr.Code)
				}
			})
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rr := helper.MakeRequest(http.MethodGet, "/api/geometry/resolve", nil)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rr.Code)
		}
	})
}

func TestPerformanceEndpoint(t *testing.T) {
	f := newWSFixture(t)

	rr := testutil.NewHTTPTestHelper(f.routes.Handler, f.token(t, auth.RoleFarmer)).MakeRequest(http.MethodGet, "/api/performance", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a farmer, got %d", rr.Code)
	}

	admin := testutil.NewHTTPTestHelper(f.routes.Handler, f.token(t, auth.RoleAdmin))
	admin.MakeRequest(http.MethodPost, "/api/geometry/resolve", ResolveRequest{
		Candidate: testutil.SquareWKT(5, 5, 10),
		Obstacles: []ObstacleInput{{ID: "1", Geodata: testutil.SquareWKT(0, 0, 10)}},
	})

	rr = admin.MakeRequest(http.MethodGet, "/api/performance", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var report struct {
		Operations []struct {
			Name  string `json:"name"`
			Count int64  `json:"count"`
		} `json:"operations"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	found := false
	for _, op := range report.Operations {
		if op.Name == "api.resolve" && op.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected api.resolve in report, got %+v", report.Operations)
	}
}
