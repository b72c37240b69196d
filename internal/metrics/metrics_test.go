package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	OverlapChecksTotal.WithLabelValues("clean").Inc()
	ActiveConnections.Set(2)

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"parcelmap_overlap_checks_total",
		"parcelmap_active_connections 2",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected %s in scrape output", name)
		}
	}
}
