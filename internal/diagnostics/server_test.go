// SPDX-License-Identifier: AGPL-3.0-or-later

package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/configprovider"
	"github.com/tomtom215/couchkit/internal/node"
)

func testConfig() Config {
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.CORSAllowedOrigins = []string{"*"}
	return cfg
}

func TestHandleLivezAlwaysOK(t *testing.T) {
	s := NewServer(testConfig(), node.NewSet(), configprovider.NewStaticProvider(nil, nil))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	s.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandleReadyzReflectsProviderConfig(t *testing.T) {
	provider := configprovider.NewStaticProvider(nil, nil)
	s := NewServer(testConfig(), node.NewSet(), provider)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	s.httpSrv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before any config is published", rr.Code)
	}

	global := &clustertopo.GlobalConfig{}
	provider2 := configprovider.NewStaticProvider(nil, global)
	if err := provider2.LoadAndRefreshGlobalConfig(req.Context()); err != nil {
		t.Fatalf("LoadAndRefreshGlobalConfig: %v", err)
	}
	s2 := NewServer(testConfig(), node.NewSet(), provider2)

	rr2 := httptest.NewRecorder()
	s2.httpSrv.Handler.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 once the provider has a config", rr2.Code)
	}
}

func TestHandleNodesReportsLiveServices(t *testing.T) {
	nodes := node.NewSet()
	id := clustertopo.NodeIdentifier{Host: "10.0.0.1", ManagerPort: 8091}
	n, _ := nodes.GetOrCreate(id, clustertopo.NodeInfo{ID: id, Hostname: "10.0.0.1"})
	n.AddService("10.0.0.1:11210", clustertopo.ServiceKeyValue, "")

	s := NewServer(testConfig(), nodes, configprovider.NewStaticProvider(nil, nil))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	s.httpSrv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp nodesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Nodes) != 1 {
		t.Fatalf("len(Nodes) = %d, want 1", len(resp.Nodes))
	}
	if resp.Nodes[0].Identifier != "10.0.0.1:8091" {
		t.Errorf("Identifier = %q, want 10.0.0.1:8091", resp.Nodes[0].Identifier)
	}
	if len(resp.Nodes[0].Services) != 1 {
		t.Fatalf("len(Services) = %d, want 1", len(resp.Nodes[0].Services))
	}
}

func TestHandleNodesEmptySet(t *testing.T) {
	s := NewServer(testConfig(), node.NewSet(), configprovider.NewStaticProvider(nil, nil))

	rr := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nodes", nil))

	var resp nodesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Nodes) != 0 {
		t.Fatalf("len(Nodes) = %d, want 0", len(resp.Nodes))
	}
}

func TestHandlePerfReportsStatsAfterTraffic(t *testing.T) {
	s := NewServer(testConfig(), node.NewSet(), configprovider.NewStaticProvider(nil, nil))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		s.httpSrv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	}

	rr := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/perf", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var stats []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected at least one endpoint's stats after serving /nodes traffic")
	}
}

func TestResponseCarriesRequestID(t *testing.T) {
	s := NewServer(testConfig(), node.NewSet(), configprovider.NewStaticProvider(nil, nil))

	rr := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID to be set on the response")
	}
}

func TestServeStopsOnContextCancellation(t *testing.T) {
	s := NewServer(testConfig(), node.NewSet(), configprovider.NewStaticProvider(nil, nil))
	s.cfg.ShutdownTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	// Give ListenAndServe a moment to bind before cancelling.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
