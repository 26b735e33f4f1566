package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/api"
	"github.com/atlas-desktop/orb-trader/internal/view"
)

func TestHealthEndpoint(t *testing.T) {
	logger := zap.NewNop()
	bus := view.NewBus(context.Background())
	defer bus.Close()

	server := api.NewServer(logger, api.ServerConfig{Host: "127.0.0.1", Port: 0}, bus)
	go server.Run()

	ts := httptest.NewServer(serverHandler(t, server))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %v", body["status"])
	}
}

func TestGetSystem_NotFoundBeforeAnyPublish(t *testing.T) {
	logger := zap.NewNop()
	bus := view.NewBus(context.Background())
	defer bus.Close()

	server := api.NewServer(logger, api.ServerConfig{Host: "127.0.0.1", Port: 0}, bus)
	go server.Run()

	ts := httptest.NewServer(serverHandler(t, server))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/systems/CS.D.EURUSD.CFD.IP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetSystem_ReturnsLatestSnapshot(t *testing.T) {
	logger := zap.NewNop()
	bus := view.NewBus(context.Background())
	defer bus.Close()

	bus.Publish(view.SystemView{State: "DecideOrderPlacement", Epic: "CS.D.EURUSD.CFD.IP"})
	time.Sleep(20 * time.Millisecond)

	server := api.NewServer(logger, api.ServerConfig{Host: "127.0.0.1", Port: 0}, bus)
	go server.Run()

	ts := httptest.NewServer(serverHandler(t, server))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/systems/CS.D.EURUSD.CFD.IP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got view.SystemView
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got.State != "DecideOrderPlacement" || got.Epic != "CS.D.EURUSD.CFD.IP" {
		t.Fatalf("unexpected system view: %+v", got)
	}
}

// serverHandler exposes the server's routed handler for httptest without
// requiring a real network listener from Start.
func serverHandler(t *testing.T, server *api.Server) http.Handler {
	t.Helper()
	return server.Handler()
}
