package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/health"
	"github.com/sai-cam/agentd/internal/healthsock"
)

// startFakeHealthSocket stands up a real healthsock.Server backed by a
// fixed snapshot, so portal handlers that proxy through the socket
// (spec.md §4.7) exercise the real wire format rather than a stub.
func startFakeHealthSocket(t *testing.T, snap health.Snapshot) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "health.sock")
	srv, err := healthsock.Listen(path, healthsock.Handlers{
		Health: func() health.Snapshot { return snap },
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	stopCh := make(chan struct{})
	go srv.Serve(stopCh)
	t.Cleanup(func() {
		close(stopCh)
		srv.Close()
	})
	return path
}

// TestStatusIncludesStorageNetworkAndUpdate checks spec.md §4.7's
// /api/status route table: the composite view carries node, features,
// system, cameras, storage, network, and (when configured) update state,
// not just a nested "health" blob.
func TestStatusIncludesStorageNetworkAndUpdate(t *testing.T) {
	snap := health.Snapshot{
		NodeVersion: "1.2.3",
		Cameras: []health.CameraRuntimeView{
			{CameraID: "cam1", State: "healthy"},
		},
		System: health.SystemMetrics{CPUPercent: 12.5},
	}
	sockPath := startFakeHealthSocket(t, snap)

	cfg := &agentconfig.NodeConfig{
		Network: &agentconfig.Network{APInterface: "wlan0"},
		Updates: &agentconfig.Updates{Enabled: true, Channel: "stable"},
	}

	srv := New(Deps{
		NodeID:           "node1",
		Version:          "1.2.3",
		StartedAt:        time.Now(),
		Config:           func() *agentconfig.NodeConfig { return cfg },
		HealthSocketPath: sockPath,
		StorageStats: func() any {
			return map[string]any{"pending_images": 3}
		},
		UpdateInfo: func() (any, bool) {
			return map[string]any{"channel": "stable"}, true
		},
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	for _, key := range []string{"node", "features", "system", "cameras", "storage", "network", "update"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q in /api/status response: %v", key, body)
		}
	}
}

// TestStatusOmitsUpdateWhenNotConfigured checks that UpdateInfo's second
// return value lets the handler skip the "update" key entirely rather
// than serving a zeroed placeholder for a node with no updates{} section.
func TestStatusOmitsUpdateWhenNotConfigured(t *testing.T) {
	sockPath := startFakeHealthSocket(t, health.Snapshot{})
	cfg := &agentconfig.NodeConfig{}

	srv := New(Deps{
		NodeID:           "node1",
		Version:          "1.0.0",
		StartedAt:        time.Now(),
		Config:           func() *agentconfig.NodeConfig { return cfg },
		HealthSocketPath: sockPath,
		UpdateInfo: func() (any, bool) {
			return nil, false
		},
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := body["update"]; ok {
		t.Errorf("expected no update key, got: %v", body["update"])
	}
}
