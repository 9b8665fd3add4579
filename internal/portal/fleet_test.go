package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

func newTestServer(cfg *agentconfig.NodeConfig) *Server {
	return New(Deps{
		NodeID:    "node1",
		Version:   "test",
		StartedAt: time.Now(),
		Config:    func() *agentconfig.NodeConfig { return cfg },
	}, "")
}

func TestFleetAuthRejectsWithoutFleetConfigured(t *testing.T) {
	s := newTestServer(&agentconfig.NodeConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/fleet/reboot", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestFleetAuthRejectsBadToken(t *testing.T) {
	cfg := &agentconfig.NodeConfig{Fleet: &agentconfig.Fleet{Token: "secret"}}
	s := newTestServer(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/fleet/reboot", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestFleetAuthAcceptsGoodToken(t *testing.T) {
	cfg := &agentconfig.NodeConfig{Fleet: &agentconfig.Fleet{Token: "secret"}}
	s := newTestServer(cfg)
	s.deps.RebootHost = func() error { return nil }

	req := httptest.NewRequest(http.MethodPost, "/api/fleet/reboot", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d, body = %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
}

func TestFleetPingIsUnauthenticated(t *testing.T) {
	cfg := &agentconfig.NodeConfig{Fleet: &agentconfig.Fleet{Token: "secret"}}
	s := newTestServer(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/fleet/ping", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		OK      bool    `json:"ok"`
		Version string  `json:"version"`
		NodeID  string  `json:"node_id"`
		Uptime  float64 `json:"uptime"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.OK || body.Version != "test" || body.NodeID != "node1" {
		t.Errorf("unexpected ping body: %+v", body)
	}
}

func TestFleetConfigRejectsDisallowedKey(t *testing.T) {
	cfg := &agentconfig.NodeConfig{Fleet: &agentconfig.Fleet{Token: "secret", AllowedConfigKeys: []string{"logging.level"}}}
	s := newTestServer(cfg)
	s.deps.WriteFleetConfigKey = func(key, value string) error { return nil }

	req := httptest.NewRequest(http.MethodPost, "/api/fleet/config", strings.NewReader(`{"key":"storage.base_path","value":"/tmp"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d, body = %s", rr.Code, http.StatusForbidden, rr.Body.String())
	}
}
