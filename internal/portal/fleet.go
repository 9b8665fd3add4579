package portal

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// fleetAuth enforces the bearer token spec.md §4.7 requires on every
// /api/fleet/* route except /ping: 503 when the node has no fleet block
// configured at all, 401 on a missing or mismatched token.
func (s *Server) fleetAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.deps.Config()
		if cfg.Fleet == nil || cfg.Fleet.Token == "" {
			writeError(w, http.StatusServiceUnavailable, "fleet management not configured")
			return
		}

		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth || token != cfg.Fleet.Token {
			writeError(w, http.StatusUnauthorized, "invalid fleet token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleFleetPing is the unauthenticated discovery route a fleet
// controller uses to confirm the node is reachable and learn its identity
// before attempting any authenticated call: {ok, version, node_id, uptime}
// per spec.md §4.7's route table.
func (s *Server) handleFleetPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"node_id": s.deps.NodeID,
		"version": s.deps.Version,
		"uptime":  time.Since(s.deps.StartedAt).Seconds(),
	})
}

// handleFleetUpdateApply triggers a self-update. 409 when one is already
// in progress, per spec.md §4.8's single-update-at-a-time invariant.
func (s *Server) handleFleetUpdateApply(w http.ResponseWriter, r *http.Request) {
	if s.deps.UpdateInProgress != nil && s.deps.UpdateInProgress() {
		writeError(w, http.StatusConflict, "update already in progress")
		return
	}
	if s.deps.TriggerUpdate == nil {
		writeError(w, http.StatusNotImplemented, "updates not supported")
		return
	}
	if err := s.deps.TriggerUpdate(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// handleFleetServiceRestart restarts the agentd service itself. spec.md §8
// scenario 5 is literal about the response: 200 with {"triggered": true}.
func (s *Server) handleFleetServiceRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.RestartService == nil {
		writeError(w, http.StatusNotImplemented, "service restart not supported")
		return
	}
	if err := s.deps.RestartService(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
}

// handleFleetReboot schedules a host reboot. spec.md §4.7 gives the node
// a short grace window to flush the HTTP response before the reboot
// callback actually fires, so RebootHost is expected to delay internally
// (the original implementation schedules it a minute out via "shutdown -r
// +1"-style tooling) rather than reboot synchronously inside this handler.
func (s *Server) handleFleetReboot(w http.ResponseWriter, r *http.Request) {
	if s.deps.RebootHost == nil {
		writeError(w, http.StatusNotImplemented, "reboot not supported")
		return
	}
	if err := s.deps.RebootHost(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// handleFleetConfig writes one config key, rejecting anything outside the
// node's fleet.allowed_config_keys allowlist (spec.md §4.7's
// ForbiddenConfigKey case).
func (s *Server) handleFleetConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	cfg := s.deps.Config()
	allowed := false
	if cfg.Fleet != nil {
		for _, k := range cfg.Fleet.AllowedConfigKeys {
			if k == body.Key {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "config key not in fleet allowlist: "+body.Key)
		return
	}

	if s.deps.WriteFleetConfigKey == nil {
		writeError(w, http.StatusNotImplemented, "fleet config writes not supported")
		return
	}
	if err := s.deps.WriteFleetConfigKey(body.Key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
