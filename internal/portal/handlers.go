package portal

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sai-cam/agentd/internal/healthsock"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleStatus serves the composite /api/status view: node identity,
// feature flags, system metrics, cameras, storage, network, and the
// optional update state, all assembled from one HealthSocket round trip
// plus local config.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	cfg := s.deps.Config()
	body := map[string]any{
		"node": map[string]any{
			"id":      s.deps.NodeID,
			"version": s.deps.Version,
			"uptime":  time.Since(s.deps.StartedAt).Seconds(),
		},
		"features": map[string]bool{
			"fleet":   cfg.Fleet != nil,
			"updates": cfg.Updates != nil && cfg.Updates.Enabled,
		},
		"health":  resp.Health,
		"network": cfg.Network,
	}
	if resp.Health != nil {
		body["system"] = resp.Health.System
		body["cameras"] = resp.Health.Cameras
	}
	if s.deps.StorageStats != nil {
		body["storage"] = s.deps.StorageStats()
	}
	if s.deps.UpdateInfo != nil {
		if info, ok := s.deps.UpdateInfo(); ok {
			body["update"] = info
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatusCameras(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	var cameras any
	if resp.Health != nil {
		cameras = resp.Health.Cameras
	}
	writeJSON(w, http.StatusOK, cameras)
}

func (s *Server) handleStatusSystem(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	var sys any
	if resp.Health != nil {
		sys = resp.Health.System
	}
	writeJSON(w, http.StatusOK, sys)
}

func (s *Server) handleStatusNetwork(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config()
	writeJSON(w, http.StatusOK, cfg.Network)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp.Health)
}

func (s *Server) handleHealthCameras(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	var v any
	if resp.Health != nil {
		v = resp.Health.Cameras
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHealthThreads(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	var v any
	if resp.Health != nil {
		v = resp.Health.ThreadAlive
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHealthSystem(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dialHealth(healthsock.Command{Action: "health"})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	var v any
	if resp.Health != nil {
		v = resp.Health.System
	}
	writeJSON(w, http.StatusOK, v)
}

// handleLogs serves the last N lines merged from camera and update logs,
// N clamped to [1,1000] per spec.md §4.7.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if q := r.URL.Query().Get("lines"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil {
			n = parsed
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 1000 {
		n = 1000
	}
	var lines []LogLine
	if s.deps.RecentLogs != nil {
		lines = s.deps.RecentLogs(n)
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) handleLatestImage(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	if s.deps.LatestImage == nil {
		writeError(w, http.StatusNotFound, "no image available")
		return
	}
	data, _, err := s.deps.LatestImage(cameraID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(data)
}

// handleConfig serves the live config with all credentials redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config()
	writeJSON(w, http.StatusOK, redactedConfig(cfg))
}

func (s *Server) handleCameraCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.dialHealth(healthsock.Command{Action: "force_capture", CameraID: id})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	if resp.Error != "" {
		writeError(w, http.StatusNotFound, resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCameraRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.dialHealth(healthsock.Command{Action: "restart_camera", CameraID: id})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "health socket unavailable: "+err.Error())
		return
	}
	if resp.Error != "" {
		writeError(w, http.StatusNotFound, resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": resp.Action})
}

// handleCameraPosition writes the position field back to the YAML on
// disk; it does not trigger a reload since cameras.* is not a
// live-reloadable field (spec.md §4.5's whitelist table).
func (s *Server) handleCameraPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Position string `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := writeCameraPosition(s.deps.ConfigPath, id, body.Position); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config()
	writeJSON(w, http.StatusOK, map[string]string{"level": cfg.Logging.Level})
}

// handleSetLogLevel applies the new level live, then rewrites
// logging.level on disk and re-runs the reload path so a subsequent GET
// (or a restart) sees the same value (spec.md §4.7).
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if s.deps.SetLogLevel == nil {
		writeError(w, http.StatusNotImplemented, "log level change not supported")
		return
	}
	if err := s.deps.SetLogLevel(body.Level); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := WriteDottedConfigKey(s.deps.ConfigPath, "logging.level", body.Level); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.deps.TriggerReload != nil {
		if err := s.deps.TriggerReload(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWifiAP(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.WifiAP == nil {
			writeError(w, http.StatusNotImplemented, "wifi AP control not supported")
			return
		}
		if err := s.deps.WifiAP(enable); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) dialHealth(cmd healthsock.Command) (healthsock.Response, error) {
	return healthsock.Dial(s.deps.HealthSocketPath, cmd, 5*time.Second)
}
