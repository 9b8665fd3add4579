package supervisor

import (
	"log/slog"

	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/storage"
	"github.com/sai-cam/agentd/internal/upload"
)

// Reload re-reads the config file and applies the whitelisted subset of
// changes live, logging anything else as requiring a restart (spec.md
// §4.5). It is the SIGHUP entry point cmd/agentd wires to signal.Notify.
// Running CameraInstances keep the advanced.* polling and reconnect values
// they were built with; a reloaded value reaches only cameras initialized
// after the reload.
func (s *Supervisor) Reload() error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	newCfg, diff, err := agentconfig.Reload(s.cfgPath, cur)
	if err != nil {
		s.logger.Error("config reload failed", "error", err)
		return err
	}

	s.mu.Lock()
	s.cfg = newCfg
	s.sampler.NTPServer = newCfg.Monitoring.NTPServer
	s.mu.Unlock()

	for _, field := range diff.Applied {
		if field == "logging.level" && s.setLogLevel != nil {
			if err := s.setLogLevel(newCfg.Logging.Level); err != nil {
				s.logger.Warn("apply reloaded logging.level failed", "error", err)
			}
			break
		}
	}

	s.uploadCli.Reconfigure(upload.Config{
		URL:        newCfg.Server.URL,
		AuthToken:  newCfg.Server.AuthToken,
		SSLVerify:  newCfg.Server.SSLVerify,
		CertPath:   newCfg.Server.CertPath,
		TimeoutSec: newCfg.Server.TimeoutSec,
	})

	if len(diff.Applied) > 0 {
		s.logger.Info("config reload applied", "fields", diff.Applied)
	}
	if len(diff.RequiresRestart) > 0 {
		s.logger.Warn("config reload changed fields that require a restart to take effect",
			slog.Any("fields", diff.RequiresRestart))
	}
	return nil
}

// Config returns the live NodeConfig, used by the ControlPortal's
// read-only status/config routes (portal.Deps.Config).
func (s *Supervisor) Config() *agentconfig.NodeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// LatestImage returns the newest stored frame for cameraID, backing
// /api/images/{camera_id}/latest.
func (s *Supervisor) LatestImage(cameraID string) ([]byte, string, error) {
	return s.storageM.LatestForCamera(cameraID)
}

// StorageStats backs /api/status's "storage" field.
func (s *Supervisor) StorageStats() storage.Stats {
	return s.storageM.Stats()
}
