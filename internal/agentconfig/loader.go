package agentconfig

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sai-cam/agentd/internal/agenterr"
	"gopkg.in/yaml.v3"
)

// Load reads, expands, parses, defaults and validates the config file at
// path. It follows the teacher's internal/config/{loader,types,validator}.go
// three-step shape: Load -> applyDefaults -> Validate.
func Load(path string) (*NodeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &agenterr.ConfigError{Path: path, Err: err}
	}

	expanded := expandEnv(string(raw))

	var cfg NodeConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, &agenterr.ConfigError{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, &agenterr.ConfigError{Path: path, Err: err}
	}

	return &cfg, nil
}

// applyEnvOverrides applies CAMERA_IP / CAMERA_PORT / CAMERA_USERNAME /
// CAMERA_PASSWORD and ONVIF_WSDL_PATH, which spec.md §6 says take
// precedence over config values, to every onvif camera.
func applyEnvOverrides(cfg *NodeConfig) {
	ip := os.Getenv("CAMERA_IP")
	port := os.Getenv("CAMERA_PORT")
	user := os.Getenv("CAMERA_USERNAME")
	pass := os.Getenv("CAMERA_PASSWORD")
	wsdl := os.Getenv("ONVIF_WSDL_PATH")

	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if cam.ONVIF == nil {
			continue
		}
		if ip != "" {
			cam.ONVIF.Address = ip
		}
		if port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				cam.ONVIF.Port = p
			}
		}
		if user != "" {
			cam.ONVIF.Username = user
		}
		if pass != "" {
			cam.ONVIF.Password = pass
		}
		if wsdl != "" {
			cam.ONVIF.WSDLDir = wsdl
		}
	}
}

// applyDefaults fills in zero-value fields that spec.md documents defaults
// for, mirroring the teacher's DefaultUpload/DefaultImageProcessing pattern.
func applyDefaults(cfg *NodeConfig) {
	if cfg.Advanced.PollingIntervalSec <= 0 {
		cfg.Advanced.PollingIntervalSec = 1
	}
	if cfg.Advanced.ReconnectDelaySec <= 0 {
		cfg.Advanced.ReconnectDelaySec = 2
	}
	if cfg.Advanced.ReconnectAttempts <= 0 {
		cfg.Advanced.ReconnectAttempts = 3
	}
	if cfg.Advanced.CameraInitWaitSec <= 0 {
		cfg.Advanced.CameraInitWaitSec = 1
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = 7
	}
	if cfg.Storage.MaxSizeGB <= 0 {
		cfg.Storage.MaxSizeGB = 5
	}
	if cfg.Storage.CleanupThresholdGB <= 0 {
		cfg.Storage.CleanupThresholdGB = cfg.Storage.MaxSizeGB * 0.8
	}
	if cfg.Server.TimeoutSec <= 0 {
		cfg.Server.TimeoutSec = 30
	}
	if cfg.Monitoring.HealthCheckIntervalSec <= 0 {
		cfg.Monitoring.HealthCheckIntervalSec = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.MaxSizeBytes <= 0 {
		cfg.Logging.MaxSizeBytes = 10 * 1024 * 1024
	}
	if cfg.Logging.BackupCount <= 0 {
		cfg.Logging.BackupCount = 5
	}
}

// ReloadDiff describes the outcome of reloading config on SIGHUP: which
// whitelisted fields actually changed (applied live) and which changed
// fields fell outside the whitelist (logged as requiring restart).
type ReloadDiff struct {
	Applied          []string
	RequiresRestart  []string
}

// Reload re-reads path and reports which changed fields from newCfg may be
// applied live onto cur, per the §4.5 whitelist. Callers apply the
// whitelisted deltas onto the live config themselves; Reload only classifies.
func Reload(path string, cur *NodeConfig) (*NodeConfig, ReloadDiff, error) {
	newCfg, err := Load(path)
	if err != nil {
		return nil, ReloadDiff{}, err
	}

	var diff ReloadDiff

	if cur.Logging.Level != newCfg.Logging.Level {
		diff.Applied = append(diff.Applied, "logging.level")
	}
	if cur.Monitoring != newCfg.Monitoring {
		diff.Applied = append(diff.Applied, "monitoring.*")
	}
	if cur.Server.URL != newCfg.Server.URL || cur.Server.AuthToken != newCfg.Server.AuthToken ||
		cur.Server.TimeoutSec != newCfg.Server.TimeoutSec || cur.Server.SSLVerify != newCfg.Server.SSLVerify {
		diff.Applied = append(diff.Applied, "server.{url,auth_token,timeout,ssl_verify}")
	}
	if cur.Advanced.PollingIntervalSec != newCfg.Advanced.PollingIntervalSec ||
		cur.Advanced.ReconnectDelaySec != newCfg.Advanced.ReconnectDelaySec ||
		cur.Advanced.ReconnectAttempts != newCfg.Advanced.ReconnectAttempts {
		diff.Applied = append(diff.Applied, "advanced.{polling_interval,reconnect_*}")
	}

	if len(cur.Cameras) != len(newCfg.Cameras) {
		diff.RequiresRestart = append(diff.RequiresRestart, "cameras")
	} else {
		for i := range cur.Cameras {
			if !camerasEqual(cur.Cameras[i], newCfg.Cameras[i]) {
				diff.RequiresRestart = append(diff.RequiresRestart, "cameras")
				break
			}
		}
	}
	if cur.Storage.BasePath != newCfg.Storage.BasePath {
		diff.RequiresRestart = append(diff.RequiresRestart, "storage.base_path")
	}
	if (cur.Network == nil) != (newCfg.Network == nil) ||
		(cur.Network != nil && newCfg.Network != nil && *cur.Network != *newCfg.Network) {
		diff.RequiresRestart = append(diff.RequiresRestart, "network.*")
	}
	if cur.Device != newCfg.Device {
		diff.RequiresRestart = append(diff.RequiresRestart, "device.*")
	}

	return newCfg, diff, nil
}

func camerasEqual(a, b Camera) bool {
	// Cameras carry kind-specific pointer fields; a shallow struct compare
	// isn't possible, so compare the fields that matter for "needs restart".
	if a.ID != b.ID || a.Kind != b.Kind || a.CaptureIntervalSeconds != b.CaptureIntervalSeconds {
		return false
	}
	switch a.Kind {
	case KindDirect:
		return directEqual(a.Direct, b.Direct)
	case KindStream:
		return a.Stream != nil && b.Stream != nil && *a.Stream == *b.Stream
	case KindONVIF:
		return a.ONVIF != nil && b.ONVIF != nil && *a.ONVIF == *b.ONVIF
	}
	return true
}

func directEqual(a, b *DirectCamera) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DevicePath == b.DevicePath
}
