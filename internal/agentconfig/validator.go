package agentconfig

import "fmt"

// Validate enforces the structural constraints spec.md §3/§6 require before
// the supervisor builds CameraInstances from this config.
func Validate(cfg *NodeConfig) error {
	if cfg.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if cfg.Storage.BasePath == "" {
		return fmt.Errorf("storage.base_path is required")
	}

	seen := make(map[string]bool, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: id is required", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("cameras[%d]: duplicate camera id %q", i, cam.ID)
		}
		seen[cam.ID] = true

		if cam.CaptureIntervalSeconds <= 0 {
			return fmt.Errorf("camera %s: capture_interval_seconds must be > 0", cam.ID)
		}

		switch cam.Kind {
		case KindDirect:
			if cam.Direct == nil {
				return fmt.Errorf("camera %s: kind=direct requires a direct block", cam.ID)
			}
		case KindStream:
			if cam.Stream == nil || cam.Stream.StreamURL == "" {
				return fmt.Errorf("camera %s: kind=stream requires stream.stream_url", cam.ID)
			}
		case KindONVIF:
			if cam.ONVIF == nil || cam.ONVIF.Address == "" {
				return fmt.Errorf("camera %s: kind=onvif requires onvif.address", cam.ID)
			}
		default:
			return fmt.Errorf("camera %s: unknown kind %q", cam.ID, cam.Kind)
		}
	}

	if cfg.Fleet != nil && cfg.Fleet.Token != "" && len(cfg.Fleet.AllowedConfigKeys) == 0 {
		// Not an error: a fleet token with no allowed keys simply means
		// /api/fleet/config always returns ForbiddenConfigKey. Worth nothing
		// more than a validation pass-through.
		_ = cfg.Fleet
	}

	return nil
}
