// Package health assembles the HealthSnapshot (spec.md §3) and samples
// system resource usage for the monitor loop, grounded on the wider
// pack's use of github.com/shirou/gopsutil/v3 for exactly this kind of
// cross-platform CPU/memory/disk sampling (see
// CarlosSprekelsen-CameraRecorder/mediamtx-camera-service-go's
// system_metrics_manager.go, generalized here from a single "/" disk
// check to the configured storage base path and onto gopsutil's v3
// cpu/mem/disk/host packages rather than its older ungrouped ones).
package health

import (
	"context"
	"time"

	"github.com/beevik/ntp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics is the system snapshot embedded in both the HealthSnapshot
// and /api/status/system.
type SystemMetrics struct {
	CPUPercent     float64  `json:"cpu_percent"`
	MemoryPercent  float64  `json:"memory_percent"`
	DiskPercent    float64  `json:"disk_percent"`
	CPUTempCelsius *float64 `json:"cpu_temp_celsius,omitempty"`

	// ClockDriftSeconds/NTPHealthy are only populated when Sampler.NTPServer
	// is configured. An unreachable server sets NTPHealthy to false and
	// leaves ClockDriftSeconds unset rather than failing the sample.
	ClockDriftSeconds *float64 `json:"clock_drift_seconds,omitempty"`
	NTPHealthy        *bool    `json:"ntp_healthy,omitempty"`
}

// Sampler reads system resource usage. Its zero value is ready to use.
type Sampler struct {
	// DiskPath is the filesystem path whose usage is reported as
	// disk_percent; normally the storage base_path.
	DiskPath string

	// NTPServer, if set, is queried once per Sample call to cross-check
	// the local clock (SPEC_FULL.md DOMAIN STACK: github.com/beevik/ntp,
	// a teacher dep otherwise unused by this component set).
	NTPServer string
}

// Sample gathers one SystemMetrics reading. Any individual collector that
// fails leaves its field at zero rather than aborting the whole sample —
// the health-monitor loop runs on a fixed cadence and a single bad read
// shouldn't skip a cycle for the others.
func (s Sampler) Sample(ctx context.Context) SystemMetrics {
	var m SystemMetrics

	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryPercent = vm.UsedPercent
	}
	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	if du, err := disk.UsageWithContext(ctx, path); err == nil {
		m.DiskPercent = du.UsedPercent
	}
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			if t.Temperature > 0 {
				v := t.Temperature
				m.CPUTempCelsius = &v
				break
			}
		}
	}
	if s.NTPServer != "" {
		resp, err := ntp.QueryWithOptions(s.NTPServer, ntp.QueryOptions{Timeout: 2 * time.Second})
		healthy := err == nil && resp.Validate() == nil
		m.NTPHealthy = &healthy
		if healthy {
			drift := resp.ClockOffset.Seconds()
			m.ClockDriftSeconds = &drift
		}
	}
	return m
}

// Counters accumulates the coarse health counters the snapshot reports:
// checks performed and warnings/errors observed since process start.
// It carries no lock of its own: the supervisor guards every mutation
// (from the health-monitor loop and from each Snapshot call) with its
// counters mutex.
type Counters struct {
	ChecksPerformed int `json:"checks_performed"`
	Warnings        int `json:"warnings"`
	Errors          int `json:"errors"`
}

// CameraRuntimeView mirrors camstate.Status plus the identifying fields a
// snapshot consumer needs without importing camstate's internal types
// directly (spec.md §3 CameraRuntimeState, projected for the wire).
type CameraRuntimeView struct {
	CameraID           string  `json:"camera_id"`
	State              string  `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	BackoffMultiplier  int     `json:"backoff_multiplier"`
	LastError          string  `json:"last_error,omitempty"`
}

// FailedCameraView mirrors a supervisor FailedCameraEntry.
type FailedCameraView struct {
	CameraID        string    `json:"camera_id"`
	Attempts        int       `json:"attempts"`
	NextRetryAt     time.Time `json:"next_retry_at"`
}

// Snapshot is the HealthSnapshot document (spec.md §3), assembled on
// demand by the supervisor and served both over the IPC socket and
// proxied through the ControlPortal.
type Snapshot struct {
	Timestamp    time.Time                    `json:"timestamp"`
	NodeVersion  string                       `json:"node_version"`
	NodeID       string                       `json:"node_id"`
	UptimeSec    float64                      `json:"uptime_seconds"`
	System       SystemMetrics                `json:"system"`
	Cameras      []CameraRuntimeView          `json:"cameras"`
	Failed       []FailedCameraView           `json:"failed_cameras"`
	ThreadAlive  map[string]bool              `json:"thread_alive"`
	Counters     Counters                     `json:"counters"`
}
