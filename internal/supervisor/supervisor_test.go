package supervisor

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := &agentconfig.NodeConfig{
		Device:  agentconfig.Device{ID: "node1", Location: "bench"},
		Storage: agentconfig.Storage{BasePath: t.TempDir(), MaxSizeGB: 1, CleanupThresholdGB: 0.8, RetentionDays: 7},
		Server:  agentconfig.Server{URL: "https://ingest.invalid/upload", TimeoutSec: 5},
		Monitoring: agentconfig.Monitoring{HealthCheckIntervalSec: 60, MaxCPUPercent: 90, MaxMemoryPercent: 90},
		Advanced:   agentconfig.Advanced{PollingIntervalSec: 1, ReconnectDelaySec: 1, CameraInitWaitSec: 1},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sockPath := filepath.Join(t.TempDir(), "agentd.sock")
	s, err := New(cfg, filepath.Join(t.TempDir(), "config.yaml"), sockPath, Options{Version: "test"}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestRetryInterval(t *testing.T) {
	tests := []struct {
		name               string
		captureIntervalSec int
		attempts           int
		want               time.Duration
	}{
		{"first attempt, no backoff yet", 10, 1, 10 * time.Second},
		{"second attempt doubles", 10, 2, 20 * time.Second},
		{"third attempt quadruples", 10, 3, 40 * time.Second},
		{"caps at 12x", 10, 10, 120 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryInterval(tt.captureIntervalSec, tt.attempts)
			if got != tt.want {
				t.Errorf("retryInterval(%d, %d) = %v, want %v", tt.captureIntervalSec, tt.attempts, got, tt.want)
			}
		})
	}
}

func TestBoolFlag(t *testing.T) {
	var f boolFlag
	if f.Get() {
		t.Fatal("zero-value boolFlag should read false")
	}
	f.Set(true)
	if !f.Get() {
		t.Fatal("expected Get() to return true after Set(true)")
	}
	f.Set(false)
	if f.Get() {
		t.Fatal("expected Get() to return false after Set(false)")
	}
}

func TestForceCaptureUnknownCamera(t *testing.T) {
	s := newTestSupervisor(t)
	if s.ForceCapture("does-not-exist") {
		t.Error("ForceCapture should report false for an unknown camera id")
	}
}

func TestRestartCameraUnknownCamera(t *testing.T) {
	s := newTestSupervisor(t)
	if _, err := s.RestartCamera("does-not-exist"); err == nil {
		t.Error("RestartCamera should error for an unknown camera id")
	}
}

func TestSnapshotWithNoCameras(t *testing.T) {
	s := newTestSupervisor(t)
	snap := s.Snapshot()

	if snap.NodeID != "node1" {
		t.Errorf("NodeID = %q, want node1", snap.NodeID)
	}
	if len(snap.Cameras) != 0 {
		t.Errorf("Cameras = %v, want empty", snap.Cameras)
	}
	if len(snap.Failed) != 0 {
		t.Errorf("Failed = %v, want empty", snap.Failed)
	}
	if snap.Counters.ChecksPerformed != 1 {
		t.Errorf("ChecksPerformed = %d, want 1 after a single Snapshot call", snap.Counters.ChecksPerformed)
	}
}

func TestConfigReturnsLiveConfig(t *testing.T) {
	s := newTestSupervisor(t)
	if got := s.Config(); got.Device.ID != "node1" {
		t.Errorf("Config().Device.ID = %q, want node1", got.Device.ID)
	}
}
