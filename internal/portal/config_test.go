package portal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfigYAML = `
device:
  id: node1
cameras:
  - id: cam1
    kind: direct
    capture_interval_seconds: 10
    position: front
  - id: cam2
    kind: direct
    capture_interval_seconds: 10
storage:
  base_path: /data
`

func TestWriteCameraPositionUpdatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writeCameraPosition(path, "cam1", "back"); err != nil {
		t.Fatalf("writeCameraPosition() error = %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "position: back") {
		t.Errorf("expected rewritten position, got:\n%s", out)
	}
	if !strings.Contains(string(out), "id: cam2") {
		t.Errorf("expected cam2 to survive the rewrite, got:\n%s", out)
	}
}

func TestWriteCameraPositionAddsMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writeCameraPosition(path, "cam2", "side"); err != nil {
		t.Fatalf("writeCameraPosition() error = %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "position: side") {
		t.Errorf("expected new position field, got:\n%s", out)
	}
}

func TestWriteCameraPositionUnknownCamera(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writeCameraPosition(path, "does-not-exist", "back"); err == nil {
		t.Error("expected an error for an unknown camera id")
	}
}

func TestWriteDottedConfigKeyCreatesIntermediateMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteDottedConfigKey(path, "monitoring.max_cpu_percent", "90"); err != nil {
		t.Fatalf("WriteDottedConfigKey() error = %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "max_cpu_percent: \"90\"") && !strings.Contains(string(out), "max_cpu_percent: 90") {
		t.Errorf("expected new nested key, got:\n%s", out)
	}
	if !strings.Contains(string(out), "id: cam2") {
		t.Errorf("expected existing content to survive the rewrite, got:\n%s", out)
	}
}

func TestWriteDottedConfigKeyUpdatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteDottedConfigKey(path, "storage.base_path", "/other"); err != nil {
		t.Fatalf("WriteDottedConfigKey() error = %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "base_path: /other") {
		t.Errorf("expected rewritten base_path, got:\n%s", out)
	}
}

func TestWriteDottedConfigKeyRejectsNonMappingSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteDottedConfigKey(path, "device.id.nested", "x"); err == nil {
		t.Error("expected an error when a path segment is not a mapping")
	}
}
