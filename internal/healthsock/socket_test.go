package healthsock

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sai-cam/agentd/internal/health"
)

func startTestServer(t *testing.T, h Handlers) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "health.sock")
	srv, err := Listen(path, h, nil)
	if err != nil {
		t.Fatal(err)
	}
	stopCh := make(chan struct{})
	go srv.Serve(stopCh)
	t.Cleanup(func() {
		close(stopCh)
		srv.Close()
	})
	return srv, path
}

func roundTrip(t *testing.T, path string, cmd Command) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealthCommandReturnsSnapshot(t *testing.T) {
	_, path := startTestServer(t, Handlers{
		Health: func() health.Snapshot {
			return health.Snapshot{NodeID: "node1"}
		},
	})
	resp := roundTrip(t, path, Command{Action: "health"})
	if resp.Health == nil || resp.Health.NodeID != "node1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestForceCaptureNotFound(t *testing.T) {
	_, path := startTestServer(t, Handlers{
		ForceCapture: func(id string) bool { return false },
	})
	resp := roundTrip(t, path, Command{Action: "force_capture", CameraID: "ghost"})
	if resp.Error != "not found" {
		t.Fatalf("Error = %q, want not found", resp.Error)
	}
}

func TestForceCaptureFound(t *testing.T) {
	var got string
	_, path := startTestServer(t, Handlers{
		ForceCapture: func(id string) bool { got = id; return true },
	})
	resp := roundTrip(t, path, Command{Action: "force_capture", CameraID: "cam1"})
	if !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if got != "cam1" {
		t.Errorf("ForceCapture called with %q, want cam1", got)
	}
}

func TestRestartCameraReturnsAction(t *testing.T) {
	_, path := startTestServer(t, Handlers{
		RestartCamera: func(id string) (string, error) { return "restarted", nil },
	})
	resp := roundTrip(t, path, Command{Action: "restart_camera", CameraID: "cam1"})
	if !resp.OK || resp.Action != "restarted" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUnknownActionReturnsError(t *testing.T) {
	_, path := startTestServer(t, Handlers{})
	resp := roundTrip(t, path, Command{Action: "bogus"})
	if resp.Error != "unknown action" {
		t.Fatalf("Error = %q, want unknown action", resp.Error)
	}
}
