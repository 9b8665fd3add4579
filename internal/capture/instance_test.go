package capture

import (
	"context"
	"testing"
	"time"

	"github.com/sai-cam/agentd/internal/adapter"
	"github.com/sai-cam/agentd/internal/agentclock"
	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/camstate"
	"github.com/sai-cam/agentd/internal/health"
	"github.com/sai-cam/agentd/internal/storage"
	"github.com/sai-cam/agentd/internal/upload"
)

type fakeAdapter struct {
	frame      *adapter.Frame
	err        error
	cleanedUp  bool
	reconnects int
}

func (f *fakeAdapter) Setup(ctx context.Context) error { return nil }
func (f *fakeAdapter) CaptureFrame(ctx context.Context) (*adapter.Frame, error) {
	return f.frame, f.err
}
func (f *fakeAdapter) GrabFrame(ctx context.Context) bool { return true }
func (f *fakeAdapter) Reconnect(ctx context.Context) error {
	f.reconnects++
	return nil
}
func (f *fakeAdapter) Cleanup()                  { f.cleanedUp = true }
func (f *fakeAdapter) GetInfo() map[string]any   { return map[string]any{"kind": "fake"} }

func newTestInstance(t *testing.T, a *fakeAdapter) (*Instance, chan upload.Item) {
	t.Helper()
	cam := agentconfig.Camera{ID: "cam1", Kind: agentconfig.KindDirect, CaptureIntervalSeconds: 0, Position: "front"}
	clock := agentclock.NewFake(time.Unix(1700000000, 0))
	tracker := camstate.New("cam1", time.Second, clock, nil, nil)
	mgr, err := storage.New(storage.Config{BasePath: t.TempDir(), MaxSizeGB: 1, CleanupThresholdGB: 0.8, RetentionDays: 7}, nil)
	if err != nil {
		t.Fatal(err)
	}
	uploadCh := make(chan upload.Item, 4)

	in := New(Config{
		Camera:       cam,
		Adapter:      a,
		Tracker:      tracker,
		Storage:      mgr,
		UploadQueue:  uploadCh,
		Sampler:      health.Sampler{DiskPath: t.TempDir()},
		Identity:     NodeIdentity{DeviceID: "node1", Version: "0.1.0", StartedAt: clock.Now()},
		Clock:        clock,
		PollInterval: time.Millisecond,
	})
	return in, uploadCh
}

func TestRunStoresAndEnqueuesOnSuccess(t *testing.T) {
	a := &fakeAdapter{frame: &adapter.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 10, Height: 10}}
	in, uploadCh := newTestInstance(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()

	select {
	case item := <-uploadCh:
		if item.SourceCameraID != "cam1" {
			t.Errorf("SourceCameraID = %q, want cam1", item.SourceCameraID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload item")
	}

	in.Stop()
	<-done
	if !a.cleanedUp {
		t.Error("expected adapter.Cleanup() to be called on stop")
	}
}

func TestRunRecordsFailureAndReconnects(t *testing.T) {
	a := &fakeAdapter{frame: nil, err: &adapter.CaptureError{CameraID: "cam1", Message: "boom"}}
	in, _ := newTestInstance(t, a)
	in.tracker = camstate.New("cam1", time.Millisecond, agentclock.NewFake(time.Unix(1700000000, 0)), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	in.Run(ctx)

	if a.reconnects == 0 {
		t.Error("expected at least one reconnect attempt after repeated failures")
	}
}

func TestForceCaptureBypassesInterval(t *testing.T) {
	a := &fakeAdapter{frame: &adapter.Frame{Data: []byte{0xFF, 0xD8}, Width: 1, Height: 1}}
	in, uploadCh := newTestInstance(t, a)
	in.cfg.CaptureIntervalSeconds = 3600 // would otherwise block a second capture

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go in.Run(ctx)

	<-uploadCh // first capture always proceeds (lastCapture zero value)
	in.ForceCapture()

	select {
	case <-uploadCh:
	case <-time.After(2 * time.Second):
		t.Fatal("forced capture did not bypass the interval")
	}
	in.Stop()
}
