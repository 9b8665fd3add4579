package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

// ffmpegRunner abstracts process execution so tests can substitute a fake,
// grounded on CarlosSprekelsen-CameraRecorder's V4L2CommandExecutor
// abstraction over shelling out to v4l2 tooling.
type ffmpegRunner interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

type execRunner struct {
	debug bool
}

func (r execRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if r.debug && stderr.Len() > 0 {
		fmt.Fprintln(os.Stderr, stderr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, firstLine(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// DirectAdapter captures single still frames from a locally-attached V4L2
// device by shelling out to ffmpeg, the pragmatic cgo-free approach the
// broader pack's camera agents use (see SPEC_FULL.md DOMAIN STACK notes).
// Access to the device is single-producer: a mutex serializes capture and
// reconnect against concurrent entry.
type DirectAdapter struct {
	cameraID string
	cfg      agentconfig.Camera
	initWait time.Duration
	runner   ffmpegRunner
	logger   *slog.Logger

	mu     sync.Mutex
	device string
	opened bool
}

// NewDirectAdapter builds a DirectAdapter for cam. device_path is preferred
// when present and exists; otherwise device_index; otherwise index 0.
// logger may be nil.
func NewDirectAdapter(cam agentconfig.Camera, initWait time.Duration, ffmpegDebug bool, logger *slog.Logger) (*DirectAdapter, error) {
	if cam.Direct == nil {
		return nil, fmt.Errorf("direct camera %s: missing direct config", cam.ID)
	}
	return &DirectAdapter{
		cameraID: cam.ID,
		cfg:      cam,
		initWait: initWait,
		runner:   execRunner{debug: ffmpegDebug},
		logger:   logger,
	}, nil
}

func (a *DirectAdapter) resolveDevice() string {
	d := a.cfg.Direct
	if d.DevicePath != "" {
		if _, err := os.Stat(d.DevicePath); err == nil {
			return d.DevicePath
		}
	}
	if d.DeviceIndex != nil {
		return "/dev/video" + strconv.Itoa(*d.DeviceIndex)
	}
	return "/dev/video0"
}

// Setup opens the device, waits camera_init_wait for it to stabilize, and
// reads one probe frame. A device that "exists" but produces no frame is
// treated as a setup failure.
func (a *DirectAdapter) Setup(ctx context.Context) error {
	a.mu.Lock()
	a.device = a.resolveDevice()
	a.mu.Unlock()

	if _, err := os.Stat(a.device); err != nil {
		return &CaptureError{CameraID: a.cameraID, Message: "device not found: " + a.device, Err: err}
	}

	if a.initWait > 0 {
		select {
		case <-time.After(a.initWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	frame, err := a.CaptureFrame(ctx)
	if err != nil {
		return err
	}
	if !frame.Valid() {
		a.Cleanup()
		return &CaptureError{CameraID: a.cameraID, Message: "probe frame was empty"}
	}

	a.mu.Lock()
	a.opened = true
	a.mu.Unlock()
	return nil
}

// CaptureFrame invokes ffmpeg to pull one frame from the device, applying
// brightness/contrast/saturation hints when configured. The auto_exposure
// setting is not applied.
func (a *DirectAdapter) CaptureFrame(ctx context.Context) (*Frame, error) {
	a.mu.Lock()
	device := a.device
	a.mu.Unlock()
	if device == "" {
		device = a.resolveDevice()
	}

	args := []string{"-f", "v4l2"}
	if w, h := a.cfg.Resolution.Width, a.cfg.Resolution.Height; w > 0 && h > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", w, h))
	}
	if a.cfg.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(a.cfg.FPS))
	}
	args = append(args, "-i", device)

	if vf := buildVideoFilter(a.cfg.Direct); vf != "" {
		args = append(args, "-vf", vf)
	}

	args = append(args, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-y", "pipe:1")

	data, err := a.runner.Run(ctx, args)
	if err != nil {
		if a.logger != nil {
			a.logger.Debug("ffmpeg capture failed", "camera_id", a.cameraID, "device", device, "error", err)
		}
		if isTimeoutError(err) || ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{CameraID: a.cameraID}
		}
		return nil, &CaptureError{CameraID: a.cameraID, Message: "ffmpeg capture", Err: err}
	}
	if len(data) == 0 {
		return nil, &CaptureError{CameraID: a.cameraID, Message: "empty frame"}
	}
	return &Frame{Data: data, Width: a.cfg.Resolution.Width, Height: a.cfg.Resolution.Height}, nil
}

// buildVideoFilter translates brightness/contrast/saturation hints into an
// ffmpeg eq= filter. auto_exposure is ignored here and is not passed to
// ffmpeg anywhere else in this adapter either.
func buildVideoFilter(d *agentconfig.DirectCamera) string {
	if d == nil {
		return ""
	}
	parts := ""
	if d.Brightness != nil {
		parts += fmt.Sprintf("brightness=%.2f:", float64(*d.Brightness)/100)
	}
	if d.Contrast != nil {
		parts += fmt.Sprintf("contrast=%.2f:", float64(*d.Contrast)/100+1)
	}
	if d.Saturation != nil {
		parts += fmt.Sprintf("saturation=%.2f:", float64(*d.Saturation)/100+1)
	}
	if parts == "" {
		return ""
	}
	return "eq=" + parts[:len(parts)-1]
}

// GrabFrame is a no-op: the direct adapter has no buffered stream to drain.
func (a *DirectAdapter) GrabFrame(ctx context.Context) bool { return false }

// Reconnect executes Cleanup then Setup.
func (a *DirectAdapter) Reconnect(ctx context.Context) error {
	a.Cleanup()
	return a.Setup(ctx)
}

// Cleanup marks the device handle closed. ffmpeg is invoked per-capture so
// there is no persistent handle to release.
func (a *DirectAdapter) Cleanup() {
	a.mu.Lock()
	a.opened = false
	a.mu.Unlock()
}

// GetInfo returns diagnostic fields surfaced through the health snapshot.
func (a *DirectAdapter) GetInfo() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"kind":   "direct",
		"device": a.device,
		"opened": a.opened,
	}
}
