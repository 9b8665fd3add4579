package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

// StreamAdapter captures single still frames from an RTSP stream via
// ffmpeg, ported from the teacher's RTSPCamera. Reads are mutex-guarded: a
// read failure flags the adapter disconnected but it does not run its own
// reconnect loop, since CameraInstance is the loop owner (spec.md §4.2).
type StreamAdapter struct {
	cameraID string
	cfg      agentconfig.Camera
	initWait time.Duration
	runner   ffmpegRunner
	timeout  time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	connected    bool
	disconnected bool
}

// NewStreamAdapter builds a StreamAdapter for cam. logger may be nil.
func NewStreamAdapter(cam agentconfig.Camera, initWait time.Duration, ffmpegDebug bool, logger *slog.Logger) (*StreamAdapter, error) {
	if cam.Stream == nil || cam.Stream.StreamURL == "" {
		return nil, fmt.Errorf("stream camera %s: missing stream.stream_url", cam.ID)
	}
	return &StreamAdapter{
		cameraID: cam.ID,
		cfg:      cam,
		initWait: initWait,
		runner:   execRunner{debug: ffmpegDebug},
		timeout:  20 * time.Second,
		logger:   logger,
	}, nil
}

// Setup waits camera_init_wait then reads a probe frame over TCP transport.
func (a *StreamAdapter) Setup(ctx context.Context) error {
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
		return &CaptureError{CameraID: a.cameraID, Message: "probe frame was empty"}
	}

	a.mu.Lock()
	a.connected = true
	a.disconnected = false
	a.mu.Unlock()
	return nil
}

// CaptureFrame pulls one frame over TCP transport, mutex-guarded against
// concurrent GrabFrame calls.
func (a *StreamAdapter) CaptureFrame(ctx context.Context) (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	captureCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{
		"-rtsp_transport", "tcp",
		"-i", a.cfg.Stream.StreamURL,
		"-vframes", "1",
		"-f", "image2",
		"-vcodec", "mjpeg",
		"-y", "pipe:1",
	}

	data, err := a.runner.Run(captureCtx, args)
	if err != nil {
		a.disconnected = true
		if captureCtx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{CameraID: a.cameraID, Timeout: a.timeout}
		}
		msg := err.Error()
		if strings.Contains(msg, "401") || strings.Contains(strings.ToLower(msg), "unauthorized") {
			if a.logger != nil {
				a.logger.Warn("RTSP authentication failed", "camera_id", a.cameraID)
			}
			return nil, &AuthError{CameraID: a.cameraID, Message: "RTSP authentication failed"}
		}
		if a.logger != nil {
			a.logger.Debug("ffmpeg capture failed", "camera_id", a.cameraID, "error", err)
		}
		return nil, &CaptureError{CameraID: a.cameraID, Message: "ffmpeg capture failed", Err: err}
	}
	if len(data) == 0 {
		a.disconnected = true
		return nil, &CaptureError{CameraID: a.cameraID, Message: "ffmpeg returned empty output"}
	}
	return &Frame{Data: data, Width: a.cfg.Resolution.Width, Height: a.cfg.Resolution.Height}, nil
}

// GrabFrame drains a single buffered frame to keep the stream alive between
// scheduled captures; failures here are not fatal to the camera's tracked
// state, they only update the disconnected flag.
func (a *StreamAdapter) GrabFrame(ctx context.Context) bool {
	frame, err := a.CaptureFrame(ctx)
	return err == nil && frame.Valid()
}

// Reconnect executes Cleanup then Setup.
func (a *StreamAdapter) Reconnect(ctx context.Context) error {
	a.Cleanup()
	return a.Setup(ctx)
}

// Cleanup marks the stream disconnected. There is no persistent ffmpeg
// process to release since each capture is a fresh invocation.
func (a *StreamAdapter) Cleanup() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

// GetInfo returns diagnostic fields surfaced through the health snapshot.
func (a *StreamAdapter) GetInfo() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]any{
		"kind":         "stream",
		"url":          redactStreamURL(a.cfg.Stream.StreamURL),
		"connected":    a.connected,
		"disconnected": a.disconnected,
	}
}

func redactStreamURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	username := u.User.Username()
	u.User = url.UserPassword(username, "***")
	return u.String()
}
