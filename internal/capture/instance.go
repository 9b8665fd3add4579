// Package capture implements CameraInstance (spec.md §4.3): the per-camera
// cooperative loop that glues one Adapter to one camstate.Tracker, hands
// successful captures to StorageManager and the upload queue, and exposes
// a stop() a supervisor can call for graceful shutdown. Grounded on the
// teacher's per-camera worker loop in cmd/bridge (poll, capture, annotate,
// persist, repeat) generalized from its fixed HTTP/RTSP/ONVIF capture
// calls to the adapter.Adapter interface.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sai-cam/agentd/internal/adapter"
	"github.com/sai-cam/agentd/internal/agentclock"
	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/camstate"
	"github.com/sai-cam/agentd/internal/health"
	img "github.com/sai-cam/agentd/internal/image"
	"github.com/sai-cam/agentd/internal/storage"
	"github.com/sai-cam/agentd/internal/upload"
)

// NodeIdentity is the device-level information every ImageMetadata
// document carries, constant for the process lifetime.
type NodeIdentity struct {
	DeviceID    string
	Location    string
	Description string
	Version     string
	StartedAt   time.Time
}

// ImageMetadata is the JSON sidecar written alongside every stored frame
// and delivered as the "metadata" multipart part (spec.md §3).
type ImageMetadata struct {
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	CameraID    string    `json:"camera_id"`
	Location    string    `json:"location"`
	Version     string    `json:"software_version"`
	CameraKind  string    `json:"camera_kind"`

	Device struct {
		UptimeSeconds float64 `json:"uptime_seconds"`
		Description   string  `json:"description"`
	} `json:"device"`

	System health.SystemMetrics `json:"system"`

	Camera struct {
		CaptureIntervalSeconds int    `json:"capture_interval_seconds"`
		Position               string `json:"position"`
		Width                  int    `json:"configured_width"`
		Height                 int    `json:"configured_height"`
	} `json:"camera"`

	Image struct {
		AverageBrightness float64 `json:"average_brightness"`
		Width             int     `json:"width"`
		Height            int     `json:"height"`
	} `json:"image"`

	Environment struct {
		CapturedUTC        time.Time `json:"captured_utc"`
		TimezoneOffsetMin  int       `json:"timezone_offset_minutes"`
	} `json:"environment"`
}

// Instance owns one adapter, one tracker, one force-capture signal, and
// runs CameraInstance's cooperative loop in Run until its context is
// cancelled or Stop is called.
type Instance struct {
	cfg      agentconfig.Camera
	adapter  adapter.Adapter
	tracker  *camstate.Tracker
	storage  *storage.Manager
	uploadCh chan<- upload.Item
	sampler  health.Sampler
	identity NodeIdentity
	clock    agentclock.Clock
	logger   *slog.Logger

	pollInterval time.Duration
	reconnectDelay time.Duration

	forceCapture atomic.Bool
	stopOnce     sync.Once
	stopCh       chan struct{}

	lastCapture time.Time
}

// Config bundles the dependencies New needs beyond the camera's own
// configuration block.
type Config struct {
	Camera         agentconfig.Camera
	Adapter        adapter.Adapter
	Tracker        *camstate.Tracker
	Storage        *storage.Manager
	UploadQueue    chan<- upload.Item
	Sampler        health.Sampler
	Identity       NodeIdentity
	Clock          agentclock.Clock
	Logger         *slog.Logger
	PollInterval   time.Duration
	ReconnectDelay time.Duration
}

// New builds an Instance ready for Run.
func New(cfg Config) *Instance {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Instance{
		cfg:            cfg.Camera,
		adapter:        cfg.Adapter,
		tracker:        cfg.Tracker,
		storage:        cfg.Storage,
		uploadCh:       cfg.UploadQueue,
		sampler:        cfg.Sampler,
		identity:       cfg.Identity,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		pollInterval:   poll,
		reconnectDelay: cfg.ReconnectDelay,
		stopCh:         make(chan struct{}),
	}
}

// ForceCapture sets the force-capture signal the next loop iteration will
// observe and clear (spec.md §4.3 step 2, and the IPC "force_capture"
// command of §4.6).
func (in *Instance) ForceCapture() { in.forceCapture.Store(true) }

// Stop tells the loop to exit at its next yield and releases the adapter.
// It is safe to call multiple times and from a goroutine other than Run's.
func (in *Instance) Stop() {
	in.stopOnce.Do(func() { close(in.stopCh) })
}

// Run executes the cooperative loop until ctx is cancelled or Stop is
// called. It returns only on shutdown; transient failures are handled
// internally via the tracker and never propagate out.
func (in *Instance) Run(ctx context.Context) {
	defer in.adapter.Cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.stopCh:
			return
		default:
		}

		if !in.tracker.ShouldAttemptCapture() {
			if in.cfg.Kind == agentconfig.KindStream {
				in.adapter.GrabFrame(ctx)
			}
			if !in.sleep(ctx, in.pollInterval) {
				return
			}
			continue
		}

		forced := in.forceCapture.CompareAndSwap(true, false)
		interval := time.Duration(in.cfg.CaptureIntervalSeconds) * time.Second
		if !forced && interval > 0 && in.clock.Now().Sub(in.lastCapture) < interval {
			if !in.sleep(ctx, in.pollInterval) {
				return
			}
			continue
		}

		frame, err := in.adapter.CaptureFrame(ctx)
		if err != nil || !frame.Valid() {
			reason := "invalid frame"
			if err != nil {
				reason = err.Error()
			}
			attemptNow := in.tracker.RecordFailure(reason)
			if attemptNow {
				if rerr := in.adapter.Reconnect(ctx); rerr != nil && in.logger != nil {
					in.logger.Debug("reconnect failed", "camera_id", in.cfg.ID, "error", rerr)
				}
			}
			wait := in.tracker.TimeUntilNextAttempt()
			if wait > 10*time.Second {
				wait = 10 * time.Second
			}
			if wait < time.Second {
				wait = time.Second
			}
			if !in.sleep(ctx, wait) {
				return
			}
			continue
		}

		in.tracker.RecordSuccess()
		in.onCaptureSuccess(ctx, frame)
		in.lastCapture = in.clock.Now()
	}
}

func (in *Instance) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-in.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// onCaptureSuccess overlays the timestamp/camera-id label, builds
// ImageMetadata, re-encodes to JPEG, and hands the bytes to StorageManager
// plus the upload queue (spec.md §4.3 step 4).
func (in *Instance) onCaptureSuccess(ctx context.Context, frame *adapter.Frame) {
	now := in.clock.Now()
	label := fmt.Sprintf("%s %s", in.cfg.ID, now.UTC().Format("2006-01-02 15:04:05"))
	data := img.Overlay(frame.Data, label, 85)

	brightness, w, h, err := img.AverageBrightness(data)
	if err != nil {
		w, h = frame.Width, frame.Height
	}
	if (brightness < 10 || brightness > 245) && in.logger != nil {
		in.logger.Warn("frame brightness out of typical range", "camera_id", in.cfg.ID, "average_brightness", brightness)
	}

	meta := ImageMetadata{
		Timestamp:  now,
		DeviceID:   in.identity.DeviceID,
		CameraID:   in.cfg.ID,
		Location:   in.identity.Location,
		Version:    in.identity.Version,
		CameraKind: string(in.cfg.Kind),
	}
	meta.Device.UptimeSeconds = now.Sub(in.identity.StartedAt).Seconds()
	meta.Device.Description = in.identity.Description
	meta.System = in.sampler.Sample(ctx)
	meta.Camera.CaptureIntervalSeconds = in.cfg.CaptureIntervalSeconds
	meta.Camera.Position = in.cfg.Position
	meta.Camera.Width = in.cfg.Resolution.Width
	meta.Camera.Height = in.cfg.Resolution.Height
	meta.Image.AverageBrightness = brightness
	meta.Image.Width = w
	meta.Image.Height = h
	meta.Environment.CapturedUTC = now.UTC()
	_, offsetSec := now.Zone()
	meta.Environment.TimezoneOffsetMin = offsetSec / 60

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		if in.logger != nil {
			in.logger.Error("marshal image metadata failed", "camera_id", in.cfg.ID, "error", err)
		}
		return
	}

	key := fmt.Sprintf("%s_%s.jpg", in.cfg.ID, now.UTC().Format("2006-01-02_15-04-05"))
	if err := in.storage.Store(key, data, meta); err != nil {
		if in.logger != nil {
			in.logger.Error("store capture failed", "camera_id", in.cfg.ID, "key", key, "error", err)
		}
		return
	}

	if in.uploadCh != nil {
		item := upload.Item{Key: key, Bytes: data, Metadata: metaJSON, SourceCameraID: in.cfg.ID}
		select {
		case in.uploadCh <- item:
		case <-ctx.Done():
		}
	}
}
