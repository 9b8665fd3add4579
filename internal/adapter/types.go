// Package adapter implements the uniform capture contract spec.md §4.2
// defines for the three camera kinds (direct device, RTSP stream, ONVIF
// snapshot-over-HTTP), grounded on the teacher's internal/camera package
// (Camera interface, per-kind structs, typed capture errors) and on
// korylprince/go-onvif + icholy/digest for the ONVIF adapter.
package adapter

import (
	"context"
	"time"
)

// Frame is one captured still image plus the dimensions the adapter
// observed, if it was able to determine them cheaply.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// Valid reports whether the frame carries decodable image bytes.
// ValidateFrame rejects only null/empty frames (spec.md §4.2): extreme
// darkness or brightness is a true observation, not a validation failure.
func (f *Frame) Valid() bool {
	return f != nil && len(f.Data) > 0
}

// Adapter is the capability set every camera kind implements, per
// spec.md §4.2's "uniform capture contract".
type Adapter interface {
	// Setup opens the handle, applies hints, waits camera_init_wait, and
	// reads one probe frame. A handle that "opens" but returns a null probe
	// frame is treated as a setup failure.
	Setup(ctx context.Context) error

	// CaptureFrame fetches one fresh frame, or (nil, err) on failure.
	CaptureFrame(ctx context.Context) (*Frame, error)

	// GrabFrame drains a single buffered frame to keep a streaming source
	// alive between captures. Adapters without buffering no-op.
	GrabFrame(ctx context.Context) bool

	// Reconnect executes Cleanup then Setup.
	Reconnect(ctx context.Context) error

	// Cleanup releases the handle. Safe to call multiple times.
	Cleanup()

	// GetInfo returns a small diagnostic map (kind, address, last state)
	// surfaced through the health snapshot.
	GetInfo() map[string]any
}

// TimeoutError indicates a capture or setup operation exceeded its deadline.
type TimeoutError struct {
	CameraID string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return "capture timeout: " + e.CameraID
}

// AuthError indicates the adapter's credentials were rejected.
type AuthError struct {
	CameraID string
	Message  string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.CameraID + ": " + e.Message
}

// CaptureError is a general capture/setup failure wrapping the underlying
// cause.
type CaptureError struct {
	CameraID string
	Message  string
	Err      error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return "capture failed: " + e.CameraID + ": " + e.Message + ": " + e.Err.Error()
	}
	return "capture failed: " + e.CameraID + ": " + e.Message
}

func (e *CaptureError) Unwrap() error { return e.Err }

func isTimeoutError(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
