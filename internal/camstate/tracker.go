// Package camstate implements the per-camera finite state machine described
// in spec.md §4.1: healthy/failing/offline with exponential backoff.
package camstate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sai-cam/agentd/internal/agentclock"
)

// State is one of the three camera health states.
type State string

const (
	Healthy State = "healthy"
	Failing State = "failing"
	Offline State = "offline"
)

// offlineThreshold is the consecutive-failure count at which a camera is
// considered offline (spec.md §3 invariant: consecutive_failures >= 3).
const offlineThreshold = 3

// maxBackoffMultiplier caps the exponential backoff multiplier.
const maxBackoffMultiplier = 12

// Status is the pure view returned by GetStatus.
type Status struct {
	CameraID             string    `json:"camera_id"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	BackoffMultiplier    int       `json:"backoff_multiplier"`
	LastSuccess          time.Time `json:"last_success,omitempty"`
	NextAttempt          time.Time `json:"next_attempt,omitempty"`
	LastFailureReason    string    `json:"last_failure_reason,omitempty"`
}

// Tracker is the per-camera state machine. It never blocks: timing is
// advisory and the caller (CameraInstance) sleeps between checks.
type Tracker struct {
	mu sync.Mutex

	cameraID        string
	captureInterval time.Duration
	clock           agentclock.Clock
	limiter         *agentclock.RateLimiter
	logger          *slog.Logger

	state               State
	consecutiveFailures int
	backoffMultiplier   int
	lastSuccess         time.Time
	lastFailure         time.Time
	nextAttempt         time.Time
	lastFailureReason   string
}

// New builds a Tracker starting in the healthy state, matching a freshly
// constructed camera with no capture history.
func New(cameraID string, captureInterval time.Duration, clock agentclock.Clock, limiter *agentclock.RateLimiter, logger *slog.Logger) *Tracker {
	return &Tracker{
		cameraID:          cameraID,
		captureInterval:   captureInterval,
		clock:             clock,
		limiter:           limiter,
		logger:            logger,
		state:             Healthy,
		backoffMultiplier: 1,
	}
}

// RecordSuccess transitions to healthy, resets the failure counter and
// backoff multiplier to their fresh-tracker values, and clears any
// rate-limited log keys tied to this camera so a future failure logs fresh.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	wasHealthy := t.state == Healthy
	t.state = Healthy
	t.consecutiveFailures = 0
	t.backoffMultiplier = 1
	t.lastSuccess = t.clock.Now()
	t.lastFailureReason = ""
	t.mu.Unlock()

	if t.limiter != nil {
		t.limiter.ClearKeysWithPrefix("camera_offline:" + t.cameraID)
	}
	if !wasHealthy && t.logger != nil {
		t.logger.Info("camera recovered", "camera_id", t.cameraID)
	}
}

// RecordFailure folds one failure into the state machine and reports
// whether the caller should attempt a capture/reconnect right now.
func (t *Tracker) RecordFailure(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.consecutiveFailures++
	t.lastFailure = now
	t.lastFailureReason = reason

	prevState := t.state
	if t.consecutiveFailures >= offlineThreshold {
		t.state = Offline
	} else {
		t.state = Failing
	}

	if t.state == Offline && prevState != Offline && t.limiter != nil && t.logger != nil {
		key := "camera_offline:" + t.cameraID
		t.limiter.Log(t.logger, slog.LevelWarn, key,
			fmt.Sprintf("camera %s is offline: %s", t.cameraID, reason),
			"camera_id", t.cameraID, "consecutive_failures", t.consecutiveFailures)
	}

	if now.Before(t.nextAttempt) {
		return false
	}

	t.nextAttempt = now.Add(t.captureInterval * time.Duration(t.backoffMultiplier))
	if t.backoffMultiplier < maxBackoffMultiplier {
		t.backoffMultiplier *= 2
		if t.backoffMultiplier > maxBackoffMultiplier {
			t.backoffMultiplier = maxBackoffMultiplier
		}
	}
	return true
}

// ShouldAttemptCapture reports whether the caller may attempt a capture now:
// true when healthy, otherwise true once the clock has reached nextAttempt.
func (t *Tracker) ShouldAttemptCapture() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Healthy {
		return true
	}
	return !t.clock.Now().Before(t.nextAttempt)
}

// TimeUntilNextAttempt returns how long until the next allowed attempt, or 0
// if one may be attempted now.
func (t *Tracker) TimeUntilNextAttempt() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Healthy {
		return 0
	}
	d := t.nextAttempt.Sub(t.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// GetStatus returns a pure, race-free snapshot of the tracker's state.
func (t *Tracker) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		CameraID:            t.cameraID,
		State:                t.state,
		ConsecutiveFailures:  t.consecutiveFailures,
		BackoffMultiplier:    t.backoffMultiplier,
		LastSuccess:          t.lastSuccess,
		NextAttempt:          t.nextAttempt,
		LastFailureReason:    t.lastFailureReason,
	}
}
