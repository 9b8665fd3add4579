package supervisor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sai-cam/agentd/internal/health"
)

// Snapshot assembles a fresh HealthSnapshot (spec.md §3), the document
// served by the HealthSocket's "health" command and proxied through the
// ControlPortal.
func (s *Supervisor) Snapshot() health.Snapshot {
	s.mu.Lock()
	sampler := s.sampler
	cameras := make([]health.CameraRuntimeView, 0, len(s.cameras))
	ids := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	threadAlive := make(map[string]bool, len(s.cameras))
	for _, id := range ids {
		e := s.cameras[id]
		st := e.tracker.GetStatus()
		cameras = append(cameras, health.CameraRuntimeView{
			CameraID:            st.CameraID,
			State:               string(st.State),
			ConsecutiveFailures: st.ConsecutiveFailures,
			BackoffMultiplier:   st.BackoffMultiplier,
			LastError:           st.LastFailureReason,
		})
		threadAlive[id] = e.alive.Get()
	}

	failedIDs := make([]string, 0, len(s.failed))
	for id := range s.failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	failed := make([]health.FailedCameraView, 0, len(failedIDs))
	for _, id := range failedIDs {
		fe := s.failed[id]
		failed = append(failed, health.FailedCameraView{
			CameraID:    id,
			Attempts:    fe.attempts,
			NextRetryAt: fe.nextRetryAt,
		})
		threadAlive[id] = false
	}
	s.mu.Unlock()

	s.countersMu.Lock()
	s.counters.ChecksPerformed++
	counters := s.counters
	s.countersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return health.Snapshot{
		Timestamp:   s.clock.Now(),
		NodeVersion: s.opts.Version,
		NodeID:      s.identity.DeviceID,
		UptimeSec:   time.Since(s.startedAt).Seconds(),
		System:      sampler.Sample(ctx),
		Cameras:     cameras,
		Failed:      failed,
		ThreadAlive: threadAlive,
		Counters:    counters,
	}
}

// ForceCapture sets the named camera's force-capture signal. It reports
// false when the camera has no live instance (unknown id, or currently
// parked in the failed-camera map), matching the HealthSocket's
// {error:"not found"} response.
func (s *Supervisor) ForceCapture(cameraID string) bool {
	s.mu.Lock()
	entry, ok := s.cameras[cameraID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.instance.ForceCapture()
	return true
}

// RestartCamera implements spec.md §4.5's unified restart entry point,
// shared by the HealthSocket "restart_camera" command and the failed-
// camera retry loop's recovery path. A live camera is stopped and
// reinitialized in place ("restarted"); a camera already in the failed map
// has its attempt counter reset so the retry loop picks it up on its next
// tick ("retry_queued"). An unknown camera id is an error.
func (s *Supervisor) RestartCamera(cameraID string) (string, error) {
	s.mu.Lock()
	entry, isLive := s.cameras[cameraID]
	fe, isFailed := s.failed[cameraID]
	s.mu.Unlock()

	if !isLive && !isFailed {
		return "", fmt.Errorf("camera %s not found", cameraID)
	}

	if isFailed {
		s.mu.Lock()
		fe.attempts = 0
		fe.nextRetryAt = time.Time{}
		s.mu.Unlock()
		return "retry_queued", nil
	}

	entry.instance.Stop()
	entry.cancel()
	<-entry.done

	s.mu.Lock()
	delete(s.cameras, cameraID)
	s.mu.Unlock()

	newEntry, err := s.tryInitializeCamera(context.Background(), entry.cfg)
	if err != nil {
		s.mu.Lock()
		s.failed[cameraID] = &failedEntry{
			cfg:         entry.cfg,
			attempts:    1,
			nextRetryAt: s.clock.Now().Add(retryInterval(entry.cfg.CaptureIntervalSeconds, 1)),
		}
		s.mu.Unlock()
		return "restart_failed", nil
	}

	s.mu.Lock()
	s.cameras[cameraID] = newEntry
	s.mu.Unlock()
	s.spawnCamera(newEntry)
	return "restarted", nil
}
