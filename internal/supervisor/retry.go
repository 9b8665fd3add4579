package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// retryLoop wakes every 10s and attempts to reinitialize any failed camera
// whose next_retry_monotonic has arrived, per spec.md §4.5. On success the
// camera moves from the failed map into the live camera set and its
// capture task is spawned; on failure its attempt counter and backoff are
// advanced. A rate-limited status line lists the still-failing cameras
// every 5 minutes.
func (s *Supervisor) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetryPass(ctx)
		}
	}
}

func (s *Supervisor) runRetryPass(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]string, 0)
	for id, fe := range s.failed {
		if !now.Before(fe.nextRetryAt) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		s.mu.Lock()
		fe, ok := s.failed[id]
		s.mu.Unlock()
		if !ok {
			continue
		}

		entry, err := s.tryInitializeCamera(ctx, fe.cfg)
		if err != nil {
			s.mu.Lock()
			fe.attempts++
			fe.nextRetryAt = now.Add(retryInterval(fe.cfg.CaptureIntervalSeconds, fe.attempts))
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		delete(s.failed, id)
		s.cameras[id] = entry
		s.mu.Unlock()
		s.spawnCamera(entry)
		s.logger.Info("camera recovered from failed state", "camera_id", id)
	}

	s.logStillFailing()
}

// logStillFailing emits one rate-limited status line naming every camera
// still in the failed map, at most once per 5 minutes (spec.md §4.5).
func (s *Supervisor) logStillFailing() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.failed))
	for id := range s.failed {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	s.limiter.Log(s.logger, slog.LevelInfo, "failed_cameras_status",
		fmt.Sprintf("%d camera(s) still failing init", len(ids)), "camera_ids", ids)
}
