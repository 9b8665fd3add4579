package supervisor

import (
	"context"
	"time"
)

// healthMonitorLoop samples system metrics on the configured cadence and
// bumps the warnings counter whenever usage crosses the configured
// thresholds, per spec.md §4.5's monitoring responsibilities. It does not
// act on a breach itself (no forced restart, no camera pause) — the
// counters are surfaced through the HealthSnapshot for an operator or the
// fleet dashboard to act on.
func (s *Supervisor) healthMonitorLoop(ctx context.Context) {
	s.mu.Lock()
	interval := time.Duration(s.cfg.Monitoring.HealthCheckIntervalSec) * time.Second
	s.mu.Unlock()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runHealthCheck(ctx)
		}
	}
}

func (s *Supervisor) runHealthCheck(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	sampler := s.sampler
	s.mu.Unlock()

	sampleCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	m := sampler.Sample(sampleCtx)

	s.countersMu.Lock()
	s.counters.ChecksPerformed++
	breached := false
	if cfg.Monitoring.MaxCPUPercent > 0 && m.CPUPercent > cfg.Monitoring.MaxCPUPercent {
		breached = true
	}
	if cfg.Monitoring.MaxMemoryPercent > 0 && m.MemoryPercent > cfg.Monitoring.MaxMemoryPercent {
		breached = true
	}
	if breached {
		s.counters.Warnings++
	}
	s.countersMu.Unlock()

	if breached {
		s.logger.Warn("system resource threshold exceeded",
			"cpu_percent", m.CPUPercent, "memory_percent", m.MemoryPercent,
			"max_cpu_percent", cfg.Monitoring.MaxCPUPercent, "max_memory_percent", cfg.Monitoring.MaxMemoryPercent)
	}
}
