package supervisor

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// watchdogLoop notifies systemd's watchdog at half the interval the unit
// file requests via WATCHDOG_USEC, per spec.md §4.5's "optionally one
// watchdog-notifier emitting liveness at half the platform-provided
// timeout". It is a no-op when the process wasn't started under a systemd
// unit with WatchdogSec set, which is the common case in development and
// in the dashboard-only deployments this agent also runs in.
func (s *Supervisor) watchdogLoop(ctx context.Context) {
	usec, ok, err := watchdogInterval()
	if err != nil || !ok || usec <= 0 {
		return
	}

	interval := time.Duration(usec/2) * time.Microsecond
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil && s.logger != nil {
				s.logger.Debug("watchdog notify failed", "error", err)
			} else if !sent && s.logger != nil {
				s.logger.Debug("watchdog notify not delivered: not running under systemd")
			}
		}
	}
}

// watchdogInterval reads WATCHDOG_USEC directly rather than going through
// daemon.SdWatchdogEnabled, since that helper also clears the env var for
// the calling PID — a behavior meant for single-watchdog daemons, not
// appropriate here where the value is read once at startup and the loop
// owns its own ticker for the process lifetime.
func watchdogInterval() (usec int64, ok bool, err error) {
	v := os.Getenv("WATCHDOG_USEC")
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
