package agentclock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter suppresses duplicate log lines sharing the same key within a
// window, logging one line when the key is first seen and a single
// "suppressed N similar messages" summary when the window for that key
// rolls over. This supplements spec.md's bare suppress-and-count behavior
// with the decaying summary line src/logging_utils.py emits on window
// rollover (see SPEC_FULL.md SUPPLEMENTED FEATURES).
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	clock  Clock
	keys   map[string]*keyState
}

type keyState struct {
	lastLog     time.Time
	suppressed  int
	lastMessage string
}

// NewRateLimiter builds a RateLimiter that allows at most one log line per
// key per window, summarizing everything suppressed in between.
func NewRateLimiter(window time.Duration, clock Clock) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = New()
	}
	return &RateLimiter{
		window: window,
		clock:  clock,
		keys:   make(map[string]*keyState),
	}
}

// Allow reports whether a log line for key should be emitted now. Calls that
// return false have been folded into the suppressed count for key; the next
// Allow call for that key after the window closes resets that count without
// emitting anything. Only Log writes the "suppressed N" summary line.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	st, ok := r.keys[key]
	if !ok {
		r.keys[key] = &keyState{lastLog: now}
		return true
	}
	if now.Sub(st.lastLog) >= r.window {
		st.lastLog = now
		st.suppressed = 0
		return true
	}
	st.suppressed++
	return false
}

// Log emits msg through logger under key, subject to rate limiting, and logs
// a "suppressed N similar messages" line the first time the window reopens
// for a key that had suppressed entries.
func (r *RateLimiter) Log(logger *slog.Logger, level slog.Level, key, msg string, args ...any) {
	r.mu.Lock()
	now := r.clock.Now()
	st, ok := r.keys[key]
	var emitSummary int
	if !ok {
		r.keys[key] = &keyState{lastLog: now}
	} else if now.Sub(st.lastLog) >= r.window {
		emitSummary = st.suppressed
		st.lastLog = now
		st.suppressed = 0
	} else {
		st.suppressed++
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if emitSummary > 0 {
		logger.Log(context.Background(), level, fmt.Sprintf("suppressed %d similar messages", emitSummary), "rate_limit_key", key)
	}
	logger.Log(context.Background(), level, msg, args...)
}

// ClearKeysWithPrefix drops suppression state for any key starting with
// prefix. CameraStateTracker.record_success calls this to release the
// "camera offline" warning key so a future failure logs fresh.
func (r *RateLimiter) ClearKeysWithPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.keys, k)
		}
	}
}
