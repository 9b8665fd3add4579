package camstate

import (
	"testing"
	"time"

	"github.com/sai-cam/agentd/internal/agentclock"
)

// TestBackoffProgression mirrors spec.md §8 scenario 1: with a 10s capture
// interval, five consecutive failures from a healthy start walk the
// multiplier 1->2->4->8->12->12 and the next-attempt offset
// 10s,20s,40s,80s,120s, going offline after the third failure.
func TestBackoffProgression(t *testing.T) {
	clock := agentclock.NewFake(time.Unix(0, 0))
	tr := New("camA", 10*time.Second, clock, nil, nil)

	wantOffsets := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 120 * time.Second}
	wantMultiplier := []int{2, 4, 8, 12, 12}
	wantState := []State{Failing, Failing, Offline, Offline, Offline}

	for i := 0; i < 5; i++ {
		before := clock.Now()
		attempt := tr.RecordFailure("probe failed")
		if !attempt {
			t.Fatalf("failure %d: expected attempt_now=true", i+1)
		}
		st := tr.GetStatus()
		if got := st.NextAttempt.Sub(before); got != wantOffsets[i] {
			t.Errorf("failure %d: next_attempt offset = %v, want %v", i+1, got, wantOffsets[i])
		}
		if st.BackoffMultiplier != wantMultiplier[i] {
			t.Errorf("failure %d: backoff_multiplier = %d, want %d", i+1, st.BackoffMultiplier, wantMultiplier[i])
		}
		if st.State != wantState[i] {
			t.Errorf("failure %d: state = %s, want %s", i+1, st.State, wantState[i])
		}
		// Advance past the scheduled retry so the next RecordFailure call is
		// evaluated as a fresh attempt rather than being suppressed by
		// still being within the backoff window.
		clock.Advance(wantOffsets[i])
	}
}

// TestRecovery mirrors spec.md §8 scenario 2: after RecordSuccess, the
// tracker resets fully and the next failure again uses a 10s offset.
func TestRecovery(t *testing.T) {
	clock := agentclock.NewFake(time.Unix(0, 0))
	tr := New("camA", 10*time.Second, clock, nil, nil)

	for i := 0; i < 3; i++ {
		tr.RecordFailure("probe failed")
		clock.Advance(2 * time.Minute)
	}

	tr.RecordSuccess()
	st := tr.GetStatus()
	if st.State != Healthy {
		t.Fatalf("state = %s, want healthy", st.State)
	}
	if st.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive_failures = %d, want 0", st.ConsecutiveFailures)
	}
	if st.BackoffMultiplier != 1 {
		t.Fatalf("backoff_multiplier = %d, want 1", st.BackoffMultiplier)
	}

	before := clock.Now()
	tr.RecordFailure("probe failed")
	st = tr.GetStatus()
	if got := st.NextAttempt.Sub(before); got != 10*time.Second {
		t.Fatalf("first failure after recovery: offset = %v, want 10s", got)
	}
}

// TestHealthyInvariant checks spec.md §8's quantified invariant: whenever
// state is healthy, consecutive_failures is zero.
func TestHealthyInvariant(t *testing.T) {
	clock := agentclock.NewFake(time.Unix(0, 0))
	tr := New("camA", time.Second, clock, nil, nil)

	if st := tr.GetStatus(); st.State == Healthy && st.ConsecutiveFailures != 0 {
		t.Fatalf("fresh tracker: healthy but consecutive_failures=%d", st.ConsecutiveFailures)
	}

	tr.RecordFailure("x")
	tr.RecordSuccess()
	st := tr.GetStatus()
	if st.State == Healthy && st.ConsecutiveFailures != 0 {
		t.Fatalf("after recovery: healthy but consecutive_failures=%d", st.ConsecutiveFailures)
	}
}

func TestShouldAttemptCaptureHonorsBackoffWindow(t *testing.T) {
	clock := agentclock.NewFake(time.Unix(0, 0))
	tr := New("camA", 10*time.Second, clock, nil, nil)

	tr.RecordFailure("x")
	if tr.ShouldAttemptCapture() {
		t.Fatalf("should not attempt capture immediately after scheduling a backoff")
	}
	clock.Advance(10 * time.Second)
	if !tr.ShouldAttemptCapture() {
		t.Fatalf("should attempt capture once next_attempt has elapsed")
	}
}
