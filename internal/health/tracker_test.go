package health

import (
	"testing"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTrackerAvailableByDefault(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	if !tr.IsAvailable("sonnet") {
		t.Error("unknown agent should be available")
	}
}

func TestThresholdOpensBreaker(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(Config{FailureThreshold: 3, BaseDelay: 30 * time.Second, RateLimitDelay: 2 * time.Minute, MaxBackoff: 30 * time.Minute})
	tr.SetClock(fixedClock(now))

	tr.RecordFailure("x", models.FailureCrash)
	tr.RecordFailure("x", models.FailureCrash)
	if !tr.IsAvailable("x") {
		t.Fatal("agent should stay available below threshold")
	}

	h := tr.RecordFailure("x", models.FailureCrash)
	if h.BackoffUntil == nil {
		t.Fatal("expected backoff to be set at threshold")
	}
	if !h.BackoffUntil.After(now) {
		t.Error("backoffUntil must be in the future")
	}
	if got, want := h.BackoffUntil.Sub(now), 30*time.Second; got != want {
		t.Errorf("expected first window %v, got %v", want, got)
	}
	if tr.IsAvailable("x") {
		t.Error("agent should be unavailable inside the window")
	}
}

func TestFourthFailureDoublesWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(Config{FailureThreshold: 3, BaseDelay: 30 * time.Second, RateLimitDelay: 2 * time.Minute, MaxBackoff: 30 * time.Minute})
	tr.SetClock(fixedClock(now))

	for i := 0; i < 3; i++ {
		tr.RecordFailure("x", models.FailureCrash)
	}

	later := now.Add(10 * time.Second)
	tr.SetClock(fixedClock(later))
	h := tr.RecordFailure("x", models.FailureCrash)

	if got, want := h.BackoffUntil.Sub(later), 60*time.Second; got != want {
		t.Errorf("expected doubled window %v from new failure time, got %v", want, got)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{FailureThreshold: 3, BaseDelay: 30 * time.Second, RateLimitDelay: 2 * time.Minute, MaxBackoff: 5 * time.Minute}
	tr := NewTracker(cfg)
	tr.SetClock(fixedClock(now))

	var prev time.Duration
	for i := 0; i < 12; i++ {
		h := tr.RecordFailure("x", models.FailureCrash)
		if h.BackoffUntil == nil {
			continue
		}
		window := h.BackoffUntil.Sub(now)
		if window < prev {
			t.Errorf("window shrank from %v to %v at failure %d", prev, window, i+1)
		}
		if window > cfg.MaxBackoff {
			t.Errorf("window %v exceeds cap %v", window, cfg.MaxBackoff)
		}
		prev = window
	}
	if prev != cfg.MaxBackoff {
		t.Errorf("expected window to reach cap %v, got %v", cfg.MaxBackoff, prev)
	}
}

func TestSuccessClearsBackoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())
	tr.SetClock(fixedClock(now))

	for i := 0; i < 3; i++ {
		tr.RecordFailure("x", models.FailureCrash)
	}
	if tr.IsAvailable("x") {
		t.Fatal("expected agent in backoff")
	}

	h := tr.RecordSuccess("x")
	if h.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset, got %d", h.ConsecutiveFailures)
	}
	if h.BackoffUntil != nil {
		t.Error("expected backoff cleared")
	}
	if !tr.IsAvailable("x") {
		t.Error("agent should be available after success")
	}
}

func TestAvailableAfterWindowElapses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())
	tr.SetClock(fixedClock(now))

	for i := 0; i < 3; i++ {
		tr.RecordFailure("x", models.FailureCrash)
	}

	tr.SetClock(fixedClock(now.Add(31 * time.Second)))
	if !tr.IsAvailable("x") {
		t.Error("agent should be eligible once the window elapses")
	}
	// The failure count survives the elapsed window.
	if got := tr.Get("x").ConsecutiveFailures; got != 3 {
		t.Errorf("expected failure count intact, got %d", got)
	}
}

func TestRateLimitUsesLongerBase(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())
	tr.SetClock(fixedClock(now))

	tr.RecordFailure("x", models.FailureRateLimited)
	tr.RecordFailure("x", models.FailureRateLimited)
	h := tr.RecordFailure("x", models.FailureRateLimited)

	if got, want := h.BackoffUntil.Sub(now), 2*time.Minute; got != want {
		t.Errorf("expected rate-limit base %v, got %v", want, got)
	}
}

func TestRestore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	tr := NewTracker(DefaultConfig())
	tr.SetClock(fixedClock(now))

	tr.Restore([]models.AgentHealth{{Agent: "x", ConsecutiveFailures: 4, BackoffUntil: &until, TotalRuns: 10, TotalSuccesses: 6}})

	if tr.IsAvailable("x") {
		t.Error("restored backoff window should gate the agent")
	}
	if got := tr.Get("x").TotalRuns; got != 10 {
		t.Errorf("expected lifetime counters restored, got %d runs", got)
	}
}

func TestSnapshotCopies(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordSuccess("a")
	tr.RecordFailure("b", models.FailureCrash)

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	for i := range snap {
		snap[i].ConsecutiveFailures = 99
	}
	if tr.Get("b").ConsecutiveFailures == 99 {
		t.Error("snapshot must not alias internal state")
	}
}
