package supervisor

import (
	"testing"
	"time"

	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/signal"
)

func testThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{IdleSeconds: 300, StuckSeconds: 900}
}

func trackerAt(t *testing.T, now time.Time) *Tracker {
	t.Helper()
	tracker := NewTracker(testThresholds())
	tracker.now = func() time.Time { return now }
	return tracker
}

func verdict(id string, complete bool, lastActivity time.Time) completion.Verdict {
	return completion.Verdict{
		Spec:     config.WorkerSpec{ID: id, Branch: "cz1/" + id, Phase: 1},
		Signal:   signal.Signal{LastActivity: lastActivity},
		Complete: complete,
	}
}

var neverDispatched = Probe{Dispatched: func(string) bool { return false }}

var alwaysDispatched = Probe{Dispatched: func(string) bool { return true }}

// TestClassifyByActivityAge checks the staleness ladder.
func TestClassifyByActivityAge(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		age  time.Duration
		want RuntimeState
	}{
		{name: "fresh activity", age: 30 * time.Second, want: StateActive},
		{name: "just under idle", age: 299 * time.Second, want: StateActive},
		{name: "idle window", age: 5 * time.Minute, want: StateIdle},
		{name: "just under stuck", age: 899 * time.Second, want: StateIdle},
		{name: "stuck", age: 15 * time.Minute, want: StateStuck},
		{name: "long dead", age: 4 * time.Hour, want: StateStuck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := trackerAt(t, now)
			statuses := tracker.Refresh([]completion.Verdict{verdict("a", false, now.Add(-tt.age))}, alwaysDispatched)
			if statuses[0].State != tt.want {
				t.Fatalf("state = %s, want %s", statuses[0].State, tt.want)
			}
		})
	}
}

// TestClassifyCompleteWins verifies completion overrides staleness.
func TestClassifyCompleteWins(t *testing.T) {
	now := time.Now()
	tracker := trackerAt(t, now)
	statuses := tracker.Refresh([]completion.Verdict{verdict("a", true, now.Add(-24*time.Hour))}, alwaysDispatched)
	if statuses[0].State != StateComplete {
		t.Fatalf("state = %s, want %s", statuses[0].State, StateComplete)
	}
}

// TestClassifyNotStarted verifies no activity plus no dispatch record.
func TestClassifyNotStarted(t *testing.T) {
	tracker := trackerAt(t, time.Now())
	statuses := tracker.Refresh([]completion.Verdict{verdict("a", false, time.Time{})}, neverDispatched)
	if statuses[0].State != StateNotStarted {
		t.Fatalf("state = %s, want %s", statuses[0].State, StateNotStarted)
	}
}

// TestClassifyDispatchedWithoutActivity verifies a launched worker with
// no observable output is stuck, not not_started.
func TestClassifyDispatchedWithoutActivity(t *testing.T) {
	tracker := trackerAt(t, time.Now())
	statuses := tracker.Refresh([]completion.Verdict{verdict("a", false, time.Time{})}, alwaysDispatched)
	if statuses[0].State != StateStuck {
		t.Fatalf("state = %s, want %s", statuses[0].State, StateStuck)
	}
}

// TestClassifyFailedExit verifies a non-zero exit record marks the
// worker stuck even while its log is still fresh.
func TestClassifyFailedExit(t *testing.T) {
	now := time.Now()
	tracker := trackerAt(t, now)
	probe := Probe{
		Dispatched: func(string) bool { return true },
		ExitCode:   func(string) (int, bool) { return 3, true },
	}

	statuses := tracker.Refresh([]completion.Verdict{verdict("a", false, now)}, probe)
	if statuses[0].State != StateStuck {
		t.Fatalf("state = %s, want %s", statuses[0].State, StateStuck)
	}
	if !statuses[0].Failed {
		t.Fatal("expected Failed for non-zero exit")
	}

	// A satisfied completion policy outranks the exit record.
	statuses = tracker.Refresh([]completion.Verdict{verdict("a", true, now)}, probe)
	if statuses[0].State != StateComplete || statuses[0].Failed {
		t.Fatalf("state = %s failed = %t, want complete and not failed", statuses[0].State, statuses[0].Failed)
	}
}

// TestStuckStreakEscalates verifies consecutive stuck observations
// accumulate and reset on recovery.
func TestStuckStreakEscalates(t *testing.T) {
	now := time.Now()
	tracker := trackerAt(t, now)
	stale := []completion.Verdict{verdict("a", false, now.Add(-time.Hour))}

	var status WorkerStatus
	for i := 0; i < EscalationThreshold; i++ {
		status = tracker.Refresh(stale, alwaysDispatched)[0]
	}
	if status.ConsecutiveStuck != EscalationThreshold {
		t.Fatalf("streak = %d, want %d", status.ConsecutiveStuck, EscalationThreshold)
	}
	if !status.Escalated() {
		t.Fatal("expected escalation after threshold")
	}

	// Fresh activity clears the streak.
	recovered := []completion.Verdict{verdict("a", false, now)}
	status = tracker.Refresh(recovered, alwaysDispatched)[0]
	if status.State != StateActive || status.ConsecutiveStuck != 0 {
		t.Fatalf("after recovery state = %s streak = %d", status.State, status.ConsecutiveStuck)
	}

	// A later stall starts the count over.
	status = tracker.Refresh(stale, alwaysDispatched)[0]
	if status.ConsecutiveStuck != 1 || status.Escalated() {
		t.Fatalf("restarted streak = %d", status.ConsecutiveStuck)
	}
}

// TestRefreshTracksWorkersIndependently verifies per-worker streaks.
func TestRefreshTracksWorkersIndependently(t *testing.T) {
	now := time.Now()
	tracker := trackerAt(t, now)
	verdicts := []completion.Verdict{
		verdict("a", false, now.Add(-time.Hour)),
		verdict("b", false, now),
	}

	tracker.Refresh(verdicts, alwaysDispatched)
	statuses := tracker.Refresh(verdicts, alwaysDispatched)
	if statuses[0].ConsecutiveStuck != 2 {
		t.Fatalf("worker a streak = %d, want 2", statuses[0].ConsecutiveStuck)
	}
	if statuses[1].ConsecutiveStuck != 0 {
		t.Fatalf("worker b streak = %d, want 0", statuses[1].ConsecutiveStuck)
	}
}
