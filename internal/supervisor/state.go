// Package supervisor tracks worker runtime state and launches worker
// processes in detached sessions.
package supervisor

import (
	"time"

	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
)

// RuntimeState labels a worker's observed lifecycle state.
type RuntimeState string

const (
	// StateNotStarted indicates the worker was never dispatched and has
	// produced no observable activity.
	StateNotStarted RuntimeState = "not_started"
	// StateActive indicates recent signal activity.
	StateActive RuntimeState = "active"
	// StateIdle indicates activity stopped recently; often a worker
	// waiting on review or a dependency.
	StateIdle RuntimeState = "idle"
	// StateStuck indicates activity stopped long enough to need operator
	// attention. Stuck workers are reported, never restarted automatically.
	StateStuck RuntimeState = "stuck"
	// StateComplete indicates the completion policy is satisfied.
	StateComplete RuntimeState = "complete"
)

// EscalationThreshold is the number of consecutive stuck observations
// after which the tracker flags a worker for operator attention.
const EscalationThreshold = 3

// WorkerStatus is one worker's tracked state at a point in time.
type WorkerStatus struct {
	Spec             config.WorkerSpec
	State            RuntimeState
	Complete         bool
	Failed           bool
	LastActivity     time.Time
	ConsecutiveStuck int
}

// Escalated reports whether the worker has been stuck long enough to
// warrant an operator warning.
func (status WorkerStatus) Escalated() bool {
	return status.ConsecutiveStuck >= EscalationThreshold
}

// Tracker classifies workers from completion verdicts and remembers
// consecutive stuck observations across refreshes.
type Tracker struct {
	thresholds  config.ThresholdsConfig
	now         func() time.Time
	stuckCounts map[string]int
}

// NewTracker builds a tracker using the configured staleness thresholds.
func NewTracker(thresholds config.ThresholdsConfig) *Tracker {
	return &Tracker{
		thresholds:  thresholds,
		now:         time.Now,
		stuckCounts: make(map[string]int),
	}
}

// Probe supplies per-worker process facts the signal stream cannot
// observe. Either field may be nil.
type Probe struct {
	// Dispatched reports whether a worker process was ever launched,
	// distinguishing not_started from a stalled worker whose activity
	// records were wiped.
	Dispatched func(workerID string) bool
	// ExitCode returns the recorded exit code for a worker whose
	// process has ended, and whether such a record exists.
	ExitCode func(workerID string) (int, bool)
}

// Refresh classifies every verdict, updating stuck streaks.
func (tracker *Tracker) Refresh(verdicts []completion.Verdict, probe Probe) []WorkerStatus {
	statuses := make([]WorkerStatus, len(verdicts))
	for i, verdict := range verdicts {
		failed := tracker.exitedNonZero(verdict, probe)
		state := tracker.classify(verdict, probe, failed)
		if state == StateStuck {
			tracker.stuckCounts[verdict.Spec.ID]++
		} else {
			delete(tracker.stuckCounts, verdict.Spec.ID)
		}
		statuses[i] = WorkerStatus{
			Spec:             verdict.Spec,
			State:            state,
			Complete:         verdict.Complete,
			Failed:           failed,
			LastActivity:     verdict.Signal.LastActivity,
			ConsecutiveStuck: tracker.stuckCounts[verdict.Spec.ID],
		}
	}
	return statuses
}

// exitedNonZero reports whether the worker's process ended with a
// non-zero exit code without the completion policy being satisfied.
func (tracker *Tracker) exitedNonZero(verdict completion.Verdict, probe Probe) bool {
	if verdict.Complete || probe.ExitCode == nil {
		return false
	}
	code, ok := probe.ExitCode(verdict.Spec.ID)
	return ok && code != 0
}

// classify derives the runtime state for one verdict. A failed exit is
// stuck immediately; the worker is reported, never relaunched.
func (tracker *Tracker) classify(verdict completion.Verdict, probe Probe, failed bool) RuntimeState {
	if verdict.Complete {
		return StateComplete
	}
	if failed {
		return StateStuck
	}
	if verdict.Signal.LastActivity.IsZero() {
		if probe.Dispatched == nil || !probe.Dispatched(verdict.Spec.ID) {
			return StateNotStarted
		}
		return StateStuck
	}
	age := tracker.now().Sub(verdict.Signal.LastActivity)
	switch {
	case age < time.Duration(tracker.thresholds.IdleSeconds)*time.Second:
		return StateActive
	case age < time.Duration(tracker.thresholds.StuckSeconds)*time.Second:
		return StateIdle
	default:
		return StateStuck
	}
}
