// Package completion decides whether workers and phases have finished,
// combining independently collected signals under the configured mode.
package completion

import (
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/signal"
)

// WorkerComplete reports whether a single worker's signals satisfy the
// given completion mode.
//
// Any mode accepts any one signal. Strict mode requires the explicit log
// marker plus at least one corroborating signal, so a merge alone (for
// example an operator integrating partial work) does not count. All mode
// requires every signal.
func WorkerComplete(sig signal.Signal, mode config.CompletionMode) bool {
	switch mode {
	case config.ModeStrict:
		return sig.LogMarker && (sig.BranchMerged || sig.StatusComplete)
	case config.ModeAll:
		return sig.LogMarker && sig.BranchMerged && sig.StatusComplete
	default:
		return sig.LogMarker || sig.BranchMerged || sig.StatusComplete
	}
}

// Verdict is the outcome of evaluating one worker.
type Verdict struct {
	Spec     config.WorkerSpec
	Signal   signal.Signal
	Complete bool
}

// Evaluate applies the mode to each collected result, preserving order.
func Evaluate(results []signal.Result, mode config.CompletionMode) []Verdict {
	verdicts := make([]Verdict, len(results))
	for i, result := range results {
		verdicts[i] = Verdict{
			Spec:     result.Spec,
			Signal:   result.Signal,
			Complete: WorkerComplete(result.Signal, mode),
		}
	}
	return verdicts
}

// PhaseComplete reports whether every worker in the phase is complete,
// along with the ids of those that are not. A phase with no workers is
// never considered complete; an empty roster means the phase was not
// configured, not that its work is done.
func PhaseComplete(verdicts []Verdict) (bool, []string) {
	if len(verdicts) == 0 {
		return false, nil
	}
	var incomplete []string
	for _, verdict := range verdicts {
		if !verdict.Complete {
			incomplete = append(incomplete, verdict.Spec.ID)
		}
	}
	return len(incomplete) == 0, incomplete
}
