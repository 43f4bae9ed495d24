// Package phase drives the phase lifecycle: verifying completion,
// archiving the closing phase, and advancing the project configuration.
package phase

import "fmt"

// Step labels a point in the phase close sequence.
type Step string

const (
	// StepRunning indicates the phase is executing normally.
	StepRunning Step = "running"
	// StepCompleting indicates completion was verified and close started.
	StepCompleting Step = "completing"
	// StepArchiving indicates the phase snapshot is being written.
	StepArchiving Step = "archiving"
	// StepAdvanced indicates the configuration moved to the next phase.
	StepAdvanced Step = "advanced"
	// StepStalled indicates the close failed partway; retryable.
	StepStalled Step = "stalled"
)

// allowedSteps defines the permitted close sequence changes. Advanced is
// terminal for the closing phase; the next phase starts over at running.
var allowedSteps = map[Step]map[Step]struct{}{
	StepRunning: {
		StepCompleting: {},
	},
	StepCompleting: {
		StepArchiving: {},
		StepRunning:   {},
		StepStalled:   {},
	},
	StepArchiving: {
		StepAdvanced: {},
		StepStalled:  {},
	},
	StepStalled: {
		StepCompleting: {},
		// A stalled close whose completion no longer holds drops back.
		StepRunning: {},
	},
	StepAdvanced: {},
}

// IsValidStep reports whether the close sequence allows the change.
func IsValidStep(from Step, to Step) bool {
	if from == "" || to == "" {
		return false
	}
	allowed, ok := allowedSteps[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// ValidateStep returns an error when a close sequence change is not allowed.
func ValidateStep(from Step, to Step) error {
	if !IsValidStep(from, to) {
		return fmt.Errorf("invalid phase step transition from %q to %q", from, to)
	}
	return nil
}
