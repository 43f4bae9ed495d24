package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/events"
	"github.com/czarina-dev/czarina/internal/worktree"
)

// ErrBlocked reports a launch refused because dependencies are incomplete.
var ErrBlocked = errors.New("worker blocked on incomplete dependencies")

// Launcher dispatches workers into isolated worktrees.
type Launcher struct {
	repoRoot  string
	cfg       config.Config
	worktrees worktree.Manager
	events    *events.Appender
	warn      func(string)
}

// NewLauncher builds a launcher for the given project.
func NewLauncher(repoRoot string, cfg config.Config, appender *events.Appender, warn func(string)) (*Launcher, error) {
	manager, err := worktree.NewManager(repoRoot)
	if err != nil {
		return nil, err
	}
	return &Launcher{
		repoRoot:  repoRoot,
		cfg:       cfg,
		worktrees: manager,
		events:    appender,
		warn:      warn,
	}, nil
}

// Launch dispatches one worker. The complete set holds worker ids whose
// completion policy is already satisfied; every dependency must be in it
// or the launch is refused with ErrBlocked.
func (launcher *Launcher) Launch(workerID string, complete map[string]bool) (DispatchResult, error) {
	spec, ok := launcher.cfg.Worker(workerID)
	if !ok {
		return DispatchResult{}, fmt.Errorf("unknown worker %q", workerID)
	}

	if missing := incompleteDependencies(spec, complete); len(missing) > 0 {
		return DispatchResult{}, fmt.Errorf("worker %s waits on %s: %w", spec.ID, strings.Join(missing, ", "), ErrBlocked)
	}

	checkout, err := launcher.worktrees.Ensure(spec, launcher.cfg.Project.OmnibusBranch)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("prepare worktree for %s: %w", spec.ID, err)
	}

	command, err := ResolveCommand(launcher.cfg, spec, launcher.repoRoot, checkout.Path)
	if err != nil {
		return DispatchResult{}, err
	}

	result, err := dispatchWorker(launcher.repoRoot, spec, command, checkout.Path, launcher.warn)
	if err != nil {
		return DispatchResult{}, err
	}

	launcher.record(events.Event{
		Name:   events.EventWorkerLaunch,
		Worker: spec.ID,
		Fields: map[string]string{
			"branch":   spec.Branch,
			"worktree": checkout.Path,
			"pid":      fmt.Sprintf("%d", result.PID),
		},
	})
	return result, nil
}

// LaunchReady dispatches every not-yet-dispatched worker whose
// dependencies are complete, in topological order. Blocked workers are
// skipped, not errors; they become eligible on a later pass.
func (launcher *Launcher) LaunchReady(complete map[string]bool) ([]DispatchResult, error) {
	order, err := config.TopologicalOrder(launcher.cfg.Workers)
	if err != nil {
		return nil, err
	}
	var results []DispatchResult
	for _, workerID := range order {
		if complete[workerID] || Dispatched(launcher.repoRoot, workerID) {
			continue
		}
		result, err := launcher.Launch(workerID, complete)
		if errors.Is(err, ErrBlocked) {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// record appends a launch event, downgrading failures to warnings.
func (launcher *Launcher) record(event events.Event) {
	if launcher.events == nil {
		return
	}
	if err := launcher.events.Append(event); err != nil {
		emitWarning(launcher.warn, fmt.Sprintf("failed to record %s event: %v", event.Name, err))
	}
}

// incompleteDependencies lists unmet dependencies in stable order.
func incompleteDependencies(spec config.WorkerSpec, complete map[string]bool) []string {
	var missing []string
	for _, dep := range spec.Dependencies {
		if !complete[dep] {
			missing = append(missing, dep)
		}
	}
	sort.Strings(missing)
	return missing
}
