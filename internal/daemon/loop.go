package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/events"
	"github.com/czarina-dev/czarina/internal/phase"
	"github.com/czarina-dev/czarina/internal/signal"
	"github.com/czarina-dev/czarina/internal/supervisor"
)

// Options configures a daemon run.
type Options struct {
	// Interval overrides the configured tick interval when positive.
	Interval time.Duration
	// Warn receives operational warnings; nil discards them.
	Warn func(string)
}

// Daemon is the monitor loop. It is the sole writer of orchestration
// state while it holds the repo lock: it collects signals, tracks worker
// states, launches dependency-gated workers, and persists its run record
// every tick so a crash is visible and resumable.
type Daemon struct {
	repoRoot   string
	opts       Options
	appender   *events.Appender
	tracker    *supervisor.Tracker
	engine     *phase.Engine
	state      RunState
	lastStates map[string]supervisor.RuntimeState
}

// New builds a daemon for the repo.
func New(repoRoot string, opts Options) (*Daemon, error) {
	appender, err := events.NewAppender(config.EventsPath(repoRoot), os.Stderr)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		repoRoot:   repoRoot,
		opts:       opts,
		appender:   appender,
		engine:     phase.NewEngine(repoRoot, appender, opts.Warn),
		lastStates: make(map[string]supervisor.RuntimeState),
	}, nil
}

// Run acquires the repo lock and ticks until the context is canceled.
// Individual tick failures are warned and retried on the next interval;
// only lock loss or cancellation ends the run.
func (daemon *Daemon) Run(ctx context.Context) error {
	lock, err := AcquireLock(daemon.repoRoot)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			daemon.warnf("failed to release daemon lock: %v", releaseErr)
		}
	}()

	cfg, err := config.Load(config.Path(daemon.repoRoot), daemon.opts.Warn)
	if err != nil {
		return fmt.Errorf("load project config: %w", err)
	}
	daemon.tracker = supervisor.NewTracker(cfg.Thresholds)

	if previous, ok, err := LoadRunState(daemon.repoRoot); err != nil {
		daemon.warnf("failed to read previous run state: %v", err)
	} else if ok {
		daemon.warnf("resuming after run %s (pid %d, last tick %s)",
			previous.RunID, previous.PID, previous.LastTick.Format(time.RFC3339))
	}

	daemon.state = RunState{
		RunID:     uuid.NewString(),
		PID:       os.Getpid(),
		Phase:     cfg.Project.Phase,
		StartedAt: time.Now().UTC(),
	}
	if err := SaveRunState(daemon.repoRoot, daemon.state); err != nil {
		daemon.warnf("failed to persist run state: %v", err)
	}

	if err := daemon.resumeInterruptedClose(ctx, cfg); err != nil {
		return err
	}

	interval := daemon.interval(cfg)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := daemon.tick(ctx); err != nil {
		daemon.warnf("tick failed: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := daemon.tick(ctx); err != nil {
				daemon.warnf("tick failed: %v", err)
			}
		}
	}
}

// resumeInterruptedClose finishes a phase close the previous run left
// behind. The persisted step is only a hint; the engine re-verifies
// completion and archive presence before acting.
func (daemon *Daemon) resumeInterruptedClose(ctx context.Context, cfg config.Config) error {
	verdicts, err := daemon.observe(cfg)
	if err != nil {
		return err
	}
	result, resumed, err := daemon.engine.Resume(ctx, cfg, verdicts)
	if err != nil {
		return fmt.Errorf("resume interrupted phase close: %w", err)
	}
	if resumed {
		daemon.warnf("finished interrupted close of phase %d (archive %s)", result.ClosedPhase, result.ArchivePath)
	}
	return nil
}

// tick runs one monitor pass.
func (daemon *Daemon) tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := config.Load(config.Path(daemon.repoRoot), daemon.opts.Warn)
	if err != nil {
		return fmt.Errorf("load project config: %w", err)
	}

	verdicts, err := daemon.observe(cfg)
	if err != nil {
		return err
	}

	statuses := daemon.tracker.Refresh(verdicts, daemon.probe())
	daemon.reportStateChanges(statuses)

	complete := make(map[string]bool, len(verdicts))
	for _, verdict := range verdicts {
		if verdict.Complete {
			complete[verdict.Spec.ID] = true
		}
	}

	launcher, err := supervisor.NewLauncher(daemon.repoRoot, cfg, daemon.appender, daemon.opts.Warn)
	if err != nil {
		return err
	}
	if _, err := launcher.LaunchReady(complete); err != nil {
		daemon.warnf("launch pass failed: %v", err)
	}

	phaseDone, _ := completion.PhaseComplete(verdicts)
	daemon.persistPhaseState(cfg, statuses)
	if phaseDone {
		if result, err := daemon.engine.Close(ctx, cfg, verdicts, false); err != nil {
			daemon.warnf("phase close failed: %v", err)
		} else {
			daemon.warnf("closed phase %d (archive %s); configure workers for phase %d and launch them",
				result.ClosedPhase, result.ArchivePath, result.NextPhase)
			daemon.lastStates = make(map[string]supervisor.RuntimeState)
		}
	}

	daemon.state.Phase = cfg.Project.Phase
	daemon.state.LastTick = time.Now().UTC()
	daemon.state.Ticks++
	if err := SaveRunState(daemon.repoRoot, daemon.state); err != nil {
		daemon.warnf("failed to persist run state: %v", err)
	}

	daemon.record(events.Event{
		Name: events.EventDaemonTick,
		Fields: map[string]string{
			"run_id":         daemon.state.RunID,
			"phase":          fmt.Sprintf("%d", cfg.Project.Phase),
			"workers":        fmt.Sprintf("%d", len(verdicts)),
			"complete":       fmt.Sprintf("%d", len(complete)),
			"phase_complete": fmt.Sprintf("%t", phaseDone),
		},
	})
	return nil
}

// persistPhaseState caches each worker's last observed state so status
// readers survive a daemon restart with display continuity. Advisory:
// the close sequence owns the step, so a recorded mid-close position
// for the current phase is kept rather than rewound to running.
func (daemon *Daemon) persistPhaseState(cfg config.Config, statuses []supervisor.WorkerStatus) {
	workers := make(map[string]string, len(statuses))
	for _, status := range statuses {
		workers[status.Spec.ID] = string(status.State)
	}
	state := phase.State{
		Phase:   cfg.Project.Phase,
		Step:    phase.StepRunning,
		Workers: workers,
	}
	if prior, ok, err := phase.LoadState(daemon.repoRoot); err != nil {
		daemon.warnf("ignoring unreadable phase state: %v", err)
	} else if ok && prior.Phase == cfg.Project.Phase && prior.Step != "" && prior.Step != phase.StepRunning {
		state = prior
		state.Workers = workers
	}
	state.UpdatedAt = time.Now().UTC()
	if err := phase.SaveState(daemon.repoRoot, state); err != nil {
		daemon.warnf("failed to persist phase state: %v", err)
	}
}

// probe exposes dispatch records and exit files to the state tracker.
func (daemon *Daemon) probe() supervisor.Probe {
	return supervisor.Probe{
		Dispatched: func(workerID string) bool {
			return supervisor.Dispatched(daemon.repoRoot, workerID)
		},
		ExitCode: func(workerID string) (int, bool) {
			status, ok, err := supervisor.ReadExitStatus(daemon.repoRoot, workerID)
			if err != nil {
				daemon.warnf("read exit status for %s: %v", workerID, err)
				return 0, false
			}
			return status.ExitCode, ok
		},
	}
}

// observe collects signals for every worker and evaluates completion.
func (daemon *Daemon) observe(cfg config.Config) ([]completion.Verdict, error) {
	collector, err := signal.NewCollector(daemon.repoRoot, cfg, daemon.opts.Warn)
	if err != nil {
		return nil, err
	}
	results := collector.CollectAll(cfg.Workers, cfg.Thresholds.CollectConcurrency)
	return completion.Evaluate(results, cfg.Mode), nil
}

// reportStateChanges emits a worker.state event on every transition and
// warns on stuck escalations. Stuck workers are reported only; the
// operator decides whether to intervene.
func (daemon *Daemon) reportStateChanges(statuses []supervisor.WorkerStatus) {
	for _, status := range statuses {
		previous, seen := daemon.lastStates[status.Spec.ID]
		if !seen || previous != status.State {
			daemon.lastStates[status.Spec.ID] = status.State
			daemon.record(events.Event{
				Name:   events.EventWorkerState,
				Worker: status.Spec.ID,
				Fields: map[string]string{
					"state": string(status.State),
					"from":  string(previous),
				},
			})
		}
		if status.State == supervisor.StateStuck && status.ConsecutiveStuck == supervisor.EscalationThreshold {
			daemon.warnf("worker %s stuck for %d consecutive checks (last activity %s)",
				status.Spec.ID, status.ConsecutiveStuck, formatActivity(status.LastActivity))
		}
	}
}

// interval picks the tick interval from options or config.
func (daemon *Daemon) interval(cfg config.Config) time.Duration {
	if daemon.opts.Interval > 0 {
		return daemon.opts.Interval
	}
	return time.Duration(cfg.Thresholds.TickSeconds) * time.Second
}

// record appends an event, downgrading failures to warnings.
func (daemon *Daemon) record(event events.Event) {
	if err := daemon.appender.Append(event); err != nil {
		daemon.warnf("failed to record %s event: %v", event.Name, err)
	}
}

func (daemon *Daemon) warnf(format string, args ...any) {
	if daemon.opts.Warn != nil {
		daemon.opts.Warn(fmt.Sprintf(format, args...))
	}
}

func formatActivity(value time.Time) string {
	if value.IsZero() {
		return "never"
	}
	return value.Format(time.RFC3339)
}
