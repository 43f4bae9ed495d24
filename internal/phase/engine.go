package phase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/czarina-dev/czarina/internal/archive"
	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/events"
)

// ErrIncomplete reports a close refused because workers are unfinished.
var ErrIncomplete = errors.New("phase has incomplete workers")

// ErrStalled reports a close that failed partway. The close sequence is
// retryable: archive-before-advance ordering means a stalled close never
// leaves the config pointing past an unarchived phase.
var ErrStalled = errors.New("phase close stalled")

// Engine executes the phase close sequence.
type Engine struct {
	repoRoot string
	events   *events.Appender
	warn     func(string)
	now      func() time.Time
}

// NewEngine builds a phase engine for the repo.
func NewEngine(repoRoot string, appender *events.Appender, warn func(string)) *Engine {
	return &Engine{
		repoRoot: repoRoot,
		events:   appender,
		warn:     warn,
		now:      time.Now,
	}
}

// CloseResult describes a finished phase close.
type CloseResult struct {
	ClosedPhase int
	NextPhase   int
	ArchivePath string
	// Forced records that incomplete workers were overridden.
	Forced []string
}

// Close verifies completion, archives the phase, and advances the
// configuration, persisting each step so a crash can resume. Unless
// force is set, any incomplete worker aborts with ErrIncomplete before
// anything is written. The next phase is never launched automatically.
func (engine *Engine) Close(ctx context.Context, cfg config.Config, verdicts []completion.Verdict, force bool) (CloseResult, error) {
	closing := cfg.Project.Phase

	// An existing archive is only this close's own leftover when the
	// persisted state shows this phase already reached the close
	// sequence; otherwise it is a collision and must fail loudly.
	prior, priorOK := engine.priorState()
	adoptArchive := priorOK && prior.Phase == closing && closeInProgress(prior.Step)

	done, incomplete := completion.PhaseComplete(verdicts)
	if !done && !force {
		if err := engine.step(closing, StepRunning, ""); err != nil {
			engine.warnf("phase %d: %v", closing, err)
		}
		return CloseResult{}, fmt.Errorf("phase %d: workers %s unfinished: %w", closing, strings.Join(incomplete, ", "), ErrIncomplete)
	}

	if err := engine.step(closing, StepCompleting, ""); err != nil {
		return CloseResult{}, fmt.Errorf("phase %d: %w", closing, err)
	}

	archivePath, err := engine.archivePhase(ctx, cfg, verdicts, adoptArchive)
	if err != nil {
		engine.stall(closing, err)
		return CloseResult{}, fmt.Errorf("phase %d: %v: %w", closing, err, ErrStalled)
	}
	if err := engine.step(closing, StepArchiving, archivePath); err != nil {
		return CloseResult{}, fmt.Errorf("phase %d: %w", closing, err)
	}
	engine.record(events.Event{
		Name: events.EventPhaseArchive,
		Fields: map[string]string{
			"phase":   fmt.Sprintf("%d", closing),
			"archive": archivePath,
		},
	})

	// Advance only after the archive is durable on disk.
	next := config.AdvancePhase(cfg)
	if err := config.Save(next, config.Path(engine.repoRoot)); err != nil {
		engine.stall(closing, err)
		return CloseResult{}, fmt.Errorf("phase %d: advance config: %v: %w", closing, err, ErrStalled)
	}
	if err := engine.step(closing, StepAdvanced, archivePath); err != nil {
		engine.warnf("phase %d: %v", closing, err)
	}
	engine.record(events.Event{
		Name: events.EventPhaseStep,
		Fields: map[string]string{
			"phase": fmt.Sprintf("%d", next.Project.Phase),
			"step":  string(StepRunning),
		},
	})

	return CloseResult{
		ClosedPhase: closing,
		NextPhase:   next.Project.Phase,
		ArchivePath: archivePath,
		Forced:      forcedWorkers(force, incomplete),
	}, nil
}

// Resume finishes an interrupted close. The persisted step is advisory;
// what decides the path is whether the archive for the configured phase
// already exists on disk. A config already advanced past the persisted
// state means the close finished and there is nothing to do.
func (engine *Engine) Resume(ctx context.Context, cfg config.Config, verdicts []completion.Verdict) (CloseResult, bool, error) {
	state, ok := engine.priorState()
	if !ok || state.Phase != cfg.Project.Phase || !closeInProgress(state.Step) {
		return CloseResult{}, false, nil
	}

	exists, err := archive.Exists(engine.repoRoot, cfg.Project.Phase, cfg.Project.Slug)
	if err != nil {
		return CloseResult{}, false, err
	}
	if exists {
		// Crash landed between archive and advance: finish the advance
		// without re-verifying completion, which was verified before the
		// archive was written.
		result, err := engine.finishAdvance(cfg, state.Step)
		return result, err == nil, err
	}

	result, err := engine.Close(ctx, cfg, verdicts, false)
	if errors.Is(err, ErrIncomplete) {
		// Completion no longer holds; drop back to running.
		return CloseResult{}, false, nil
	}
	return result, err == nil, err
}

// finishAdvance completes a close whose archive already exists, walking
// the remaining legal steps from wherever the crash left the sequence.
func (engine *Engine) finishAdvance(cfg config.Config, from Step) (CloseResult, error) {
	closing := cfg.Project.Phase
	archivePath := archive.Path(engine.repoRoot, closing, cfg.Project.Slug)

	if from == StepStalled {
		if err := engine.step(closing, StepCompleting, ""); err != nil {
			return CloseResult{}, fmt.Errorf("phase %d: %w", closing, err)
		}
	}
	if err := engine.step(closing, StepArchiving, archivePath); err != nil {
		return CloseResult{}, fmt.Errorf("phase %d: %w", closing, err)
	}

	next := config.AdvancePhase(cfg)
	if err := config.Save(next, config.Path(engine.repoRoot)); err != nil {
		engine.stall(closing, err)
		return CloseResult{}, fmt.Errorf("phase %d: advance config: %v: %w", closing, err, ErrStalled)
	}
	if err := engine.step(closing, StepAdvanced, archivePath); err != nil {
		engine.warnf("phase %d: %v", closing, err)
	}
	return CloseResult{
		ClosedPhase: closing,
		NextPhase:   next.Project.Phase,
		ArchivePath: archivePath,
	}, nil
}

// archivePhase snapshots the phase. An existing snapshot is adopted only
// when the caller established that a prior interrupted close of this
// phase wrote it; any other collision propagates the write-once error.
func (engine *Engine) archivePhase(ctx context.Context, cfg config.Config, verdicts []completion.Verdict, adopt bool) (string, error) {
	timeout := time.Duration(cfg.Thresholds.ArchiveTimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	path, err := archive.Snapshot(ctx, engine.repoRoot, cfg, verdicts)
	if errors.Is(err, archive.ErrArchiveExists) && adopt {
		return archive.Path(engine.repoRoot, cfg.Project.Phase, cfg.Project.Slug), nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// closeInProgress reports whether the step belongs to an unfinished
// close sequence.
func closeInProgress(step Step) bool {
	switch step {
	case StepCompleting, StepArchiving, StepStalled:
		return true
	}
	return false
}

// priorState loads the persisted close state. An unreadable file is an
// advisory cache gone bad: it degrades to absent with a warning instead
// of blocking the close sequence.
func (engine *Engine) priorState() (State, bool) {
	state, ok, err := LoadState(engine.repoRoot)
	if err != nil {
		engine.warnf("ignoring unreadable phase state: %v", err)
		return State{}, false
	}
	return state, ok
}

// step validates the change against the last persisted position and
// persists it. Persistence failures downgrade to warnings so a broken
// state file cannot wedge an otherwise valid close; a transition the
// guard table forbids is an error.
func (engine *Engine) step(phase int, step Step, archivePath string) error {
	state := State{
		Phase:       phase,
		Step:        step,
		UpdatedAt:   engine.now().UTC(),
		ArchivePath: archivePath,
	}
	if prior, ok := engine.priorState(); ok && prior.Phase == phase {
		if prior.Step != "" && prior.Step != step {
			if err := ValidateStep(prior.Step, step); err != nil {
				return err
			}
		}
		state.Workers = prior.Workers
	}
	if err := SaveState(engine.repoRoot, state); err != nil {
		engine.warnf("failed to persist phase state: %v", err)
	}
	engine.record(events.Event{
		Name: events.EventPhaseStep,
		Fields: map[string]string{
			"phase": fmt.Sprintf("%d", phase),
			"step":  string(step),
		},
	})
	return nil
}

// stall persists a stalled close with its cause. The error path always
// persists; losing the stall marker would hide the failed close.
func (engine *Engine) stall(phase int, cause error) {
	state := State{
		Phase:     phase,
		Step:      StepStalled,
		UpdatedAt: engine.now().UTC(),
		Error:     cause.Error(),
	}
	if prior, ok := engine.priorState(); ok && prior.Phase == phase {
		state.Workers = prior.Workers
	}
	if err := SaveState(engine.repoRoot, state); err != nil {
		engine.warnf("failed to persist stalled phase state: %v", err)
	}
	engine.record(events.Event{
		Name: events.EventPhaseStep,
		Fields: map[string]string{
			"phase": fmt.Sprintf("%d", phase),
			"step":  string(StepStalled),
			"error": cause.Error(),
		},
	})
}

// record appends a phase event, downgrading failures to warnings.
func (engine *Engine) record(event events.Event) {
	if engine.events == nil {
		return
	}
	if err := engine.events.Append(event); err != nil {
		engine.warnf("failed to record %s event: %v", event.Name, err)
	}
}

func (engine *Engine) warnf(format string, args ...any) {
	if engine.warn != nil {
		engine.warn(fmt.Sprintf(format, args...))
	}
}

// forcedWorkers reports the overridden worker ids for a forced close.
func forcedWorkers(force bool, incomplete []string) []string {
	if !force {
		return nil
	}
	return incomplete
}
