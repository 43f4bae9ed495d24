// Package status aggregates the full project view: config, worker
// signals, runtime states, and daemon liveness.
package status

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/daemon"
	"github.com/czarina-dev/czarina/internal/signal"
	"github.com/czarina-dev/czarina/internal/supervisor"
)

// Report is a point-in-time snapshot of the whole orchestration.
type Report struct {
	Project       string         `json:"project"`
	Phase         int            `json:"phase"`
	Mode          string         `json:"mode"`
	OmnibusBranch string         `json:"omnibus_branch"`
	PhaseComplete bool           `json:"phase_complete"`
	Incomplete    []string       `json:"incomplete,omitempty"`
	Workers       []WorkerReport `json:"workers"`
	Daemon        DaemonReport   `json:"daemon"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// WorkerReport is one worker's row in the report.
type WorkerReport struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Branch         string    `json:"branch"`
	State          string    `json:"state"`
	Complete       bool      `json:"complete"`
	Failed         bool      `json:"failed,omitempty"`
	LogMarker      bool      `json:"log_marker"`
	BranchMerged   bool      `json:"branch_merged"`
	StatusComplete bool      `json:"status_complete"`
	Dependencies   []string  `json:"dependencies,omitempty"`
	LastActivity   time.Time `json:"last_activity,omitzero"`
	LastCommit     string    `json:"last_commit,omitempty"`
}

// DaemonReport describes the daemon run record and its liveness.
type DaemonReport struct {
	Running  bool      `json:"running"`
	RunID    string    `json:"run_id,omitempty"`
	PID      int       `json:"pid,omitempty"`
	LastTick time.Time `json:"last_tick,omitzero"`
}

// Gather builds a report for the repo. Worker staleness classification
// uses a fresh tracker, so stuck streak counts reset per invocation; the
// daemon's persistent tracker is the authority for escalations.
func Gather(repoRoot string, cfg config.Config, warn func(string)) (Report, error) {
	collector, err := signal.NewCollector(repoRoot, cfg, warn)
	if err != nil {
		return Report{}, err
	}
	results := collector.CollectAll(cfg.Workers, cfg.Thresholds.CollectConcurrency)
	verdicts := completion.Evaluate(results, cfg.Mode)
	phaseDone, incomplete := completion.PhaseComplete(verdicts)

	tracker := supervisor.NewTracker(cfg.Thresholds)
	statuses := tracker.Refresh(verdicts, supervisor.Probe{
		Dispatched: func(workerID string) bool {
			return supervisor.Dispatched(repoRoot, workerID)
		},
		ExitCode: func(workerID string) (int, bool) {
			exit, ok, err := supervisor.ReadExitStatus(repoRoot, workerID)
			if err != nil {
				if warn != nil {
					warn(err.Error())
				}
				return 0, false
			}
			return exit.ExitCode, ok
		},
	})

	report := Report{
		Project:       cfg.Project.Name,
		Phase:         cfg.Project.Phase,
		Mode:          string(cfg.Mode),
		OmnibusBranch: cfg.Project.OmnibusBranch,
		PhaseComplete: phaseDone,
		Incomplete:    incomplete,
		Workers:       make([]WorkerReport, len(statuses)),
		Daemon:        gatherDaemon(repoRoot),
		GeneratedAt:   time.Now().UTC(),
	}
	for i, status := range statuses {
		report.Workers[i] = WorkerReport{
			ID:             status.Spec.ID,
			Role:           string(status.Spec.Role),
			Branch:         status.Spec.Branch,
			State:          string(status.State),
			Complete:       status.Complete,
			Failed:         status.Failed,
			LogMarker:      verdicts[i].Signal.LogMarker,
			BranchMerged:   verdicts[i].Signal.BranchMerged,
			StatusComplete: verdicts[i].Signal.StatusComplete,
			Dependencies:   status.Spec.Dependencies,
			LastActivity:   status.LastActivity,
			LastCommit:     lastCommitSubject(repoRoot, status.Spec.Branch),
		}
	}
	return report, nil
}

// gatherDaemon reads the run record and probes the recorded pid.
func gatherDaemon(repoRoot string) DaemonReport {
	state, ok, err := daemon.LoadRunState(repoRoot)
	if err != nil || !ok {
		return DaemonReport{}
	}
	report := DaemonReport{
		RunID:    state.RunID,
		PID:      state.PID,
		LastTick: state.LastTick,
	}
	report.Running = pidAlive(state.PID)
	return report
}

// pidAlive probes a process without signaling it.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// lastCommitSubject returns the branch tip's subject line, or empty when
// the branch does not exist yet.
func lastCommitSubject(repoRoot string, branch string) string {
	out, err := runGit(repoRoot, "log", "-1", "--format=%s", "refs/heads/"+branch)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// runGit runs a git command, returning stdout.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
