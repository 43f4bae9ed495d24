// Package config defines the czarina project configuration model.
package config

import "fmt"

// Config is the declarative project configuration driving a czarina run.
// It is created once at project init and mutated only by the phase
// transition engine (phase advance) or by explicit reconfiguration between
// phases, never while workers are active.
type Config struct {
	Project    ProjectConfig    `json:"project"`
	Mode       CompletionMode   `json:"phase_completion_mode"`
	Workers    []WorkerSpec     `json:"workers"`
	Thresholds ThresholdsConfig `json:"thresholds"`
	// MarkerPattern is an optional RE2 regex accepted as a completion
	// marker in raw worker log lines, for agents that cannot emit
	// structured events.
	MarkerPattern string         `json:"completion_marker_pattern,omitempty"`
	Commands      CommandsConfig `json:"commands"`
}

// CommandsConfig maps worker roles to launch command templates. Tokens
// {worker_id}, {branch}, {phase}, {repo_root}, and {worktree} are
// substituted at launch time.
type CommandsConfig struct {
	Default []string            `json:"default,omitempty"`
	Roles   map[string][]string `json:"roles,omitempty"`
}

// ProjectConfig identifies the project and its current phase.
type ProjectConfig struct {
	Name string `json:"name"`
	// Slug is the immutable project identifier. It names the tmux session
	// and archive directories, so it must not contain dots.
	Slug string `json:"slug"`
	// Phase is the current phase number, >= 1, monotonically increasing.
	Phase int `json:"phase"`
	// OmnibusBranch is the per-phase integration branch that worker
	// branches merge into; completion ancestry checks target its tip.
	OmnibusBranch string `json:"omnibus_branch"`
}

// WorkerSpec declares one worker within a phase.
type WorkerSpec struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Branch string `json:"branch"`
	Phase  int    `json:"phase"`
	// Dependencies lists worker ids in the same phase that must reach
	// complete before this worker may launch. The set must form a DAG.
	Dependencies []string `json:"dependencies"`
}

// Role selects the launch behavior for a worker. The orchestrator core
// treats it as opaque; the supervisor resolves it against a closed set of
// launch strategies.
type Role string

const (
	RoleCore          Role = "core"
	RoleQA            Role = "qa"
	RoleIntegration   Role = "integration"
	RoleDocumentation Role = "documentation"
	RoleResearch      Role = "research"
)

// CompletionMode names the policy combining the three completion signals.
type CompletionMode string

const (
	// ModeAny accepts any single witness. This is the default: it is the
	// most resilient to one broken reporting channel.
	ModeAny CompletionMode = "any"
	// ModeStrict requires the log marker plus at least one corroborating
	// witness.
	ModeStrict CompletionMode = "strict"
	// ModeAll requires all three witnesses. Most prone to false negatives
	// when any single reporting path is broken; do not default to it.
	ModeAll CompletionMode = "all"
)

// ParseMode resolves a completion mode from its config string.
func ParseMode(value string) (CompletionMode, error) {
	switch CompletionMode(value) {
	case ModeAny, ModeStrict, ModeAll:
		return CompletionMode(value), nil
	default:
		return "", fmt.Errorf("unknown phase_completion_mode %q (want any, strict, or all)", value)
	}
}

// ThresholdsConfig carries the daemon timing knobs, in seconds.
type ThresholdsConfig struct {
	// TickSeconds is the daemon poll interval.
	TickSeconds int `json:"tick_seconds"`
	// IdleSeconds is the window without signal activity after which an
	// active worker is reported idle.
	IdleSeconds int `json:"idle_seconds"`
	// StuckSeconds is the longer window after which an idle worker is
	// reported stuck. Must exceed IdleSeconds.
	StuckSeconds int `json:"stuck_seconds"`
	// ArchiveTimeoutSeconds bounds a phase archive snapshot; on expiry the
	// snapshot fails and the transition engine stalls, retryable.
	ArchiveTimeoutSeconds int `json:"archive_timeout_seconds"`
	// CollectConcurrency bounds parallel per-worker signal reads per tick.
	CollectConcurrency int `json:"collect_concurrency"`
}

// BranchPrefix returns the mandatory branch prefix for the given phase.
// Phase 1 workers branch from cz1/, phase 2 from cz2/, and so on.
func BranchPrefix(phase int) string {
	return fmt.Sprintf("cz%d/", phase)
}
