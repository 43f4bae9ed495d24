// Package config defines the on-disk layout for czarina project state.
package config

import "path/filepath"

const (
	// projectDirName is the per-repo directory holding all czarina state.
	projectDirName = ".czarina"
	// configFileName is the project configuration file.
	configFileName = "config.json"
	// logsDirName holds per-worker log streams.
	logsDirName = "logs"
	// statusDirName holds per-worker status artifacts.
	statusDirName = "status"
	// archivesDirName holds immutable phase archives.
	archivesDirName = "archives"
	// worktreesDirName holds per-worker isolated checkouts.
	worktreesDirName = "worktrees"
	// runDirName holds per-worker dispatch metadata and exit records.
	runDirName = "run"
	// eventsFileName is the orchestrator's append-only event stream.
	eventsFileName = "events.jsonl"
	// phaseStateFileName is the persisted phase state snapshot.
	phaseStateFileName = "phase-state.json"
	// daemonStateFileName is the persisted daemon run state.
	daemonStateFileName = "daemon-state.json"
	// runLockFileName is the daemon exclusivity lock.
	runLockFileName = "run.lock"
)

// ProjectDir returns the czarina state directory for the repo.
func ProjectDir(repoRoot string) string {
	return filepath.Join(repoRoot, projectDirName)
}

// Path returns the project configuration file path.
func Path(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), configFileName)
}

// LogsDir returns the directory holding per-worker logs.
func LogsDir(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), logsDirName)
}

// WorkerLogPath returns the log stream path for a worker.
func WorkerLogPath(repoRoot string, workerID string) string {
	return filepath.Join(LogsDir(repoRoot), workerID+".log")
}

// StatusDir returns the directory holding per-worker status files.
func StatusDir(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), statusDirName)
}

// WorkerStatusPath returns the status artifact path for a worker.
func WorkerStatusPath(repoRoot string, workerID string) string {
	return filepath.Join(StatusDir(repoRoot), workerID+".json")
}

// EventsPath returns the orchestrator event stream path.
func EventsPath(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), eventsFileName)
}

// PhaseStatePath returns the persisted phase state path.
func PhaseStatePath(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), phaseStateFileName)
}

// DaemonStatePath returns the persisted daemon run state path.
func DaemonStatePath(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), daemonStateFileName)
}

// RunLockPath returns the daemon run lock path.
func RunLockPath(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), runLockFileName)
}

// ArchivesDir returns the directory holding phase archives.
func ArchivesDir(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), archivesDirName)
}

// RunDir returns the directory holding dispatch state for a worker.
func RunDir(repoRoot string, workerID string) string {
	return filepath.Join(ProjectDir(repoRoot), runDirName, workerID)
}

// WorktreesDir returns the directory holding worker checkouts.
func WorktreesDir(repoRoot string) string {
	return filepath.Join(ProjectDir(repoRoot), worktreesDirName)
}
