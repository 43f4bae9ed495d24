package supervisor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/czarina-dev/czarina/internal/config"
)

const (
	wrapperFileMode = 0o755
	runDirMode      = 0o755
)

// DispatchResult captures the metadata of a detached worker launch.
type DispatchResult struct {
	PID       int
	StartedAt time.Time
	LogPath   string
	ExitPath  string
}

// dispatchMetadata records launch-time details for debugging and for
// distinguishing never-launched workers from wiped ones.
type dispatchMetadata struct {
	WorkerID   string    `json:"worker_id"`
	Branch     string    `json:"branch"`
	Phase      int       `json:"phase"`
	WorkDir    string    `json:"work_dir"`
	Command    []string  `json:"command"`
	WrapperPID int       `json:"wrapper_pid"`
	StartedAt  time.Time `json:"started_at"`
	StartError string    `json:"start_error,omitempty"`
}

// ExitStatus records the terminal status of a worker process.
type ExitStatus struct {
	ExitCode   int       `json:"exit_code"`
	FinishedAt time.Time `json:"finished_at"`
	PID        int       `json:"pid,omitempty"`
}

// dispatchWorker launches the command in the background via nohup. The
// worker's stdout and stderr both append to its log so activity there
// refreshes the staleness clock; a wrapper script records the exit code
// once the process ends.
func dispatchWorker(repoRoot string, spec config.WorkerSpec, command []string, workDir string, warn func(string)) (DispatchResult, error) {
	if len(command) == 0 {
		return DispatchResult{}, errors.New("command is required")
	}
	if strings.TrimSpace(workDir) == "" {
		return DispatchResult{}, errors.New("work directory is required")
	}
	runDir := config.RunDir(repoRoot, spec.ID)
	if err := os.MkdirAll(runDir, runDirMode); err != nil {
		return DispatchResult{}, fmt.Errorf("create run dir %s: %w", runDir, err)
	}
	if err := os.MkdirAll(config.LogsDir(repoRoot), runDirMode); err != nil {
		return DispatchResult{}, fmt.Errorf("create logs dir: %w", err)
	}

	logPath := config.WorkerLogPath(repoRoot, spec.ID)
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("open worker log %s: %w", logPath, err)
	}
	defer logFile.Close()

	exitPath := filepath.Join(runDir, "exit.json")
	wrapperPath, err := writeDispatchWrapper(runDir, command, exitPath)
	if err != nil {
		return DispatchResult{}, err
	}

	cmd := exec.Command("nohup", wrapperPath)
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	startedAt := time.Now().UTC()
	meta := dispatchMetadata{
		WorkerID:  spec.ID,
		Branch:    spec.Branch,
		Phase:     spec.Phase,
		WorkDir:   workDir,
		Command:   cloneStrings(command),
		StartedAt: startedAt,
	}
	writeDispatchMetadata(runDir, meta, warn)
	if err := cmd.Start(); err != nil {
		meta.StartError = err.Error()
		writeDispatchMetadata(runDir, meta, warn)
		return DispatchResult{}, fmt.Errorf("start worker process: %w", err)
	}
	pid := cmd.Process.Pid
	meta.WrapperPID = pid
	writeDispatchMetadata(runDir, meta, warn)
	if err := cmd.Process.Release(); err != nil {
		emitWarning(warn, fmt.Sprintf("failed to detach worker process: %v", err))
	}

	return DispatchResult{
		PID:       pid,
		StartedAt: startedAt,
		LogPath:   logPath,
		ExitPath:  exitPath,
	}, nil
}

// Dispatched reports whether a worker process was ever launched.
func Dispatched(repoRoot string, workerID string) bool {
	path := filepath.Join(config.RunDir(repoRoot, workerID), "dispatch.json")
	_, err := os.Stat(path)
	return err == nil
}

// ReadExitStatus reads a worker's exit record if its process has ended.
func ReadExitStatus(repoRoot string, workerID string) (ExitStatus, bool, error) {
	path := filepath.Join(config.RunDir(repoRoot, workerID), "exit.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ExitStatus{}, false, nil
		}
		return ExitStatus{}, false, fmt.Errorf("read exit status %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ExitStatus{}, false, nil
	}
	var status ExitStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return ExitStatus{}, false, fmt.Errorf("decode exit status %s: %w", path, err)
	}
	return status, true, nil
}

// ProcessAlive reports whether the dispatched wrapper process still runs.
func ProcessAlive(repoRoot string, workerID string) (bool, error) {
	meta, ok, err := readDispatchMetadata(repoRoot, workerID)
	if err != nil || !ok || meta.WrapperPID <= 0 {
		return false, err
	}
	return processExists(meta.WrapperPID)
}

// readDispatchMetadata loads a worker's dispatch record when present.
func readDispatchMetadata(repoRoot string, workerID string) (dispatchMetadata, bool, error) {
	path := filepath.Join(config.RunDir(repoRoot, workerID), "dispatch.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dispatchMetadata{}, false, nil
		}
		return dispatchMetadata{}, false, fmt.Errorf("read dispatch metadata %s: %w", path, err)
	}
	var meta dispatchMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return dispatchMetadata{}, false, fmt.Errorf("decode dispatch metadata %s: %w", path, err)
	}
	return meta, true, nil
}

// writeDispatchWrapper writes a wrapper script that records exit status.
func writeDispatchWrapper(runDir string, command []string, exitPath string) (string, error) {
	wrapperPath := filepath.Join(runDir, "dispatch.sh")
	content := strings.Join([]string{
		"#!/bin/sh",
		"set +e",
		shellCommandLine(command) + " &",
		"pid=$!",
		"wait $pid",
		"code=$?",
		"finished_at=$(date -u +\"%Y-%m-%dT%H:%M:%SZ\")",
		"printf '{\"exit_code\":%d,\"finished_at\":\"%s\",\"pid\":%d}\\n' \"$code\" \"$finished_at\" \"$pid\" > " + shellEscapeArg(exitPath),
		"exit $code",
		"",
	}, "\n")
	if err := os.WriteFile(wrapperPath, []byte(content), wrapperFileMode); err != nil {
		return "", fmt.Errorf("write dispatch wrapper %s: %w", wrapperPath, err)
	}
	return wrapperPath, nil
}

// writeDispatchMetadata persists dispatch metadata without failing the
// dispatch on error.
func writeDispatchMetadata(runDir string, meta dispatchMetadata, warn func(string)) {
	path := filepath.Join(runDir, "dispatch.json")
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		emitWarning(warn, fmt.Sprintf("failed to encode dispatch metadata: %v", err))
		return
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		emitWarning(warn, fmt.Sprintf("failed to write dispatch metadata: %v", err))
	}
}

// processExists probes a pid with signal 0.
func processExists(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return false, nil
	}
	if errors.Is(err, syscall.EPERM) {
		return true, nil
	}
	return false, err
}

// emitWarning forwards a warning when a sink is configured.
func emitWarning(warn func(string), message string) {
	if warn != nil {
		warn(message)
	}
}

// shellCommandLine builds a shell-safe command string from arguments.
func shellCommandLine(args []string) string {
	escaped := make([]string, 0, len(args))
	for _, arg := range args {
		escaped = append(escaped, shellEscapeArg(arg))
	}
	return strings.Join(escaped, " ")
}

// shellEscapeArg escapes a string for safe use in /bin/sh.
func shellEscapeArg(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "'\"'\"'") + "'"
}
