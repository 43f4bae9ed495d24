// Package daemon runs the long-lived monitor loop that watches workers,
// launches dependency-gated ones, and keeps run state on disk.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/czarina-dev/czarina/internal/config"
)

const (
	runLockFileMode = 0o644
	stateDirMode    = 0o755
)

// ErrLockHeld reports another daemon already owns the repo.
var ErrLockHeld = errors.New("daemon lock already held")

// Lock holds the acquired daemon lock file handle.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive daemon flock for the repo. One daemon
// per repo: the daemon is the sole writer of orchestration state while
// it runs. The kernel drops the flock when its holder dies, so a busy
// lock always means a live daemon; holder identity comes from the run
// state record rather than the lock file itself.
func AcquireLock(repoRoot string) (*Lock, error) {
	if repoRoot == "" {
		return nil, errors.New("repo root is required")
	}

	lockPath := config.RunLockPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(lockPath), stateDirMode); err != nil {
		return nil, fmt.Errorf("create daemon lock directory %s: %w", filepath.Dir(lockPath), err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, runLockFileMode)
	if err != nil {
		return nil, fmt.Errorf("open daemon lock %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if isLockBusy(err) {
			return nil, fmt.Errorf("%w: %v", ErrLockHeld, heldBy(repoRoot, lockPath))
		}
		return nil, fmt.Errorf("lock daemon lock %s: %w", lockPath, err)
	}

	return &Lock{file: file, path: lockPath}, nil
}

// Release unlocks and removes the daemon lock file.
func (lock *Lock) Release() error {
	if lock == nil || lock.file == nil {
		return nil
	}
	if err := releaseFileLock(lock.file); err != nil {
		_ = lock.file.Close()
		return err
	}
	if err := lock.file.Close(); err != nil {
		return err
	}
	if err := os.Remove(lock.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove daemon lock %s: %w", lock.path, err)
	}
	return nil
}

// heldBy names the holding daemon from the persisted run state when it
// is readable, falling back to a generic message.
func heldBy(repoRoot, lockPath string) error {
	state, ok, err := LoadRunState(repoRoot)
	if err != nil || !ok {
		return fmt.Errorf("daemon lock %s is already held; stop the other daemon first", lockPath)
	}
	return fmt.Errorf("daemon lock %s is already held by pid %d (run %s); stop the other daemon first",
		lockPath, state.PID, state.RunID)
}

// releaseFileLock unlocks an advisory lock on the file.
func releaseFileLock(file *os.File) error {
	if file == nil {
		return nil
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlock daemon lock: %w", err)
	}
	return nil
}

// isLockBusy returns true when the lock is already held by another process.
func isLockBusy(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
