package phase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/czarina-dev/czarina/internal/config"
)

// State is the persisted close-sequence position. It is advisory: a
// resumed close re-verifies completion and archive presence on disk
// rather than trusting a snapshot that may predate a crash.
type State struct {
	Phase       int       `json:"phase"`
	Step        Step      `json:"step"`
	UpdatedAt   time.Time `json:"updated_at"`
	ArchivePath string    `json:"archive_path,omitempty"`
	Error       string    `json:"error,omitempty"`
	// Workers caches each worker's last observed runtime state for
	// display continuity across daemon restarts.
	Workers map[string]string `json:"workers,omitempty"`
}

// Archived reports whether this phase's snapshot reached disk.
func (state State) Archived() bool {
	return state.ArchivePath != ""
}

// LoadState reads the persisted close state when present.
func LoadState(repoRoot string) (State, bool, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return State{}, false, errors.New("repo root is required")
	}
	path := config.PhaseStatePath(repoRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("read phase state %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return State{}, false, nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode phase state %s: %w", path, err)
	}
	return state, true, nil
}

// SaveState persists the close state to disk. The write is atomic: the
// encoded bytes land in a temp file beside the target and are renamed
// into place, so a crash mid-write never leaves a torn state file.
func SaveState(repoRoot string, state State) error {
	if strings.TrimSpace(repoRoot) == "" {
		return errors.New("repo root is required")
	}
	path := config.PhaseStatePath(repoRoot)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create phase state directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode phase state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".phase-state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp phase state in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp phase state %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp phase state %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp phase state %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename phase state into place %s: %w", path, err)
	}
	return nil
}

// ClearState removes the persisted close state.
func ClearState(repoRoot string) error {
	path := config.PhaseStatePath(repoRoot)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove phase state %s: %w", path, err)
	}
	return nil
}
