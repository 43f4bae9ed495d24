package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/czarina-dev/czarina/internal/config"
)

// RunState is the persisted daemon run record. A surviving record with a
// dead pid is how a resumed daemon knows the previous run crashed.
type RunState struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Phase     int       `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	LastTick  time.Time `json:"last_tick"`
	Ticks     int       `json:"ticks"`
}

// LoadRunState reads the persisted daemon run state when present.
func LoadRunState(repoRoot string) (RunState, bool, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return RunState{}, false, errors.New("repo root is required")
	}
	path := config.DaemonStatePath(repoRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunState{}, false, nil
		}
		return RunState{}, false, fmt.Errorf("read daemon state %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return RunState{}, false, nil
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return RunState{}, false, fmt.Errorf("decode daemon state %s: %w", path, err)
	}
	return state, true, nil
}

// SaveRunState persists the daemon run state to disk.
func SaveRunState(repoRoot string, state RunState) error {
	if strings.TrimSpace(repoRoot) == "" {
		return errors.New("repo root is required")
	}
	path := config.DaemonStatePath(repoRoot)
	if err := os.MkdirAll(config.ProjectDir(repoRoot), stateDirMode); err != nil {
		return fmt.Errorf("create daemon state directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode daemon state: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write daemon state %s: %w", path, err)
	}
	return nil
}
