// Package config provides configuration persistence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	configFileMode os.FileMode = 0o644
	configDirMode  os.FileMode = 0o755
)

// Save writes the configuration to path atomically: the encoded bytes land
// in a temp file beside the target and are renamed into place, so a crash
// mid-write never leaves a torn config. The daemon is the sole writer while
// a run is active; external edits must happen between runs.
func Save(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirMode); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}

	encoded, err := encodeConfig(cfg)
	if err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp config in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp config %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp config %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, configFileMode); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp config %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename config into place %s: %w", path, err)
	}
	return nil
}

// AdvancePhase returns a copy of the configuration with the phase pointer
// incremented by one and the worker set cleared. Pure: the receiver config
// and disk are untouched. Next-phase workers arrive by explicit
// reconfiguration, never automatically.
//
// An omnibus branch carrying the closing phase's prefix is rewritten to
// the next phase's prefix; custom branch names are left alone.
func AdvancePhase(cfg Config) Config {
	next := cfg
	next.Project.Phase = cfg.Project.Phase + 1
	next.Workers = nil
	oldPrefix := BranchPrefix(cfg.Project.Phase)
	if strings.HasPrefix(cfg.Project.OmnibusBranch, oldPrefix) {
		next.Project.OmnibusBranch = BranchPrefix(next.Project.Phase) + strings.TrimPrefix(cfg.Project.OmnibusBranch, oldPrefix)
	}
	return next
}

// encodeConfig produces deterministic JSON bytes for the config.
func encodeConfig(cfg Config) ([]byte, error) {
	normalized := cfg
	if len(cfg.Workers) > 0 {
		normalized.Workers = make([]WorkerSpec, len(cfg.Workers))
		copy(normalized.Workers, cfg.Workers)
		for i := range normalized.Workers {
			normalized.Workers[i].Dependencies = sortedStrings(normalized.Workers[i].Dependencies)
		}
	}

	encoded, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if len(encoded) == 0 || encoded[len(encoded)-1] != '\n' {
		encoded = append(encoded, '\n')
	}
	return encoded, nil
}

// sortedStrings returns a sorted copy of the provided slice.
func sortedStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	normalized := make([]string, len(values))
	copy(normalized, values)
	sort.Strings(normalized)
	return normalized
}
