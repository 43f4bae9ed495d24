// Package config provides workspace initialization.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/czarina-dev/czarina/internal/slug"
)

// InitOptions controls workspace initialization.
type InitOptions struct {
	ProjectName string
	// OmnibusBranch overrides the default cz1/omnibus integration branch.
	OmnibusBranch string
}

// InitLayout scaffolds the .czarina directory with a default phase-1
// configuration plus the logs and status directories workers report into.
// It refuses to overwrite an existing config.
func InitLayout(repoRoot string, opts InitOptions) (Config, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return Config{}, errors.New("repo root is required")
	}
	name := strings.TrimSpace(opts.ProjectName)
	if name == "" {
		return Config{}, errors.New("project name is required")
	}

	configPath := Path(repoRoot)
	if _, err := os.Stat(configPath); err == nil {
		return Config{}, fmt.Errorf("config already exists at %s; edit it instead of re-initializing", configPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat config %s: %w", configPath, err)
	}

	projectSlug := slug.Slugify(name)
	if err := slug.Validate(projectSlug); err != nil {
		return Config{}, fmt.Errorf("derive project slug from %q: %w", name, err)
	}

	omnibus := strings.TrimSpace(opts.OmnibusBranch)
	if omnibus == "" {
		omnibus = BranchPrefix(1) + "omnibus"
	}

	cfg := Defaults()
	cfg.Project = ProjectConfig{
		Name:          name,
		Slug:          projectSlug,
		Phase:         1,
		OmnibusBranch: omnibus,
	}

	for _, dir := range []string{LogsDir(repoRoot), StatusDir(repoRoot), ArchivesDir(repoRoot)} {
		if err := os.MkdirAll(dir, configDirMode); err != nil {
			return Config{}, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := Save(cfg, configPath); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Worker returns the spec for the given worker id when present.
func (cfg Config) Worker(id string) (WorkerSpec, bool) {
	for _, worker := range cfg.Workers {
		if worker.ID == id {
			return worker, true
		}
	}
	return WorkerSpec{}, false
}
