package supervisor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/czarina-dev/czarina/internal/config"
)

// ResolveCommand resolves the launch command template for a worker's role
// and substitutes tokens. Roles without a template fall back to the
// default command; a worker with neither is an error, never a guess.
func ResolveCommand(cfg config.Config, spec config.WorkerSpec, repoRoot string, worktreePath string) ([]string, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	template, err := selectCommandTemplate(cfg, spec.Role)
	if err != nil {
		return nil, err
	}
	return applyTemplate(template, spec, repoRoot, worktreePath), nil
}

// selectCommandTemplate chooses the command template for the given role.
func selectCommandTemplate(cfg config.Config, role config.Role) ([]string, error) {
	if role != "" {
		if command, ok := cfg.Commands.Roles[string(role)]; ok && len(command) > 0 {
			return cloneStrings(command), nil
		}
	}
	if len(cfg.Commands.Default) == 0 {
		if role != "" {
			return nil, fmt.Errorf("no launch command for role %q and no default command configured", role)
		}
		return nil, errors.New("default launch command is required")
	}
	return cloneStrings(cfg.Commands.Default), nil
}

// applyTemplate substitutes supported tokens in the command template.
func applyTemplate(template []string, spec config.WorkerSpec, repoRoot string, worktreePath string) []string {
	replacer := strings.NewReplacer(
		"{worker_id}", spec.ID,
		"{branch}", spec.Branch,
		"{phase}", strconv.Itoa(spec.Phase),
		"{repo_root}", repoRoot,
		"{worktree}", worktreePath,
	)
	resolved := make([]string, len(template))
	for i, token := range template {
		resolved[i] = replacer.Replace(token)
	}
	return resolved
}

// cloneStrings copies a string slice to avoid shared references.
func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
