// Package config provides configuration validation.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/czarina-dev/czarina/internal/slug"
)

// ValidationIssue reports one schema violation with the offending field.
type ValidationIssue struct {
	Field   string
	Message string
}

// String renders the issue as "field: message".
func (issue ValidationIssue) String() string {
	return issue.Field + ": " + issue.Message
}

// Validate checks the configuration against the schema and returns every
// issue found. An empty slice means the config is valid. Values are never
// silently coerced; the caller decides whether to abort or surface issues.
func Validate(cfg Config) []ValidationIssue {
	var issues []ValidationIssue

	if strings.TrimSpace(cfg.Project.Name) == "" {
		issues = append(issues, ValidationIssue{Field: "project.name", Message: "is required"})
	}
	if err := slug.Validate(cfg.Project.Slug); err != nil {
		issues = append(issues, ValidationIssue{Field: "project.slug", Message: err.Error()})
	}
	if cfg.Project.Phase < 1 {
		issues = append(issues, ValidationIssue{
			Field:   "project.phase",
			Message: fmt.Sprintf("must be a positive integer, got %d", cfg.Project.Phase),
		})
	}
	if strings.TrimSpace(cfg.Project.OmnibusBranch) == "" {
		issues = append(issues, ValidationIssue{Field: "project.omnibus_branch", Message: "is required"})
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		issues = append(issues, ValidationIssue{Field: "phase_completion_mode", Message: err.Error()})
	}

	issues = append(issues, validateWorkers(cfg)...)
	return issues
}

// validateWorkers checks worker ids, branch prefixes, phases, and the
// dependency graph.
func validateWorkers(cfg Config) []ValidationIssue {
	var issues []ValidationIssue

	seen := make(map[string]int, len(cfg.Workers))
	for i, worker := range cfg.Workers {
		field := fmt.Sprintf("workers[%d]", i)
		if strings.TrimSpace(worker.ID) == "" {
			issues = append(issues, ValidationIssue{Field: field + ".id", Message: "is required"})
			continue
		}
		seen[worker.ID]++
		if worker.Phase != cfg.Project.Phase {
			issues = append(issues, ValidationIssue{
				Field:   field + ".phase",
				Message: fmt.Sprintf("worker %q has phase %d, config phase is %d", worker.ID, worker.Phase, cfg.Project.Phase),
			})
		}
		prefix := BranchPrefix(cfg.Project.Phase)
		if !strings.HasPrefix(worker.Branch, prefix) {
			issues = append(issues, ValidationIssue{
				Field:   field + ".branch",
				Message: fmt.Sprintf("branch %q must start with %q for phase %d", worker.Branch, prefix, cfg.Project.Phase),
			})
		}
	}

	for id, count := range seen {
		if count > 1 {
			issues = append(issues, ValidationIssue{
				Field:   "workers",
				Message: fmt.Sprintf("duplicate worker id %q", id),
			})
		}
	}

	issues = append(issues, validateDependencies(cfg.Workers, seen)...)
	return issues
}

// validateDependencies verifies dependency references exist and the graph
// is acyclic via Kahn's topological sort.
func validateDependencies(workers []WorkerSpec, known map[string]int) []ValidationIssue {
	var issues []ValidationIssue

	indegree := make(map[string]int, len(workers))
	dependents := make(map[string][]string, len(workers))
	for _, worker := range workers {
		if _, ok := indegree[worker.ID]; !ok {
			indegree[worker.ID] = 0
		}
		for _, dep := range worker.Dependencies {
			if dep == worker.ID {
				issues = append(issues, ValidationIssue{
					Field:   "workers",
					Message: fmt.Sprintf("worker %q depends on itself", worker.ID),
				})
				continue
			}
			if _, ok := known[dep]; !ok {
				issues = append(issues, ValidationIssue{
					Field:   "workers",
					Message: fmt.Sprintf("worker %q references missing dependency %q", worker.ID, dep),
				})
				continue
			}
			indegree[worker.ID]++
			dependents[dep] = append(dependents[dep], worker.ID)
		}
	}

	var ready []string
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	resolved := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		resolved++
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if resolved < len(indegree) {
		var cyclic []string
		for id, degree := range indegree {
			if degree > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		issues = append(issues, ValidationIssue{
			Field:   "workers",
			Message: fmt.Sprintf("dependency cycle involving: %s", strings.Join(cyclic, ", ")),
		})
	}

	return issues
}

// TopologicalOrder returns worker ids in dependency order. It fails when
// the graph has a cycle, so callers should validate first.
func TopologicalOrder(workers []WorkerSpec) ([]string, error) {
	indegree := make(map[string]int, len(workers))
	dependents := make(map[string][]string, len(workers))
	for _, worker := range workers {
		if _, ok := indegree[worker.ID]; !ok {
			indegree[worker.ID] = 0
		}
		for _, dep := range worker.Dependencies {
			indegree[worker.ID]++
			dependents[dep] = append(dependents[dep], worker.ID)
		}
	}

	var ready []string
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := dependents[id]
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) < len(indegree) {
		return nil, fmt.Errorf("dependency graph has a cycle (%d of %d workers resolvable)", len(order), len(indegree))
	}
	return order, nil
}
