package config

import (
	"strings"
	"testing"
)

// issueFor returns the first issue whose message mentions the fragment.
func issueFor(issues []ValidationIssue, fragment string) (ValidationIssue, bool) {
	for _, issue := range issues {
		if strings.Contains(issue.String(), fragment) {
			return issue, true
		}
	}
	return ValidationIssue{}, false
}

// TestValidateAcceptsValidConfig verifies a well-formed config yields no issues.
func TestValidateAcceptsValidConfig(t *testing.T) {
	if issues := Validate(validConfig()); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

// TestValidateRejectsCycle verifies circular worker dependencies fail.
func TestValidateRejectsCycle(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = []WorkerSpec{
		{ID: "a", Role: RoleCore, Branch: "cz1/a", Phase: 1, Dependencies: []string{"c"}},
		{ID: "b", Role: RoleCore, Branch: "cz1/b", Phase: 1, Dependencies: []string{"a"}},
		{ID: "c", Role: RoleCore, Branch: "cz1/c", Phase: 1, Dependencies: []string{"b"}},
	}

	issues := Validate(cfg)
	if _, ok := issueFor(issues, "cycle"); !ok {
		t.Fatalf("issues %v do not report the cycle", issues)
	}
}

// TestValidateAcceptsDiamondDAG verifies a valid diamond dependency graph passes.
func TestValidateAcceptsDiamondDAG(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = []WorkerSpec{
		{ID: "a", Role: RoleCore, Branch: "cz1/a", Phase: 1},
		{ID: "b", Role: RoleCore, Branch: "cz1/b", Phase: 1, Dependencies: []string{"a"}},
		{ID: "c", Role: RoleQA, Branch: "cz1/c", Phase: 1, Dependencies: []string{"a"}},
		{ID: "d", Role: RoleIntegration, Branch: "cz1/d", Phase: 1, Dependencies: []string{"b", "c"}},
	}

	if issues := Validate(cfg); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

// TestValidateRejectsSelfDependency verifies a worker cannot depend on itself.
func TestValidateRejectsSelfDependency(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = []WorkerSpec{
		{ID: "a", Role: RoleCore, Branch: "cz1/a", Phase: 1, Dependencies: []string{"a"}},
	}

	issues := Validate(cfg)
	if _, ok := issueFor(issues, "depends on itself"); !ok {
		t.Fatalf("issues %v do not report the self-dependency", issues)
	}
}

// TestValidateRejectsMissingDependency verifies unknown dependency ids fail.
func TestValidateRejectsMissingDependency(t *testing.T) {
	cfg := validConfig()
	cfg.Workers[1].Dependencies = []string{"ghost"}

	issues := Validate(cfg)
	if _, ok := issueFor(issues, "missing dependency"); !ok {
		t.Fatalf("issues %v do not report the missing dependency", issues)
	}
}

// TestValidateRejectsBranchPrefixMismatch verifies cz{phase}/ enforcement.
func TestValidateRejectsBranchPrefixMismatch(t *testing.T) {
	cfg := validConfig()
	cfg.Workers[0].Branch = "cz2/feat-x"

	issues := Validate(cfg)
	issue, ok := issueFor(issues, `must start with "cz1/"`)
	if !ok {
		t.Fatalf("issues %v do not report the branch prefix", issues)
	}
	if !strings.HasPrefix(issue.Field, "workers[0]") {
		t.Fatalf("issue field = %q, want workers[0].branch", issue.Field)
	}
}

// TestValidateRejectsDuplicateIDs verifies duplicate worker ids fail.
func TestValidateRejectsDuplicateIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Workers = append(cfg.Workers, cfg.Workers[0])

	issues := Validate(cfg)
	if _, ok := issueFor(issues, "duplicate worker id"); !ok {
		t.Fatalf("issues %v do not report the duplicate", issues)
	}
}

// TestValidateRejectsNonPositivePhase verifies phase >= 1 enforcement.
func TestValidateRejectsNonPositivePhase(t *testing.T) {
	cfg := validConfig()
	cfg.Project.Phase = 0
	for i := range cfg.Workers {
		cfg.Workers[i].Phase = 0
	}

	issues := Validate(cfg)
	if _, ok := issueFor(issues, "positive integer"); !ok {
		t.Fatalf("issues %v do not report the phase", issues)
	}
}

// TestTopologicalOrder verifies dependency ordering and cycle rejection.
func TestTopologicalOrder(t *testing.T) {
	workers := []WorkerSpec{
		{ID: "d", Dependencies: []string{"b", "c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "a"},
	}

	order, err := TopologicalOrder(workers)
	if err != nil {
		t.Fatalf("topological order: %v", err)
	}
	position := map[string]int{}
	for i, id := range order {
		position[id] = i
	}
	if position["a"] > position["b"] || position["a"] > position["c"] || position["b"] > position["d"] || position["c"] > position["d"] {
		t.Fatalf("order %v violates dependencies", order)
	}

	cyclic := []WorkerSpec{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	if _, err := TopologicalOrder(cyclic); err == nil {
		t.Fatal("expected cycle error")
	}
}

// TestBranchPrefix verifies the phase prefix convention.
func TestBranchPrefix(t *testing.T) {
	if got := BranchPrefix(1); got != "cz1/" {
		t.Fatalf("BranchPrefix(1) = %q, want cz1/", got)
	}
	if got := BranchPrefix(12); got != "cz12/" {
		t.Fatalf("BranchPrefix(12) = %q, want cz12/", got)
	}
}

// TestInitLayout verifies workspace scaffolding and re-init refusal.
func TestInitLayout(t *testing.T) {
	root := t.TempDir()

	cfg, err := InitLayout(root, InitOptions{ProjectName: "SARK v2"})
	if err != nil {
		t.Fatalf("init layout: %v", err)
	}
	if cfg.Project.Slug != "sark-v2" {
		t.Fatalf("slug = %q, want sark-v2", cfg.Project.Slug)
	}
	if cfg.Project.OmnibusBranch != "cz1/omnibus" {
		t.Fatalf("omnibus = %q", cfg.Project.OmnibusBranch)
	}

	loaded, err := Load(Path(root), nil)
	if err != nil {
		t.Fatalf("load scaffolded config: %v", err)
	}
	if loaded.Project.Phase != 1 {
		t.Fatalf("phase = %d, want 1", loaded.Project.Phase)
	}

	if _, err := InitLayout(root, InitOptions{ProjectName: "SARK v2"}); err == nil {
		t.Fatal("expected re-init to fail")
	}
}
