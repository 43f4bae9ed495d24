package supervisor

import (
	"strings"
	"testing"

	"github.com/czarina-dev/czarina/internal/config"
)

func commandConfig() config.Config {
	return config.Config{
		Project: config.ProjectConfig{OmnibusBranch: "cz1/omnibus"},
		Commands: config.CommandsConfig{
			Default: []string{"agent", "--worker", "{worker_id}", "--branch", "{branch}"},
			Roles: map[string][]string{
				"qa": {"agent", "--qa", "--dir", "{worktree}", "--phase", "{phase}"},
			},
		},
	}
}

// TestResolveCommandRoleOverride verifies role templates beat the default.
func TestResolveCommandRoleOverride(t *testing.T) {
	spec := config.WorkerSpec{ID: "tester", Role: config.RoleQA, Branch: "cz2/tester", Phase: 2}
	command, err := ResolveCommand(commandConfig(), spec, "/repo", "/repo/.czarina/worktrees/worker-tester")
	if err != nil {
		t.Fatalf("ResolveCommand error: %v", err)
	}
	want := []string{"agent", "--qa", "--dir", "/repo/.czarina/worktrees/worker-tester", "--phase", "2"}
	if strings.Join(command, " ") != strings.Join(want, " ") {
		t.Fatalf("command = %v, want %v", command, want)
	}
}

// TestResolveCommandDefaultFallback verifies roles without templates use
// the default command.
func TestResolveCommandDefaultFallback(t *testing.T) {
	spec := config.WorkerSpec{ID: "backend", Role: config.RoleCore, Branch: "cz1/backend", Phase: 1}
	command, err := ResolveCommand(commandConfig(), spec, "/repo", "/wt")
	if err != nil {
		t.Fatalf("ResolveCommand error: %v", err)
	}
	want := []string{"agent", "--worker", "backend", "--branch", "cz1/backend"}
	if strings.Join(command, " ") != strings.Join(want, " ") {
		t.Fatalf("command = %v, want %v", command, want)
	}
}

// TestResolveCommandNoTemplate verifies a missing command is an error
// rather than a guessed launch.
func TestResolveCommandNoTemplate(t *testing.T) {
	cfg := config.Config{}
	spec := config.WorkerSpec{ID: "x", Role: config.RoleResearch, Branch: "cz1/x", Phase: 1}
	if _, err := ResolveCommand(cfg, spec, "/repo", "/wt"); err == nil {
		t.Fatal("expected error with no configured command")
	}
}

// TestResolveCommandDoesNotMutateTemplate verifies templates are copied.
func TestResolveCommandDoesNotMutateTemplate(t *testing.T) {
	cfg := commandConfig()
	spec := config.WorkerSpec{ID: "backend", Role: config.RoleCore, Branch: "cz1/backend", Phase: 1}
	if _, err := ResolveCommand(cfg, spec, "/repo", "/wt"); err != nil {
		t.Fatalf("ResolveCommand error: %v", err)
	}
	if cfg.Commands.Default[2] != "{worker_id}" {
		t.Fatalf("template mutated: %v", cfg.Commands.Default)
	}
}
