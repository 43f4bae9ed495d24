package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/signal"
)

func archiveConfig() config.Config {
	return config.Config{
		Project: config.ProjectConfig{
			Name:          "Demo Project",
			Slug:          "demo",
			Phase:         1,
			OmnibusBranch: "cz1/omnibus",
		},
		Mode: config.ModeAny,
		Workers: []config.WorkerSpec{
			{ID: "backend", Role: config.RoleCore, Branch: "cz1/backend", Phase: 1},
		},
	}
}

func seedProject(t *testing.T) string {
	t.Helper()
	repoRoot := t.TempDir()
	for _, dir := range []string{config.LogsDir(repoRoot), config.StatusDir(repoRoot)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	files := map[string]string{
		config.Path(repoRoot):                        `{"project":{}}`,
		config.EventsPath(repoRoot):                  `{"event":"daemon.tick"}` + "\n",
		config.WorkerLogPath(repoRoot, "backend"):    "line one\n",
		config.WorkerStatusPath(repoRoot, "backend"): `{"status":"complete"}`,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return repoRoot
}

func sampleVerdicts() []completion.Verdict {
	return []completion.Verdict{
		{
			Spec:     config.WorkerSpec{ID: "backend", Branch: "cz1/backend", Phase: 1},
			Signal:   signal.Signal{BranchMerged: true, StatusComplete: true},
			Complete: true,
		},
	}
}

// TestSnapshotCapturesPhaseState verifies content and naming.
func TestSnapshotCapturesPhaseState(t *testing.T) {
	repoRoot := seedProject(t)

	path, err := Snapshot(context.Background(), repoRoot, archiveConfig(), sampleVerdicts())
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if filepath.Base(path) != "phase-1-demo" {
		t.Fatalf("archive dir = %s, want phase-1-demo", filepath.Base(path))
	}
	for _, name := range []string{"config.json", "events.jsonl", "summary.md", "logs/backend.log", "status/backend.json"} {
		if _, err := os.Stat(filepath.Join(path, name)); err != nil {
			t.Errorf("archive missing %s: %v", name, err)
		}
	}

	summary, err := os.ReadFile(filepath.Join(path, "summary.md"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	for _, want := range []string{"Phase 1", "backend", "cz1/backend", "| yes |"} {
		if !strings.Contains(string(summary), want) {
			t.Errorf("summary missing %q:\n%s", want, string(summary))
		}
	}
}

// TestSnapshotWriteOnce verifies a second snapshot is refused.
func TestSnapshotWriteOnce(t *testing.T) {
	repoRoot := seedProject(t)
	cfg := archiveConfig()

	if _, err := Snapshot(context.Background(), repoRoot, cfg, nil); err != nil {
		t.Fatalf("first Snapshot error: %v", err)
	}

	// Mutate state after the first snapshot; the archive must not change.
	if err := os.WriteFile(config.WorkerLogPath(repoRoot, "backend"), []byte("mutated\n"), 0o644); err != nil {
		t.Fatalf("mutate log: %v", err)
	}

	_, err := Snapshot(context.Background(), repoRoot, cfg, nil)
	if !errors.Is(err, ErrArchiveExists) {
		t.Fatalf("second Snapshot error = %v, want ErrArchiveExists", err)
	}

	data, err := os.ReadFile(filepath.Join(Path(repoRoot, 1, "demo"), "logs", "backend.log"))
	if err != nil {
		t.Fatalf("read archived log: %v", err)
	}
	if string(data) != "line one\n" {
		t.Fatalf("archived log mutated: %q", string(data))
	}
}

// TestSnapshotLeavesNoStagingOnCancel verifies an expired context fails
// the snapshot and removes the staging directory.
func TestSnapshotLeavesNoStagingOnCancel(t *testing.T) {
	repoRoot := seedProject(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	if _, err := Snapshot(ctx, repoRoot, archiveConfig(), nil); err == nil {
		t.Fatal("expected snapshot failure with expired context")
	}

	entries, err := os.ReadDir(config.ArchivesDir(repoRoot))
	if err != nil {
		t.Fatalf("read archives dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Fatalf("staging dir %s left behind", entry.Name())
		}
	}
	if exists, err := Exists(repoRoot, 1, "demo"); err != nil || exists {
		t.Fatalf("partial archive present (exists=%v err=%v)", exists, err)
	}
}

// TestSnapshotToleratesMissingSources verifies a sparse project still
// archives what exists.
func TestSnapshotToleratesMissingSources(t *testing.T) {
	repoRoot := t.TempDir()

	path, err := Snapshot(context.Background(), repoRoot, archiveConfig(), nil)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "summary.md")); err != nil {
		t.Fatalf("summary missing: %v", err)
	}
}

// TestName verifies archive directory naming.
func TestName(t *testing.T) {
	if got := Name(3, "demo"); got != "phase-3-demo" {
		t.Fatalf("Name = %s", got)
	}
}
