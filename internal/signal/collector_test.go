package signal

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/events"
)

// exitError produces a real *exec.ExitError with the given status code.
func exitError(t *testing.T, status int) error {
	t.Helper()
	err := exec.Command("sh", "-c", fmt.Sprintf("exit %d", status)).Run()
	if err == nil {
		t.Fatalf("expected exit %d to fail", status)
	}
	return err
}

// fakeGit scripts git responses by subcommand.
type fakeGit struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]error
}

func (git *fakeGit) run(dir string, args ...string) (string, error) {
	git.mu.Lock()
	defer git.mu.Unlock()
	key := args[0]
	git.calls = append(git.calls, strings.Join(args, " "))
	if err, ok := git.responses[key]; ok && err != nil {
		return "", err
	}
	return "", nil
}

// testCollector builds a collector over a temp repo with scripted git.
func testCollector(t *testing.T, cfg config.Config, git gitRunner, warn func(string)) (*Collector, string) {
	t.Helper()
	root := t.TempDir()
	if cfg.Project.OmnibusBranch == "" {
		cfg.Project.OmnibusBranch = "cz1/omnibus"
	}
	collector, err := NewCollector(root, cfg, warn)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if git != nil {
		collector.git = git
	}
	return collector, root
}

func workerSpec() config.WorkerSpec {
	return config.WorkerSpec{ID: "a", Role: config.RoleCore, Branch: "cz1/feat-a", Phase: 1}
}

// TestCollectBranchNeverPushed verifies an absent branch reads false, not error.
func TestCollectBranchNeverPushed(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	var warnings []string
	collector, _ := testCollector(t, config.Config{}, git, func(msg string) { warnings = append(warnings, msg) })

	signal := collector.Collect(workerSpec())
	if signal.BranchMerged {
		t.Fatal("BranchMerged = true for a branch that never existed")
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	for _, call := range git.calls {
		if strings.HasPrefix(call, "merge-base") {
			t.Fatal("ancestry queried for a missing branch")
		}
	}
}

// TestCollectBranchMerged verifies a successful ancestry check reads true.
func TestCollectBranchMerged(t *testing.T) {
	git := &fakeGit{responses: map[string]error{}}
	collector, _ := testCollector(t, config.Config{}, git, nil)

	signal := collector.Collect(workerSpec())
	if !signal.BranchMerged {
		t.Fatal("BranchMerged = false, want true")
	}
}

// TestCollectBranchNotAncestor verifies ancestry exit 1 reads false silently.
func TestCollectBranchNotAncestor(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"merge-base": exitError(t, 1)}}
	var warnings []string
	collector, _ := testCollector(t, config.Config{}, git, func(msg string) { warnings = append(warnings, msg) })

	signal := collector.Collect(workerSpec())
	if signal.BranchMerged {
		t.Fatal("BranchMerged = true, want false")
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

// TestCollectGitFailureDowngrades verifies hard git failures degrade to
// false with a warning instead of propagating.
func TestCollectGitFailureDowngrades(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"merge-base": exitError(t, 128)}}
	var warnings []string
	collector, _ := testCollector(t, config.Config{}, git, func(msg string) { warnings = append(warnings, msg) })

	signal := collector.Collect(workerSpec())
	if signal.BranchMerged {
		t.Fatal("BranchMerged = true after git failure")
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for the failed ancestry check")
	}
}

// TestCollectLogMarker verifies the structured completion marker is found
// and the most recent occurrence wins.
func TestCollectLogMarker(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	collector, root := testCollector(t, config.Config{}, git, nil)

	spec := workerSpec()
	appender, err := events.NewAppender(config.WorkerLogPath(root, spec.ID), os.Stderr)
	if err != nil {
		t.Fatalf("new appender: %v", err)
	}
	if err := appender.Append(events.Event{Name: events.EventWorkerComplete, Worker: spec.ID}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := appender.Append(events.Event{Name: events.EventWorkerState, Worker: spec.ID}); err != nil {
		t.Fatalf("append: %v", err)
	}

	signal := collector.Collect(spec)
	if !signal.LogMarker {
		t.Fatal("LogMarker = false, want true")
	}
	if signal.LastActivity.IsZero() {
		t.Fatal("LastActivity is zero with a log present")
	}
}

// TestCollectMarkerPattern verifies the regex fallback for raw agent logs.
func TestCollectMarkerPattern(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	cfg := config.Config{MarkerPattern: `WORKER COMPLETE: \w+`}
	collector, root := testCollector(t, cfg, git, nil)

	spec := workerSpec()
	if err := os.MkdirAll(config.LogsDir(root), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := "building...\nWORKER COMPLETE: a\ncleanup\n"
	if err := os.WriteFile(config.WorkerLogPath(root, spec.ID), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	if signal := collector.Collect(spec); !signal.LogMarker {
		t.Fatal("LogMarker = false, want pattern match")
	}
}

// TestNewCollectorRejectsBadPattern verifies invalid patterns fail loudly.
func TestNewCollectorRejectsBadPattern(t *testing.T) {
	cfg := config.Config{
		Project:       config.ProjectConfig{OmnibusBranch: "cz1/omnibus"},
		MarkerPattern: "([unclosed",
	}
	if _, err := NewCollector(t.TempDir(), cfg, nil); err == nil {
		t.Fatal("expected error for invalid marker pattern")
	}
}

// TestCollectStatusFile verifies status artifact interpretation.
func TestCollectStatusFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{name: "complete", content: `{"status":"complete"}`, want: true},
		{name: "complete with extras", content: `{"status":"complete","progress":100}`, want: true},
		{name: "in progress", content: `{"status":"working"}`, want: false},
		{name: "malformed", content: `{status`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
			collector, root := testCollector(t, config.Config{}, git, func(string) {})
			spec := workerSpec()
			if err := os.MkdirAll(config.StatusDir(root), 0o755); err != nil {
				t.Fatalf("mkdir status: %v", err)
			}
			path := config.WorkerStatusPath(root, spec.ID)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write status: %v", err)
			}

			if signal := collector.Collect(spec); signal.StatusComplete != tt.want {
				t.Fatalf("StatusComplete = %v, want %v", signal.StatusComplete, tt.want)
			}
		})
	}
}

// TestCollectDegradedChannelRecordsEvent verifies a broken witness
// channel lands in the event stream, not just the warning sink.
func TestCollectDegradedChannelRecordsEvent(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	var warnings []string
	collector, root := testCollector(t, config.Config{}, git, func(msg string) { warnings = append(warnings, msg) })
	spec := workerSpec()

	if err := os.MkdirAll(config.StatusDir(root), 0o755); err != nil {
		t.Fatalf("mkdir status: %v", err)
	}
	if err := os.WriteFile(config.WorkerStatusPath(root, spec.ID), []byte(`{status`), 0o644); err != nil {
		t.Fatalf("write status: %v", err)
	}

	if signal := collector.Collect(spec); signal.StatusComplete {
		t.Fatal("StatusComplete = true for a malformed artifact")
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for the malformed status file")
	}

	event, found, err := events.LastNamed(config.EventsPath(root), events.EventSignalWarning)
	if err != nil {
		t.Fatalf("read event stream: %v", err)
	}
	if !found {
		t.Fatal("no signal warning event recorded")
	}
	if event.Worker != spec.ID {
		t.Fatalf("event worker = %q, want %q", event.Worker, spec.ID)
	}
	if !strings.Contains(event.Fields["message"], "decode status file") {
		t.Fatalf("event message %q does not describe the failure", event.Fields["message"])
	}
}

// TestCollectAbsentSourcesAllFalse verifies a worker with no observable
// state collects a fully false signal without warnings.
func TestCollectAbsentSourcesAllFalse(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	var warnings []string
	collector, _ := testCollector(t, config.Config{}, git, func(msg string) { warnings = append(warnings, msg) })

	signal := collector.Collect(workerSpec())
	if signal.LogMarker || signal.BranchMerged || signal.StatusComplete {
		t.Fatalf("signal = %+v, want all false", signal)
	}
	if !signal.LastActivity.IsZero() {
		t.Fatal("LastActivity should be zero with no files")
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

// TestCollectAllPreservesOrder verifies parallel collection keeps input order.
func TestCollectAllPreservesOrder(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	collector, root := testCollector(t, config.Config{}, git, nil)

	specs := make([]config.WorkerSpec, 8)
	for i := range specs {
		specs[i] = config.WorkerSpec{
			ID:     fmt.Sprintf("w%d", i),
			Branch: fmt.Sprintf("cz1/w%d", i),
			Phase:  1,
		}
	}
	// Give only the odd workers a completion status.
	if err := os.MkdirAll(config.StatusDir(root), 0o755); err != nil {
		t.Fatalf("mkdir status: %v", err)
	}
	for i := 1; i < len(specs); i += 2 {
		path := config.WorkerStatusPath(root, specs[i].ID)
		if err := os.WriteFile(path, []byte(`{"status":"complete"}`), 0o644); err != nil {
			t.Fatalf("write status: %v", err)
		}
	}

	results := collector.CollectAll(specs, 3)
	if len(results) != len(specs) {
		t.Fatalf("results = %d, want %d", len(results), len(specs))
	}
	for i, result := range results {
		if result.Spec.ID != specs[i].ID {
			t.Fatalf("results[%d] = %s, want %s", i, result.Spec.ID, specs[i].ID)
		}
		want := i%2 == 1
		if result.Signal.StatusComplete != want {
			t.Fatalf("worker %s StatusComplete = %v, want %v", result.Spec.ID, result.Signal.StatusComplete, want)
		}
	}
}

// TestCollectAllBoundsConcurrency verifies no more than the requested
// number of collections run at once.
func TestCollectAllBoundsConcurrency(t *testing.T) {
	var active, peak int64
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	collector, _ := testCollector(t, config.Config{}, nil, nil)
	collector.git = gitFunc(func(dir string, args ...string) (string, error) {
		current := atomic.AddInt64(&active, 1)
		for {
			observed := atomic.LoadInt64(&peak)
			if current <= observed || atomic.CompareAndSwapInt64(&peak, observed, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return git.run(dir, args...)
	})

	specs := make([]config.WorkerSpec, 10)
	for i := range specs {
		specs[i] = config.WorkerSpec{ID: fmt.Sprintf("w%d", i), Branch: "cz1/x", Phase: 1}
	}
	collector.CollectAll(specs, 2)

	if observed := atomic.LoadInt64(&peak); observed > 2 {
		t.Fatalf("peak concurrent git calls = %d, want <= 2", observed)
	}
}

// gitFunc adapts a function to the gitRunner interface.
type gitFunc func(dir string, args ...string) (string, error)

func (fn gitFunc) run(dir string, args ...string) (string, error) {
	return fn(dir, args...)
}

// TestFilesystemMtimeOrdering verifies LastActivity picks the newest file.
func TestFilesystemMtimeOrdering(t *testing.T) {
	git := &fakeGit{responses: map[string]error{"show-ref": exitError(t, 1)}}
	collector, root := testCollector(t, config.Config{}, git, nil)
	spec := workerSpec()

	if err := os.MkdirAll(config.LogsDir(root), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	if err := os.MkdirAll(config.StatusDir(root), 0o755); err != nil {
		t.Fatalf("mkdir status: %v", err)
	}
	logPath := config.WorkerLogPath(root, spec.ID)
	statusPath := config.WorkerStatusPath(root, spec.ID)
	if err := os.WriteFile(logPath, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.WriteFile(statusPath, []byte(`{"status":"working"}`), 0o644); err != nil {
		t.Fatalf("write status: %v", err)
	}
	older := time.Now().Add(-time.Hour)
	newer := time.Now().Add(-time.Minute)
	if err := os.Chtimes(logPath, older, older); err != nil {
		t.Fatalf("chtimes log: %v", err)
	}
	if err := os.Chtimes(statusPath, newer, newer); err != nil {
		t.Fatalf("chtimes status: %v", err)
	}

	signal := collector.Collect(spec)
	if !withinSecond(signal.LastActivity, newer) {
		t.Fatalf("LastActivity = %v, want ~%v", signal.LastActivity, newer)
	}
}

// withinSecond reports whether two times are within one second.
func withinSecond(a time.Time, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Second
}
