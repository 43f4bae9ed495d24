// Package signal collects per-worker completion signals from their three
// independent sources: the worker's log stream, git branch ancestry, and
// the worker's status artifact. Each source may fail or be absent without
// affecting the other two; a broken channel degrades to false with a
// warning, never an error.
package signal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/czarina-dev/czarina/internal/config"
	"github.com/czarina-dev/czarina/internal/events"
)

// statusComplete is the only status value the core interprets.
const statusComplete = "complete"

// Signal is the tri-state completion witness for one worker.
type Signal struct {
	LogMarker      bool
	BranchMerged   bool
	StatusComplete bool
	// LastActivity is the most recent mtime across the worker's log and
	// status files; zero when neither exists. The supervisor's staleness
	// clock derives idle/stuck from it.
	LastActivity time.Time
}

// Complete reports whether any witness observed completion. Policy
// combination lives in the completion package; this is a convenience for
// display code only.
func (signal Signal) Complete() bool {
	return signal.LogMarker || signal.BranchMerged || signal.StatusComplete
}

// Collector reads signals for workers of one project.
type Collector struct {
	repoRoot string
	omnibus  string
	marker   *regexp2.Regexp
	warn     func(string)
	warnMu   sync.Mutex
	git      gitRunner
	events   *events.Appender
}

// gitRunner abstracts git execution so ancestry checks are testable
// without a live repository.
type gitRunner interface {
	run(dir string, args ...string) (string, error)
}

// NewCollector builds a collector for the repo and configuration. The
// optional completion marker pattern is compiled in RE2 mode; an invalid
// pattern is a configuration error surfaced immediately rather than a
// degraded signal.
func NewCollector(repoRoot string, cfg config.Config, warn func(string)) (*Collector, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	if strings.TrimSpace(cfg.Project.OmnibusBranch) == "" {
		return nil, errors.New("omnibus branch is required")
	}

	appender, err := events.NewAppender(config.EventsPath(repoRoot), io.Discard)
	if err != nil {
		return nil, err
	}
	collector := &Collector{
		repoRoot: repoRoot,
		omnibus:  cfg.Project.OmnibusBranch,
		warn:     warn,
		git:      execGitRunner{},
		events:   appender,
	}
	if pattern := strings.TrimSpace(cfg.MarkerPattern); pattern != "" {
		compiled, err := regexp2.Compile(pattern, regexp2.RE2)
		if err != nil {
			return nil, fmt.Errorf("compile completion_marker_pattern %q: %w", pattern, err)
		}
		collector.marker = compiled
	}
	return collector, nil
}

// Collect reads the three signals for one worker. It never caches: every
// call reflects current on-disk truth, since stale reads here directly
// cause wrong phase-completion decisions.
func (collector *Collector) Collect(spec config.WorkerSpec) Signal {
	var signal Signal
	signal.LogMarker = collector.collectLogMarker(spec)
	signal.BranchMerged = collector.collectBranchMerged(spec)
	signal.StatusComplete = collector.collectStatusFile(spec)
	signal.LastActivity = collector.collectLastActivity(spec)
	return signal
}

// collectLogMarker scans the worker's log stream for the completion marker
// event, falling back to the configured raw-line pattern when set.
func (collector *Collector) collectLogMarker(spec config.WorkerSpec) bool {
	logPath := config.WorkerLogPath(collector.repoRoot, spec.ID)

	_, found, err := events.LastNamed(logPath, events.EventWorkerComplete)
	if err != nil {
		collector.signalWarning(spec.ID, "read log stream: %v", err)
	} else if found {
		return true
	}

	if collector.marker == nil {
		return false
	}
	matched, err := collector.matchMarkerPattern(logPath)
	if err != nil {
		collector.signalWarning(spec.ID, "match marker pattern: %v", err)
		return false
	}
	return matched
}

// matchMarkerPattern tests every raw log line against the marker regex.
func (collector *Collector) matchMarkerPattern(logPath string) (bool, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open log %s: %w", logPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	matched := false
	for scanner.Scan() {
		ok, err := collector.marker.MatchString(scanner.Text())
		if err != nil {
			return false, fmt.Errorf("match line: %w", err)
		}
		if ok {
			matched = true
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan log %s: %w", logPath, err)
	}
	return matched, nil
}

// collectBranchMerged checks whether the worker branch tip is an ancestor
// of the omnibus branch tip. A branch that was never pushed is false, not
// an error.
func (collector *Collector) collectBranchMerged(spec config.WorkerSpec) bool {
	exists, err := collector.branchExists(spec.Branch)
	if err != nil {
		collector.signalWarning(spec.ID, "check branch %s: %v", spec.Branch, err)
		return false
	}
	if !exists {
		return false
	}

	_, err = collector.git.run(collector.repoRoot, "merge-base", "--is-ancestor", spec.Branch, collector.omnibus)
	if err == nil {
		return true
	}
	if isExitStatus(err, 1) {
		return false
	}
	collector.signalWarning(spec.ID, "ancestry check %s -> %s: %v", spec.Branch, collector.omnibus, err)
	return false
}

// branchExists reports whether a local branch ref exists.
func (collector *Collector) branchExists(branch string) (bool, error) {
	if strings.TrimSpace(branch) == "" {
		return false, errors.New("branch is required")
	}
	_, err := collector.git.run(collector.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if isExitStatus(err, 1) {
		return false, nil
	}
	return false, err
}

// statusArtifact is the shape of the per-worker status file. Only the
// status field is interpreted; anything else the worker writes is ignored.
type statusArtifact struct {
	Status string `json:"status"`
}

// collectStatusFile checks the worker's status artifact for
// status=complete.
func (collector *Collector) collectStatusFile(spec config.WorkerSpec) bool {
	path := config.WorkerStatusPath(collector.repoRoot, spec.ID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			collector.signalWarning(spec.ID, "read status file %s: %v", path, err)
		}
		return false
	}
	var artifact statusArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		collector.signalWarning(spec.ID, "decode status file %s: %v", path, err)
		return false
	}
	return strings.EqualFold(strings.TrimSpace(artifact.Status), statusComplete)
}

// collectLastActivity returns the newest mtime across the worker's
// observable files.
func (collector *Collector) collectLastActivity(spec config.WorkerSpec) time.Time {
	var latest time.Time
	paths := []string{
		config.WorkerLogPath(collector.repoRoot, spec.ID),
		config.WorkerStatusPath(collector.repoRoot, spec.ID),
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if modified := info.ModTime(); modified.After(latest) {
			latest = modified
		}
	}
	return latest
}

// signalWarning reports a degraded witness channel: once to the warning
// sink and once to the event stream, so channel failures are auditable
// after the fact. A failed append falls back to the sink alone.
func (collector *Collector) signalWarning(workerID, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	collector.warnf("worker %s: %s", workerID, message)
	if collector.events == nil {
		return
	}
	if err := collector.events.Append(events.Event{
		Name:   events.EventSignalWarning,
		Worker: workerID,
		Fields: map[string]string{"message": message},
	}); err != nil {
		collector.warnf("record signal warning for %s: %v", workerID, err)
	}
}

// warnf forwards a formatted warning to the sink. Serialized because
// CollectAll invokes per-worker collection concurrently.
func (collector *Collector) warnf(format string, args ...any) {
	if collector.warn == nil {
		return
	}
	collector.warnMu.Lock()
	defer collector.warnMu.Unlock()
	collector.warn(fmt.Sprintf(format, args...))
}
