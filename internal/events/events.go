// Package events provides the append-only JSONL event stream for czarina
// runs. Each line is one JSON object; the stream is the machine-readable
// history archived with every completed phase.
package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	eventsFileMode = 0o644
	eventsDirMode  = 0o755
)

// Event names recorded by the orchestrator core.
const (
	// EventWorkerLaunch records a worker process launch.
	EventWorkerLaunch = "worker.launch"
	// EventWorkerState records a worker runtime state change.
	EventWorkerState = "worker.state"
	// EventWorkerComplete is the distinguished completion marker a worker
	// appends to its own log stream.
	EventWorkerComplete = "worker.complete"
	// EventSignalWarning records a degraded signal source.
	EventSignalWarning = "signal.warning"
	// EventPhaseStep records a phase transition engine step.
	EventPhaseStep = "phase.step"
	// EventPhaseArchive records a completed phase archive.
	EventPhaseArchive = "phase.archive"
	// EventDaemonTick records one daemon scheduling tick.
	EventDaemonTick = "daemon.tick"
)

// Event is one line of the stream.
type Event struct {
	ID     string            `json:"id"`
	Time   time.Time         `json:"time"`
	Name   string            `json:"event"`
	Worker string            `json:"worker,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Appender appends events to a JSONL file. Safe for concurrent use.
type Appender struct {
	path     string
	warnings io.Writer
	now      func() time.Time
	mu       sync.Mutex
}

// NewAppender builds an appender writing to the provided path.
func NewAppender(path string, warnings io.Writer) (*Appender, error) {
	if path == "" {
		return nil, errors.New("event stream path is required")
	}
	if warnings == nil {
		warnings = os.Stderr
	}
	return &Appender{
		path:     path,
		warnings: warnings,
		now:      time.Now,
	}, nil
}

// Append validates, stamps, and writes one event.
func (appender *Appender) Append(event Event) error {
	if appender == nil {
		return errors.New("event appender is nil")
	}
	if event.Name == "" {
		return errors.New("event name is required")
	}

	appender.mu.Lock()
	defer appender.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		now := appender.now
		if now == nil {
			now = time.Now
		}
		event.Time = now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		appender.warnf("event stream entry rejected: %v", err)
		return fmt.Errorf("encode event %s: %w", event.Name, err)
	}
	if err := appender.appendLine(line); err != nil {
		appender.warnf("event stream write failed for %s: %v", appender.path, err)
		return err
	}
	return nil
}

// appendLine writes one encoded line to the stream file.
func (appender *Appender) appendLine(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(appender.path), eventsDirMode); err != nil {
		return fmt.Errorf("create event stream directory %s: %w", filepath.Dir(appender.path), err)
	}
	file, err := os.OpenFile(appender.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, eventsFileMode)
	if err != nil {
		return fmt.Errorf("open event stream %s: %w", appender.path, err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("write event stream %s: %w", appender.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close event stream %s: %w", appender.path, err)
	}
	return nil
}

// warnf writes a warning message to the configured warnings writer.
func (appender *Appender) warnf(format string, args ...any) {
	if appender == nil || appender.warnings == nil {
		return
	}
	_, _ = fmt.Fprintf(appender.warnings, format+"\n", args...)
}

// ReadAll parses every event in the file. A missing file yields an empty
// slice: an absent stream is a normal pre-launch condition, not an error.
// Unparseable lines are skipped and counted, never fatal, because workers
// append to their own streams and a torn tail line must not block reads.
func ReadAll(path string) ([]Event, int, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open event stream %s: %w", path, err)
	}
	defer file.Close()

	var parsed []Event
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			skipped++
			continue
		}
		parsed = append(parsed, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan event stream %s: %w", path, err)
	}
	return parsed, skipped, nil
}

// LastNamed returns the most recent event with the given name, scanning the
// whole file so the latest occurrence wins even when the marker repeats.
func LastNamed(path string, name string) (Event, bool, error) {
	all, _, err := ReadAll(path)
	if err != nil {
		return Event{}, false, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Name == name {
			return all[i], true, nil
		}
	}
	return Event{}, false, nil
}
