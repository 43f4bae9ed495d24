// Package archive snapshots completed phases into immutable directories.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/czarina-dev/czarina/internal/completion"
	"github.com/czarina-dev/czarina/internal/config"
)

const archiveDirMode = 0o755

// ErrArchiveExists reports a snapshot already present for the phase.
// Archives are write-once: a second snapshot would silently shadow the
// record of what the phase actually produced.
var ErrArchiveExists = errors.New("phase archive already exists")

// Name returns the archive directory name for a phase.
func Name(phase int, slug string) string {
	return fmt.Sprintf("phase-%d-%s", phase, slug)
}

// Path returns the archive directory path for a phase.
func Path(repoRoot string, phase int, slug string) string {
	return filepath.Join(config.ArchivesDir(repoRoot), Name(phase, slug))
}

// Exists reports whether a phase archive is already on disk.
func Exists(repoRoot string, phase int, slug string) (bool, error) {
	_, err := os.Stat(Path(repoRoot, phase, slug))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat archive: %w", err)
}

// Snapshot captures the phase's config, logs, status artifacts, and event
// stream into a new write-once archive directory. The snapshot is staged
// in a temp sibling and renamed into place, so a crash mid-copy leaves no
// partial archive. The context bounds the copy; on expiry the staging dir
// is removed and the snapshot fails.
func Snapshot(ctx context.Context, repoRoot string, cfg config.Config, verdicts []completion.Verdict) (string, error) {
	phase := cfg.Project.Phase
	slug := cfg.Project.Slug
	target := Path(repoRoot, phase, slug)

	if exists, err := Exists(repoRoot, phase, slug); err != nil {
		return "", err
	} else if exists {
		return "", fmt.Errorf("archive %s: %w", Name(phase, slug), ErrArchiveExists)
	}

	if err := os.MkdirAll(config.ArchivesDir(repoRoot), archiveDirMode); err != nil {
		return "", fmt.Errorf("create archives dir: %w", err)
	}

	staging := filepath.Join(config.ArchivesDir(repoRoot), ".tmp-"+uuid.NewString())
	if err := os.MkdirAll(staging, archiveDirMode); err != nil {
		return "", fmt.Errorf("create archive staging dir: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(staging)
		}
	}()

	if err := copyFileIfPresent(ctx, config.Path(repoRoot), filepath.Join(staging, "config.json")); err != nil {
		return "", err
	}
	if err := copyFileIfPresent(ctx, config.EventsPath(repoRoot), filepath.Join(staging, "events.jsonl")); err != nil {
		return "", err
	}
	if err := copyDirIfPresent(ctx, config.LogsDir(repoRoot), filepath.Join(staging, "logs")); err != nil {
		return "", err
	}
	if err := copyDirIfPresent(ctx, config.StatusDir(repoRoot), filepath.Join(staging, "status")); err != nil {
		return "", err
	}
	if err := writeSummary(staging, cfg, verdicts); err != nil {
		return "", err
	}

	if err := os.Rename(staging, target); err != nil {
		if exists, statErr := Exists(repoRoot, phase, slug); statErr == nil && exists {
			return "", fmt.Errorf("archive %s: %w", Name(phase, slug), ErrArchiveExists)
		}
		return "", fmt.Errorf("finalize archive %s: %w", target, err)
	}
	cleanup = false
	return target, nil
}

// writeSummary writes a human-readable phase summary with the per-worker
// completion signals observed at close time.
func writeSummary(dir string, cfg config.Config, verdicts []completion.Verdict) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "# Phase %d — %s\n\n", cfg.Project.Phase, cfg.Project.Name)
	fmt.Fprintf(&builder, "Closed: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&builder, "Completion mode: %s\n", cfg.Mode)
	fmt.Fprintf(&builder, "Omnibus branch: %s\n\n", cfg.Project.OmnibusBranch)

	if len(verdicts) > 0 {
		builder.WriteString("| Worker | Branch | Marker | Merged | Status | Complete |\n")
		builder.WriteString("|--------|--------|--------|--------|--------|----------|\n")
		for _, verdict := range verdicts {
			fmt.Fprintf(&builder, "| %s | %s | %s | %s | %s | %s |\n",
				verdict.Spec.ID,
				verdict.Spec.Branch,
				yesNo(verdict.Signal.LogMarker),
				yesNo(verdict.Signal.BranchMerged),
				yesNo(verdict.Signal.StatusComplete),
				yesNo(verdict.Complete),
			)
		}
	}

	path := filepath.Join(dir, "summary.md")
	if err := os.WriteFile(path, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("write archive summary %s: %w", path, err)
	}
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// copyFileIfPresent copies a file, treating absence as empty.
func copyFileIfPresent(ctx context.Context, src string, dst string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	source, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer source.Close()

	dest, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// copyDirIfPresent copies a flat directory of files, treating absence as
// empty. Worker logs and status dirs hold no subdirectories.
func copyDirIfPresent(ctx context.Context, src string, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, archiveDirMode); err != nil {
		return fmt.Errorf("create dir %s: %w", dst, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFileIfPresent(ctx, filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
