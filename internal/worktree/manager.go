// Package worktree manages per-worker git worktrees so each worker edits
// its branch in an isolated checkout.
package worktree

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/czarina-dev/czarina/internal/config"
)

const (
	// workerDirPrefix prefixes per-worker worktree directories.
	workerDirPrefix = "worker-"
	// worktreeDirMode defines permissions for the worktrees directory.
	worktreeDirMode = 0o755
)

// ErrCheckoutConflict reports a branch already checked out in another
// worktree. Git refuses double checkouts; surfacing the owner lets the
// operator resolve it instead of guessing from raw git output.
var ErrCheckoutConflict = errors.New("branch already checked out elsewhere")

// Manager coordinates creation and reuse of worker worktrees.
type Manager struct {
	repoRoot     string
	worktreesDir string
}

// Result captures the resolved worktree location and whether it was reused.
type Result struct {
	Path   string
	Reused bool
}

// NewManager constructs a Manager rooted at the provided repository root.
func NewManager(repoRoot string) (Manager, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return Manager{}, errors.New("repo root is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return Manager{}, fmt.Errorf("resolve absolute repo root %s: %w", repoRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return Manager{}, fmt.Errorf("stat repo root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return Manager{}, fmt.Errorf("repo root %s is not a directory", absRoot)
	}
	return Manager{repoRoot: absRoot, worktreesDir: config.WorktreesDir(absRoot)}, nil
}

// WorktreePath returns the deterministic worktree path for a worker.
func (manager Manager) WorktreePath(workerID string) (string, error) {
	if strings.TrimSpace(manager.worktreesDir) == "" {
		return "", errors.New("worktree manager is not initialized")
	}
	if err := validateWorkerID(workerID); err != nil {
		return "", err
	}
	return filepath.Join(manager.worktreesDir, workerDirPrefix+workerID), nil
}

// Ensure returns a worker's worktree path, creating branch and checkout
// when needed. The branch is created from baseBranch when it does not
// exist yet. A branch checked out in any other worktree is a hard error.
func (manager Manager) Ensure(spec config.WorkerSpec, baseBranch string) (Result, error) {
	if strings.TrimSpace(manager.repoRoot) == "" || strings.TrimSpace(manager.worktreesDir) == "" {
		return Result{}, errors.New("worktree manager is not initialized")
	}
	if err := validateWorkerID(spec.ID); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(spec.Branch) == "" {
		return Result{}, fmt.Errorf("worker %s has no branch", spec.ID)
	}

	target, err := manager.WorktreePath(spec.ID)
	if err != nil {
		return Result{}, err
	}

	if exists, err := pathExists(target); err != nil {
		return Result{}, err
	} else if exists {
		if err := ensureIsWorktree(target, spec.Branch); err != nil {
			return Result{}, err
		}
		return Result{Path: target, Reused: true}, nil
	}

	if owner, err := manager.checkoutOwner(spec.Branch); err != nil {
		return Result{}, err
	} else if owner != "" {
		return Result{}, fmt.Errorf("branch %s is checked out at %s: %w", spec.Branch, owner, ErrCheckoutConflict)
	}

	if err := os.MkdirAll(manager.worktreesDir, worktreeDirMode); err != nil {
		return Result{}, fmt.Errorf("create worktrees directory %s: %w", manager.worktreesDir, err)
	}
	if err := manager.addWorktree(target, spec.Branch, baseBranch); err != nil {
		return Result{}, err
	}
	return Result{Path: target, Reused: false}, nil
}

// Remove detaches and deletes a worker's checkout. The branch itself is
// left alone; only the working directory goes away.
func (manager Manager) Remove(workerID string) error {
	target, err := manager.WorktreePath(workerID)
	if err != nil {
		return err
	}
	if exists, err := pathExists(target); err != nil {
		return err
	} else if !exists {
		return nil
	}
	if _, err := manager.runGit("worktree", "remove", "--force", target); err != nil {
		return err
	}
	return nil
}

// addWorktree creates the git worktree, branching from base when needed.
func (manager Manager) addWorktree(path string, branch string, baseBranch string) error {
	branchExists, err := manager.branchExists(branch)
	if err != nil {
		return err
	}
	if branchExists {
		if _, err := manager.runGit("worktree", "add", path, branch); err != nil {
			return err
		}
		return nil
	}
	if strings.TrimSpace(baseBranch) == "" {
		return fmt.Errorf("branch %q does not exist; base branch is required", branch)
	}
	baseExists, err := manager.branchExists(baseBranch)
	if err != nil {
		return err
	}
	if !baseExists {
		return fmt.Errorf("base branch %q does not exist", baseBranch)
	}
	if _, err := manager.runGit("worktree", "add", "-b", branch, path, baseBranch); err != nil {
		return err
	}
	return nil
}

// checkoutOwner returns the path of the worktree holding the branch, or
// empty when no checkout holds it.
func (manager Manager) checkoutOwner(branch string) (string, error) {
	output, err := manager.runGit("worktree", "list", "--porcelain")
	if err != nil {
		return "", err
	}
	return ownerFromPorcelain(output, branch), nil
}

// ownerFromPorcelain scans `git worktree list --porcelain` output for the
// worktree that has the branch checked out.
func ownerFromPorcelain(output string, branch string) string {
	ref := "refs/heads/" + branch
	var currentPath string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			currentPath = strings.TrimPrefix(line, "worktree ")
		case line == "branch "+ref:
			return currentPath
		}
	}
	return ""
}

// branchExists reports whether a local branch exists in the repository.
func (manager Manager) branchExists(branch string) (bool, error) {
	if strings.TrimSpace(branch) == "" {
		return false, errors.New("branch is required")
	}
	_, err := manager.runGit("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if isExitStatus(err, 1) {
		return false, nil
	}
	return false, err
}

// ensureIsWorktree validates the path is a git worktree on the expected branch.
func ensureIsWorktree(path string, branch string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat worktree path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("worktree path %s is not a directory", path)
	}
	output, err := runGitWithDir(path, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return fmt.Errorf("verify worktree %s: %w", path, err)
	}
	if strings.TrimSpace(output) != "true" {
		return fmt.Errorf("path %s is not a git worktree", path)
	}
	output, err = runGitWithDir(path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("resolve worktree branch %s: %w", path, err)
	}
	if current := strings.TrimSpace(output); current != branch {
		return fmt.Errorf("worktree at %s is on branch %q, expected %q", path, current, branch)
	}
	return nil
}

// pathExists reports whether the path exists on disk.
func pathExists(path string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, errors.New("path is required")
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat path %s: %w", path, err)
}

// validateWorkerID ensures the worker id is safe for filesystem use.
func validateWorkerID(workerID string) error {
	if strings.TrimSpace(workerID) == "" {
		return errors.New("worker id is required")
	}
	if strings.Contains(workerID, "/") || strings.Contains(workerID, "\\") {
		return fmt.Errorf("worker id %q must not contain path separators", workerID)
	}
	if strings.Contains(workerID, "..") {
		return fmt.Errorf("worker id %q must not contain '..'", workerID)
	}
	return nil
}

// runGit executes a git command in the repo root.
func (manager Manager) runGit(args ...string) (string, error) {
	return runGitWithDir(manager.repoRoot, args...)
}

// runGitWithDir runs a git command in the provided directory.
func runGitWithDir(dir string, args ...string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("git directory is required")
	}
	if len(args) == 0 {
		return "", errors.New("git arguments are required")
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// isExitStatus reports whether the error is an exec.ExitError with the given status.
func isExitStatus(err error, status int) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == status
}
