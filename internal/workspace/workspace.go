// Package workspace isolates each task in its own git worktree and drives
// the commit/push/PR sequence through the system git and hosted-repo CLI
// binaries, the way the agent itself is expected to work: as an external
// process, not a linked library.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// Git-specific errors surfaced by worktree creation, mirroring the
// conditions git itself reports on stderr.
var (
	ErrBranchCheckedOut = errors.New("branch already checked out in another worktree")
	ErrPathExists       = errors.New("worktree path already exists")
)

// Executor runs git and the hosted-repo CLI as subprocesses. Tests
// substitute a fake that records invocations instead of touching disk.
type Executor interface {
	CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error
	BranchExists(ctx context.Context, repoPath, branch string) bool
	HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error)
	CommitAll(ctx context.Context, worktreePath, message string) error
	Push(ctx context.Context, worktreePath, branch string) error
	OpenPullRequest(ctx context.Context, worktreePath, branch, title, body string) (url string, err error)
}

// RealExecutor shells out to the system "git" and "gh" binaries.
type RealExecutor struct {
	GitBinary string
	GHBinary  string
}

// NewRealExecutor defaults empty binary names to "git" and "gh".
func NewRealExecutor(gitBinary, ghBinary string) *RealExecutor {
	if gitBinary == "" {
		gitBinary = "git"
	}
	if ghBinary == "" {
		ghBinary = "gh"
	}
	return &RealExecutor{GitBinary: gitBinary, GHBinary: ghBinary}
}

func (e *RealExecutor) run(ctx context.Context, dir, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		return "", classifyGitError(binary, args, stderrStr, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func classifyGitError(binary string, args []string, stderr string, cause error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "already checked out"):
		return fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), ErrBranchCheckedOut, stderr)
	case strings.Contains(lower, "already exists"):
		return fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), ErrPathExists, stderr)
	case stderr != "":
		return fmt.Errorf("%s %s: %s: %w", binary, strings.Join(args, " "), stderr, cause)
	default:
		return fmt.Errorf("%s %s: %w", binary, strings.Join(args, " "), cause)
	}
}

// CreateWorktree runs "git worktree add -b <branch> <path>" against repoPath.
// If the branch already exists (a retried task reusing its prior branch),
// it reuses it instead of failing — per the decision that a second attempt
// at the same issue should pick its work back up, not collide. Likewise, if
// worktreePath itself already exists on disk (a retry after a crash, before
// the prior worktree was cleaned up), git's "already exists" failure is
// treated as a successful reuse rather than propagated.
func (e *RealExecutor) CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error {
	var err error
	if e.BranchExists(ctx, repoPath, branch) {
		_, err = e.run(ctx, repoPath, e.GitBinary, "worktree", "add", worktreePath, branch)
	} else {
		_, err = e.run(ctx, repoPath, e.GitBinary, "worktree", "add", "-b", branch, worktreePath)
	}
	if err != nil && errors.Is(err, ErrPathExists) {
		return nil
	}
	return err
}

// RemoveWorktree removes a worktree, forcing removal if it has local changes
// (an orphaned worktree from a crashed run is never worth preserving).
func (e *RealExecutor) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	if _, err := e.run(ctx, repoPath, e.GitBinary, "worktree", "remove", worktreePath); err != nil {
		_, err := e.run(ctx, repoPath, e.GitBinary, "worktree", "remove", "--force", worktreePath)
		return err
	}
	return nil
}

// BranchExists reports whether branch exists in repoPath.
func (e *RealExecutor) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, err := e.run(ctx, repoPath, e.GitBinary, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// HasUncommittedChanges reports whether the worktree has anything to commit.
func (e *RealExecutor) HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error) {
	out, err := e.run(ctx, worktreePath, e.GitBinary, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAll stages everything in the worktree and commits with message. A
// worktree with nothing to commit after staging is treated as success.
func (e *RealExecutor) CommitAll(ctx context.Context, worktreePath, message string) error {
	if _, err := e.run(ctx, worktreePath, e.GitBinary, "add", "-A"); err != nil {
		return err
	}
	dirty, err := e.HasUncommittedChanges(ctx, worktreePath)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	_, err = e.run(ctx, worktreePath, e.GitBinary, "commit", "-m", message)
	return err
}

// Push pushes branch to its remote, creating the upstream if needed.
func (e *RealExecutor) Push(ctx context.Context, worktreePath, branch string) error {
	_, err := e.run(ctx, worktreePath, e.GitBinary, "push", "--set-upstream", "origin", branch)
	return err
}

// OpenPullRequest invokes "gh pr create" against base branch main from the
// worktree directory and returns the PR URL it prints on success.
func (e *RealExecutor) OpenPullRequest(ctx context.Context, worktreePath, branch, title, body string) (string, error) {
	out, err := e.run(ctx, worktreePath, e.GHBinary, "pr", "create", "--head", branch, "--base", "main", "--title", title, "--body", body)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Manager coordinates worktree lifecycle for tasks rooted under a single
// worktrees directory, one subdirectory per task.
type Manager struct {
	exec          Executor
	reposBasePath string
	worktreesPath string
}

// NewManager builds a Manager. reposBasePath is where cloned repositories
// live (one directory per "owner/repo"); worktreesPath is where per-task
// worktrees are created.
func NewManager(exec Executor, reposBasePath, worktreesPath string) *Manager {
	return &Manager{exec: exec, reposBasePath: reposBasePath, worktreesPath: worktreesPath}
}

// RepoPath resolves the on-disk path of a cloned repository given its
// "owner/repo" identifier.
func (m *Manager) RepoPath(repo string) string {
	return filepath.Join(m.reposBasePath, repo)
}

// WorktreePath resolves the on-disk path of a task's isolated worktree.
func (m *Manager) WorktreePath(taskID string) string {
	return filepath.Join(m.worktreesPath, taskID)
}

// Prepare creates (or reuses) the worktree for a task's branch, rooted at
// repo's clone, and returns its absolute path.
func (m *Manager) Prepare(ctx context.Context, repo, taskID, branch string) (string, error) {
	repoPath := m.RepoPath(repo)
	worktreePath := m.WorktreePath(taskID)

	if err := m.exec.CreateWorktree(ctx, repoPath, worktreePath, branch); err != nil {
		return "", &taskerrors.WorkspaceError{Op: "create_worktree", Detail: worktreePath, Cause: err}
	}
	return worktreePath, nil
}

// Finish commits any outstanding changes, pushes the branch, and opens a
// pull request. hasChanges is false, with no error, if the worktree was
// clean after the agent ran — the caller treats that as a no-op run.
func (m *Manager) Finish(ctx context.Context, worktreePath, branch, commitMessage, prTitle, prBody string) (hasChanges bool, prURL string, err error) {
	dirty, err := m.exec.HasUncommittedChanges(ctx, worktreePath)
	if err != nil {
		return false, "", &taskerrors.WorkspaceError{Op: "status", Detail: worktreePath, Cause: err}
	}
	if !dirty {
		return false, "", nil
	}

	if err := m.exec.CommitAll(ctx, worktreePath, commitMessage); err != nil {
		return true, "", &taskerrors.WorkspaceError{Op: "commit", Detail: worktreePath, Cause: err}
	}
	if err := m.exec.Push(ctx, worktreePath, branch); err != nil {
		return true, "", &taskerrors.PushError{Branch: branch, Cause: err}
	}

	url, err := m.exec.OpenPullRequest(ctx, worktreePath, branch, prTitle, prBody)
	if err != nil {
		// Push already succeeded; a failed PR is reported separately so the
		// caller can still advance status per the push-succeeded decision.
		return true, "", &taskerrors.PRError{Cause: err}
	}
	return true, url, nil
}

// Cleanup removes a task's worktree, retrying with --force via
// RemoveWorktree. If both attempts fail (including for a path that is no
// longer a registered worktree), it returns a WorkspaceError.
func (m *Manager) Cleanup(ctx context.Context, repo, worktreePath string) error {
	repoPath := m.RepoPath(repo)
	if err := m.exec.RemoveWorktree(ctx, repoPath, worktreePath); err != nil {
		return &taskerrors.WorkspaceError{Op: "remove_worktree", Detail: worktreePath, Cause: err}
	}
	return nil
}
