package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyGitError_RecognizesBranchCheckedOut(t *testing.T) {
	cause := errors.New("exit status 128")
	err := classifyGitError("git", []string{"worktree", "add"}, "fatal: 'ENG-1' is already checked out at '/x'", cause)
	assert.ErrorIs(t, err, ErrBranchCheckedOut)
}

func TestClassifyGitError_RecognizesPathExists(t *testing.T) {
	cause := errors.New("exit status 128")
	err := classifyGitError("git", []string{"worktree", "add"}, "fatal: '/x' already exists", cause)
	assert.ErrorIs(t, err, ErrPathExists)
}

func TestClassifyGitError_FallsBackToRawStderr(t *testing.T) {
	cause := errors.New("exit status 1")
	err := classifyGitError("git", []string{"push"}, "fatal: remote rejected", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "remote rejected")
}

func TestClassifyGitError_EmptyStderrStillWrapsCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := classifyGitError("git", []string{"push"}, "", cause)
	assert.ErrorIs(t, err, cause)
}

func TestNewRealExecutor_DefaultsEmptyBinaryNames(t *testing.T) {
	e := NewRealExecutor("", "")
	assert.Equal(t, "git", e.GitBinary)
	assert.Equal(t, "gh", e.GHBinary)
}

func TestNewRealExecutor_KeepsExplicitBinaryNames(t *testing.T) {
	e := NewRealExecutor("/usr/bin/git", "/usr/bin/gh")
	assert.Equal(t, "/usr/bin/git", e.GitBinary)
	assert.Equal(t, "/usr/bin/gh", e.GHBinary)
}

// TestRealExecutor_CreateWorktree_ReusesExistingPath exercises the actual
// git invocation against an isolated temp repo: a retried CreateWorktree
// against a path that's already present on disk (e.g. left over from a
// crash before cleanup ran) must succeed rather than propagate git's
// "already exists" failure.
func TestRealExecutor_CreateWorktree_ReusesExistingPath(t *testing.T) {
	repoPath := t.TempDir()
	runGit(t, repoPath, "init")
	runGit(t, repoPath, "config", "user.email", "test@test.com")
	runGit(t, repoPath, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test\n"), 0o644))
	runGit(t, repoPath, "add", ".")
	runGit(t, repoPath, "commit", "-m", "initial")

	e := NewRealExecutor("", "")
	worktreePath := filepath.Join(t.TempDir(), "task-1")
	ctx := context.Background()

	require.NoError(t, e.CreateWorktree(ctx, repoPath, worktreePath, "task-1"))
	require.NoError(t, e.CreateWorktree(ctx, repoPath, worktreePath, "task-1"), "second call against the same path must reuse, not fail")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}
