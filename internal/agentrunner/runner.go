// Package agentrunner drives a single task end to end: fetch the issue,
// prepare its workspace, invoke the external coding agent as a child
// process, and finalize the result against both git/the hosted-repo CLI and
// the issue tracker.
package agentrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/log"
	"github.com/flowforge/agentrunner/internal/queue"
	"github.com/flowforge/agentrunner/internal/taskerrors"
	"github.com/flowforge/agentrunner/internal/workspace"
)

const stderrTruncateBytes = 4096

// Result is what Run returns to the processor: always non-nil, carrying
// either a successful outcome or the classified failure.
type Result struct {
	HasChanges bool
	PRURL      string
	Err        error
}

// Runner executes tasks. One Runner is shared across all concurrently
// running tasks; Run itself holds no state between calls.
type Runner struct {
	Providers       *issuetracker.Registry
	Workspace       *workspace.Manager
	AgentBinary     string
	Timeout         time.Duration
	LogDir          string
	IncludeComments bool
}

// Run performs the ordered steps of §4.6 for a single task. The task's
// WorkspacePath and Branch fields are populated as a side effect of a
// successful workspace step. Run does not persist them itself; the
// processor's snapshot writes happen before Run starts and after it returns.
func (r *Runner) Run(ctx context.Context, t *queue.Task) Result {
	logger := log.WithTask(slog.Default(), string(t.Provider), t.IssueID, t.Identifier)

	provider, err := r.Providers.Get(t.Provider)
	if err != nil {
		return Result{Err: err}
	}

	issue, err := provider.GetIssue(t.IssueID, r.IncludeComments)
	if err != nil {
		r.finalizeFailure(provider, t.IssueID, err, logger)
		return Result{Err: err}
	}

	branch := provider.GetBranchName(issue)
	t.Branch = branch

	worktreePath, err := r.Workspace.Prepare(ctx, t.Repo, branch, branch)
	if err != nil {
		r.finalizeFailure(provider, t.IssueID, err, logger)
		return Result{Err: err}
	}
	t.WorkspacePath = worktreePath

	if err := provider.UpdateStatus(t.IssueID, issuetracker.StatusInProgress); err != nil {
		logger.Warn("update status to in_progress failed", "error", err)
	}

	logPath := filepath.Join(r.LogDir, t.Identifier+".log")
	if err := provider.AddComment(t.IssueID, fmt.Sprintf("Starting work on branch `%s`. Log: `%s`.", branch, logPath)); err != nil {
		logger.Warn("starting comment failed", "error", err)
	}

	if runErr := r.runAgent(ctx, issue, t.Repo, branch, worktreePath, logPath); runErr != nil {
		r.finalizeFailure(provider, t.IssueID, runErr, logger)
		return Result{Err: runErr}
	}

	hasChanges, prURL, err := r.Workspace.Finish(ctx, worktreePath, branch, CommitMessage(issue), PullRequestTitle(issue), PullRequestBody(issue))
	var prErr *taskerrors.PRError
	if err != nil && !errors.As(err, &prErr) {
		// Commit or push itself failed: the task is a failure.
		r.finalizeFailure(provider, t.IssueID, err, logger)
		return Result{Err: err}
	}
	if err != nil {
		logger.Warn("pull request creation failed; push already succeeded", "error", err)
	}

	if !hasChanges {
		if err := provider.AddComment(t.IssueID, "No code changes were necessary; nothing to commit."); err != nil {
			logger.Warn("no-changes comment failed", "error", err)
		}
		if err := provider.UpdateStatus(t.IssueID, issuetracker.StatusReview); err != nil {
			logger.Warn("update status to review failed", "error", err)
		}
		return Result{HasChanges: false}
	}

	comment := fmt.Sprintf("Finished work on branch `%s`.", branch)
	if prURL != "" {
		comment += fmt.Sprintf(" Pull request: %s", prURL)
	}
	if err := provider.AddComment(t.IssueID, comment); err != nil {
		logger.Warn("completion comment failed", "error", err)
	}
	if err := provider.UpdateStatus(t.IssueID, issuetracker.StatusReview); err != nil {
		logger.Warn("update status to review failed", "error", err)
	}

	return Result{HasChanges: true, PRURL: prURL}
}

// finalizeFailure posts a failure comment; status is deliberately left
// unchanged (the spec forbids transitioning to review on failure).
func (r *Runner) finalizeFailure(provider issuetracker.Provider, issueID string, cause error, logger *slog.Logger) {
	if err := provider.AddComment(issueID, fmt.Sprintf("Run failed: %s", cause.Error())); err != nil {
		logger.Warn("failure comment failed", "error", err)
	}
}

// runAgent launches the coding agent binary with the built prompt and
// enforces the wall-clock timeout. Whether the worktree ended up dirty is
// left for the caller to determine via the workspace manager.
func (r *Runner) runAgent(ctx context.Context, issue *issuetracker.Issue, repo, branch, worktreePath, logPath string) error {
	prompt := BuildPrompt(issue, repo, branch)

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.AgentBinary, "-p", prompt)
	cmd.Dir = worktreePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if writeErr := writeLog(logPath, stdout.Bytes(), stderr.Bytes()); writeErr != nil {
		// Logging failures never mask the real agent outcome.
		slog.Default().Warn("writing agent log failed", "path", logPath, "error", writeErr)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &taskerrors.AgentTimeoutError{Budget: formatBudget(r.Timeout)}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		exitCode := -1
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		top := stderr.Bytes()
		if len(top) == 0 {
			top = stdout.Bytes()
		}
		return &taskerrors.AgentNonZeroError{ExitCode: exitCode, StderrTop: truncate(top, stderrTruncateBytes)}
	}

	return nil
}

// formatBudget renders a timeout budget in plain English (e.g. "30 minutes")
// for clean whole units, falling back to Duration's own notation otherwise.
func formatBudget(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		hours := d / time.Hour
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case d%time.Minute == 0:
		minutes := d / time.Minute
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	case d%time.Second == 0:
		seconds := d / time.Second
		if seconds == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	default:
		return d.String()
	}
}

func writeLog(path string, stdout, stderr []byte) error {
	var buf bytes.Buffer
	buf.WriteString("=== stdout ===\n")
	buf.Write(stdout)
	buf.WriteString("\n=== stderr ===\n")
	buf.Write(stderr)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "... (truncated)"
}
