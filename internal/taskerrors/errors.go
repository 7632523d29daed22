// Package taskerrors defines the typed error taxonomy used across ingress,
// the provider adapters, the workspace manager, and the agent runner.
//
// Callers discriminate on type via errors.As, not by matching Error() text,
// with the sole exception of the two git stderr fragments the workspace
// manager recognizes during worktree creation ("already checked out" and
// "already exists").
package taskerrors

import "fmt"

// SignatureInvalidError is returned when a webhook's HMAC signature does not
// verify: missing header, malformed encoding, or a mismatch.
type SignatureInvalidError struct {
	Provider string
	Reason   string
}

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("invalid signature for provider %s: %s", e.Provider, e.Reason)
}

// NotConfiguredError is returned when a named provider has no registered
// adapter, or is registered but missing required credentials.
type NotConfiguredError struct {
	Provider       string
	MissingCreds   bool
	MissingCredMsg string
}

func (e *NotConfiguredError) Error() string {
	if e.MissingCreds {
		return fmt.Sprintf("provider %s is not fully configured: %s", e.Provider, e.MissingCredMsg)
	}
	return fmt.Sprintf("provider %s is not configured", e.Provider)
}

// UpstreamNotFoundError is returned when the tracker reports no such issue.
type UpstreamNotFoundError struct {
	Provider string
	IssueID  string
}

func (e *UpstreamNotFoundError) Error() string {
	return fmt.Sprintf("issue %s not found upstream for provider %s", e.IssueID, e.Provider)
}

// RepoUnresolvedError is returned when the provider adapter cannot derive a
// repository path for an issue.
type RepoUnresolvedError struct {
	IssueID string
	Detail  string
}

func (e *RepoUnresolvedError) Error() string {
	return fmt.Sprintf("could not resolve repository for issue %s: %s", e.IssueID, e.Detail)
}

// DuplicateError is returned when admission finds the issue already queued
// or running.
type DuplicateError struct {
	IssueID string
	Running bool
}

func (e *DuplicateError) Error() string {
	if e.Running {
		return fmt.Sprintf("issue %s is already running", e.IssueID)
	}
	return fmt.Sprintf("issue %s is already queued", e.IssueID)
}

// WorkspaceError wraps a failure from the workspace manager. Fatal to the task.
type WorkspaceError struct {
	Op     string
	Detail string
	Cause  error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s failed: %s", e.Op, e.Detail)
}

func (e *WorkspaceError) Unwrap() error { return e.Cause }

// AgentTimeoutError is produced when the coding agent child process exceeds
// its configured wall-clock budget.
type AgentTimeoutError struct {
	Budget string // human-readable budget, e.g. "30 minutes"
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %s", e.Budget)
}

// AgentNonZeroError is produced when the coding agent child process exits
// with a non-zero status.
type AgentNonZeroError struct {
	ExitCode  int
	StderrTop string
}

func (e *AgentNonZeroError) Error() string {
	return fmt.Sprintf("agent exited with code %d: %s", e.ExitCode, e.StderrTop)
}

// PushError is produced when pushing the task's branch fails. Fatal; status
// is not advanced to review.
type PushError struct {
	Branch string
	Cause  error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("failed to push branch %s: %v", e.Branch, e.Cause)
}

func (e *PushError) Unwrap() error { return e.Cause }

// PRError is produced when pull-request creation fails. Non-fatal: the task
// still finalizes as success with a null PR URL.
type PRError struct {
	Cause error
}

func (e *PRError) Error() string {
	return fmt.Sprintf("failed to create pull request: %v", e.Cause)
}

func (e *PRError) Unwrap() error { return e.Cause }

// TrackerSideEffectError covers status-update and comment failures around an
// otherwise successful run. Always log-only; never changes task outcome.
type TrackerSideEffectError struct {
	Op    string // "status-update" or "comment"
	Cause error
}

func (e *TrackerSideEffectError) Error() string {
	return fmt.Sprintf("tracker side effect (%s) failed: %v", e.Op, e.Cause)
}

func (e *TrackerSideEffectError) Unwrap() error { return e.Cause }

// StateIOError wraps a state-file read/write failure. Log-only; never
// aborts the processor.
type StateIOError struct {
	Op    string
	Cause error
}

func (e *StateIOError) Error() string {
	return fmt.Sprintf("state file %s failed: %v", e.Op, e.Cause)
}

func (e *StateIOError) Unwrap() error { return e.Cause }

// ConfigError reports one or more problems found while validating
// environment-derived configuration.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid configuration: %s", e.Problems[0])
	}
	msg := fmt.Sprintf("invalid configuration (%d problems):", len(e.Problems))
	for _, p := range e.Problems {
		msg += "\n  - " + p
	}
	return msg
}
