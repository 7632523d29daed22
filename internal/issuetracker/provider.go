package issuetracker

import "net/http"

// Tag identifies which adapter a Task belongs to.
type Tag string

const (
	TagLinear Tag = "linear"
	TagGitHub Tag = "github"
)

// VerifyResult is what verifyWebhook returns on success.
type VerifyResult struct {
	Event []byte // decoded event payload, ready for shouldTrigger
}

// Provider is the uniform contract both ingress and the agent runner use.
// All operations are fallible; failures are categorized in the taskerrors
// package per the error taxonomy.
type Provider interface {
	// Tag identifies this adapter ("linear" or "github").
	Tag() Tag

	// GetIssue fetches current issue state. Labels are always populated;
	// comments are populated only if includeComments is true, in ascending
	// creation order.
	GetIssue(id string, includeComments bool) (*Issue, error)

	// UpdateStatus moves the issue into the logical phase.
	UpdateStatus(id string, status Status) error

	// AddComment posts a markdown comment. Idempotency is not required.
	AddComment(id string, markdown string) error

	// GetRepository extracts the repository path for the issue. A "" return
	// with no error means unresolved (caller treats as RepoUnresolvedError).
	GetRepository(issue *Issue) (string, error)

	// GetBranchName derives a stable, filesystem-safe branch/workspace name.
	GetBranchName(issue *Issue) string

	// VerifyWebhook performs constant-time HMAC-SHA256 verification of the
	// raw request body against the configured secret.
	VerifyWebhook(rawBody []byte, headers http.Header) (*VerifyResult, error)

	// ShouldTrigger filters a decoded webhook event down to a single
	// admission decision, or nil if the event should be ignored.
	ShouldTrigger(event []byte) (*TriggerEvent, error)
}
