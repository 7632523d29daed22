package issuetracker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

func signGithub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubVerifyWebhook_RejectsMissingHeader(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{WebhookSecret: "s"}, nil)

	_, err := p.VerifyWebhook([]byte(`{}`), http.Header{})
	var sigErr *taskerrors.SignatureInvalidError
	require.ErrorAs(t, err, &sigErr)
}

func TestGitHubVerifyWebhook_RejectsMismatch(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{WebhookSecret: "s"}, nil)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString([]byte("not-a-real-digest-000000000000")))
	_, err := p.VerifyWebhook([]byte(`{}`), headers)
	var sigErr *taskerrors.SignatureInvalidError
	require.ErrorAs(t, err, &sigErr)
}

func TestGitHubVerifyWebhook_AcceptsValidSignature(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{WebhookSecret: "s"}, nil)
	body := []byte(`{"action":"labeled"}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", signGithub("s", body))
	headers.Set("X-GitHub-Event", "issues")

	result, err := p.VerifyWebhook(body, headers)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Event)
}

func TestGitHubShouldTrigger_MatchesLabelCaseInsensitively(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{WebhookSecret: "s", TriggerLabel: "ai-attempt"}, nil)
	body := []byte(`{
		"action":"labeled",
		"label":{"name":"AI-Attempt"},
		"issue":{"number":42,"title":"T","body":null,"labels":[]},
		"repository":{"full_name":"acme/widgets","owner":{"login":"acme"},"name":"widgets"}
	}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", signGithub("s", body))
	headers.Set("X-GitHub-Event", "issues")

	result, err := p.VerifyWebhook(body, headers)
	require.NoError(t, err)

	trigger, err := p.ShouldTrigger(result.Event)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, "acme/widgets#42", trigger.IssueID)
	assert.Equal(t, "AI-Attempt", trigger.Added)
}

func TestGitHubShouldTrigger_IgnoresNonMatchingLabel(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{WebhookSecret: "s", TriggerLabel: "ai-attempt"}, nil)
	body := []byte(`{
		"action":"labeled",
		"label":{"name":"bug"},
		"issue":{"number":1,"title":"T","body":null,"labels":[]},
		"repository":{"full_name":"acme/widgets","owner":{"login":"acme"},"name":"widgets"}
	}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", signGithub("s", body))
	headers.Set("X-GitHub-Event", "issues")

	result, err := p.VerifyWebhook(body, headers)
	require.NoError(t, err)

	trigger, err := p.ShouldTrigger(result.Event)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestGitHubShouldTrigger_IgnoresNonIssuesEvent(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{WebhookSecret: "s", TriggerLabel: "ai-attempt"}, nil)
	body := []byte(`{"action":"labeled"}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", signGithub("s", body))
	headers.Set("X-GitHub-Event", "push")

	result, err := p.VerifyWebhook(body, headers)
	require.NoError(t, err)

	trigger, err := p.ShouldTrigger(result.Event)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestGitHubBranchName(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{}, nil)
	issue := &Issue{Metadata: map[string]any{"owner": "acme", "repo": "widgets", "number": 42}}
	assert.Equal(t, "acme-widgets-42", p.GetBranchName(issue))
}

func TestSplitGithubIssueID(t *testing.T) {
	owner, repo, number, err := splitGithubIssueID("acme/widgets#42")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
	assert.Equal(t, 42, number)

	_, _, _, err = splitGithubIssueID("malformed")
	assert.Error(t, err)
}
