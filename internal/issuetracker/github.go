package issuetracker

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

const (
	githubSignatureHeader = "X-Hub-Signature-256"
	githubEventHeader     = "X-GitHub-Event"
	githubSigPrefix       = "sha256="
)

// githubHTTPDoer is the subset of *http.Client the adapter needs; tests
// substitute a fake.
type githubHTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GitHubConfig configures the GitHub adapter.
type GitHubConfig struct {
	Token           string
	WebhookSecret   string
	TriggerLabel    string
	InProgressLabel string
	ReviewLabel     string
}

// GitHubProvider implements Provider against the GitHub REST API.
type GitHubProvider struct {
	cfg     GitHubConfig
	http    githubHTTPDoer
	baseURL string
}

// NewGitHubProvider builds a GitHub adapter.
func NewGitHubProvider(cfg GitHubConfig, doer githubHTTPDoer) *GitHubProvider {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &GitHubProvider{cfg: cfg, http: doer, baseURL: "https://api.github.com"}
}

// Tag implements Provider.
func (p *GitHubProvider) Tag() Tag { return TagGitHub }

// githubIssueID is "owner/repo#number", the opaque id this adapter uses.
func githubIssueID(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

func splitGithubIssueID(id string) (owner, repo string, number int, err error) {
	repoPart, numPart, ok := strings.Cut(id, "#")
	if !ok {
		return "", "", 0, fmt.Errorf("github: malformed issue id %q", id)
	}
	owner, repo, ok = strings.Cut(repoPart, "/")
	if !ok {
		return "", "", 0, fmt.Errorf("github: malformed issue id %q", id)
	}
	if _, err := fmt.Sscanf(numPart, "%d", &number); err != nil {
		return "", "", 0, fmt.Errorf("github: malformed issue id %q: %w", id, err)
	}
	return owner, repo, number, nil
}

type githubIssueResponse struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

type githubCommentResponse struct {
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// GetIssue implements Provider.
func (p *GitHubProvider) GetIssue(id string, includeComments bool) (*Issue, error) {
	owner, repo, number, err := splitGithubIssueID(id)
	if err != nil {
		return nil, err
	}

	var gi githubIssueResponse
	if err := p.get(fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), &gi); err != nil {
		return nil, err
	}

	issue := &Issue{
		ID:         id,
		Identifier: githubIssueID(owner, repo, number),
		Title:      gi.Title,
		Description: gi.Body,
		RepoHint:   owner + "/" + repo,
		Metadata: map[string]any{
			"owner":  owner,
			"repo":   repo,
			"number": number,
		},
	}
	for _, l := range gi.Labels {
		issue.Labels = append(issue.Labels, Label{Name: l.Name})
	}

	if includeComments {
		var comments []githubCommentResponse
		if err := p.get(fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number), &comments); err != nil {
			return nil, err
		}
		for _, c := range comments {
			ts, _ := parseGithubTime(c.CreatedAt)
			issue.Comments = append(issue.Comments, Comment{
				Body:      c.Body,
				CreatedAt: ts,
				Author:    c.User.Login,
			})
		}
	}

	return issue, nil
}

// UpdateStatus implements Provider: GitHub models phases as labels. The
// request removes both reserved phase labels and adds the one requested.
func (p *GitHubProvider) UpdateStatus(id string, status Status) error {
	owner, repo, number, err := splitGithubIssueID(id)
	if err != nil {
		return err
	}

	var gi githubIssueResponse
	if err := p.get(fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), &gi); err != nil {
		return err
	}

	want := p.cfg.InProgressLabel
	if status == StatusReview {
		want = p.cfg.ReviewLabel
	}

	labels := make([]string, 0, len(gi.Labels)+1)
	for _, l := range gi.Labels {
		if l.Name == p.cfg.InProgressLabel || l.Name == p.cfg.ReviewLabel {
			continue
		}
		labels = append(labels, l.Name)
	}
	labels = append(labels, want)

	body, _ := json.Marshal(map[string]any{"labels": labels})
	return p.patch(fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), body)
}

// AddComment implements Provider.
func (p *GitHubProvider) AddComment(id string, markdown string) error {
	owner, repo, number, err := splitGithubIssueID(id)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"body": markdown})
	return p.post(fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number), body)
}

// GetRepository implements Provider: "owner/repo" derived from the issue's
// origin, always present for a GitHub issue.
func (p *GitHubProvider) GetRepository(issue *Issue) (string, error) {
	return issue.RepoHint, nil
}

// GetBranchName implements Provider: "{owner}-{repo}-{number}" to prevent
// collisions across repositories sharing a worktrees root.
func (p *GitHubProvider) GetBranchName(issue *Issue) string {
	owner, _ := issue.Metadata["owner"].(string)
	repo, _ := issue.Metadata["repo"].(string)
	number, _ := issue.Metadata["number"].(int)
	return fmt.Sprintf("%s-%s-%d", owner, repo, number)
}

// VerifyWebhook implements Provider. GitHub sends "sha256=" + hex HMAC-SHA256
// digest in the X-Hub-Signature-256 header.
func (p *GitHubProvider) VerifyWebhook(rawBody []byte, headers http.Header) (*VerifyResult, error) {
	sig := headers.Get(githubSignatureHeader)
	if sig == "" {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagGitHub), Reason: "missing X-Hub-Signature-256 header"}
	}
	if !strings.HasPrefix(sig, githubSigPrefix) {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagGitHub), Reason: "signature missing sha256= prefix"}
	}

	given, err := hex.DecodeString(strings.TrimPrefix(sig, githubSigPrefix))
	if err != nil {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagGitHub), Reason: "signature is not valid hex"}
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if !hmac.Equal(given, expected) {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagGitHub), Reason: "signature mismatch"}
	}

	event := map[string]any{"event": headers.Get(githubEventHeader), "body": json.RawMessage(rawBody)}
	wrapped, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("github: wrapping event: %w", err)
	}
	return &VerifyResult{Event: wrapped}, nil
}

// githubWebhookEnvelope is the shape ShouldTrigger expects, matching how
// VerifyWebhook wraps the raw body with the event-type header.
type githubWebhookEnvelope struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

type githubLabeledPayload struct {
	Action string `json:"action"`
	Label  struct {
		Name string `json:"name"`
	} `json:"label"`
	Issue struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   *string `json:"body"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// ShouldTrigger implements Provider's filter semantics (§4.2): event header
// "issues", action "labeled", label name case-insensitively equal to the
// configured trigger label.
func (p *GitHubProvider) ShouldTrigger(event []byte) (*TriggerEvent, error) {
	var envelope githubWebhookEnvelope
	if err := json.Unmarshal(event, &envelope); err != nil {
		return nil, fmt.Errorf("github: decoding webhook envelope: %w", err)
	}
	if envelope.Event != "issues" {
		return nil, nil
	}

	var payload githubLabeledPayload
	if err := json.Unmarshal(envelope.Body, &payload); err != nil {
		return nil, fmt.Errorf("github: decoding issues payload: %w", err)
	}
	if payload.Action != "labeled" {
		return nil, nil
	}
	if !strings.EqualFold(payload.Label.Name, p.cfg.TriggerLabel) {
		return nil, nil
	}

	id := githubIssueID(payload.Repository.Owner.Login, payload.Repository.Name, payload.Issue.Number)
	return &TriggerEvent{IssueID: id, Added: payload.Label.Name}, nil
}

func (p *GitHubProvider) get(path string, out any) error {
	return p.do(http.MethodGet, path, nil, out)
}

func (p *GitHubProvider) post(path string, body []byte) error {
	return p.do(http.MethodPost, path, body, nil)
}

func (p *GitHubProvider) patch(path string, body []byte) error {
	return p.do(http.MethodPatch, path, body, nil)
}

func (p *GitHubProvider) do(method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("github: reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &taskerrors.UpstreamNotFoundError{Provider: string(TagGitHub), IssueID: path}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("github: request failed with status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("github: decoding response: %w", err)
		}
	}
	return nil
}

func parseGithubTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
