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
	"sort"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

const linearSignatureHeader = "Linear-Signature"

// linearHTTPDoer is the subset of *http.Client the adapter needs; tests
// substitute a fake.
type linearHTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LinearConfig configures the Linear adapter.
type LinearConfig struct {
	APIKey           string
	WebhookSecret    string
	TriggerLabel     string
	RepoCustomField  string
	InProgressStatus string
	ReviewStatus     string
}

// LinearProvider implements Provider against Linear's GraphQL API.
type LinearProvider struct {
	cfg        LinearConfig
	http       linearHTTPDoer
	endpoint   string
	repoQuery  *gojq.Code
}

// NewLinearProvider builds a Linear adapter. cfg.APIKey/WebhookSecret are
// assumed already validated non-empty by internal/config.
func NewLinearProvider(cfg LinearConfig, doer linearHTTPDoer) (*LinearProvider, error) {
	if doer == nil {
		doer = http.DefaultClient
	}

	field := cfg.RepoCustomField
	if field == "" {
		field = "Repository"
	}
	query, err := gojq.Parse(`.customFields[] | select(.name == $field) | .value`)
	if err != nil {
		return nil, fmt.Errorf("linear: failed to parse repo custom-field query: %w", err)
	}
	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$field"}))
	if err != nil {
		return nil, fmt.Errorf("linear: failed to compile repo custom-field query: %w", err)
	}

	return &LinearProvider{
		cfg:       cfg,
		http:      doer,
		endpoint:  "https://api.linear.app/graphql",
		repoQuery: code,
	}, nil
}

// Tag implements Provider.
func (p *LinearProvider) Tag() Tag { return TagLinear }

// linearIssueResponse mirrors the shape this adapter expects back from
// Linear's GraphQL API (trimmed to the fields the core needs).
type linearIssueResponse struct {
	ID           string `json:"id"`
	Identifier   string `json:"identifier"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	CustomFields []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"customFields"`
	Labels struct {
		Nodes []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Comments struct {
		Nodes []struct {
			ID        string    `json:"id"`
			Body      string    `json:"body"`
			CreatedAt time.Time `json:"createdAt"`
			User      *struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"nodes"`
	} `json:"comments"`
	Parent *struct {
		ID          string `json:"id"`
		Identifier  string `json:"identifier"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"parent"`
	Team struct {
		ID     string `json:"id"`
		States struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"states"`
	} `json:"team"`
}

// GetIssue implements Provider.
func (p *LinearProvider) GetIssue(id string, includeComments bool) (*Issue, error) {
	payload, err := p.graphQL(linearGetIssueQuery(includeComments), map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Issue *linearIssueResponse `json:"issue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("linear: decoding issue response: %w", err)
	}
	if resp.Data.Issue == nil {
		return nil, &taskerrors.UpstreamNotFoundError{Provider: string(TagLinear), IssueID: id}
	}

	return p.toIssue(resp.Data.Issue), nil
}

func (p *LinearProvider) toIssue(r *linearIssueResponse) *Issue {
	issue := &Issue{
		ID:          r.ID,
		Identifier:  r.Identifier,
		Title:       r.Title,
		Description: r.Description,
		Metadata:    map[string]any{"teamID": r.Team.ID},
	}

	fields := make([]any, 0, len(r.CustomFields))
	for _, f := range r.CustomFields {
		fields = append(fields, map[string]any{"name": f.Name, "value": f.Value})
	}
	issue.Metadata["customFields"] = fields

	for _, l := range r.Labels.Nodes {
		issue.Labels = append(issue.Labels, Label{ID: l.ID, Name: l.Name})
	}

	for _, c := range r.Comments.Nodes {
		author := ""
		if c.User != nil {
			author = c.User.Name
		}
		issue.Comments = append(issue.Comments, Comment{
			ID:        c.ID,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
			Author:    author,
		})
	}
	sort.Slice(issue.Comments, func(i, j int) bool {
		return issue.Comments[i].CreatedAt.Before(issue.Comments[j].CreatedAt)
	})

	if r.Parent != nil {
		issue.Parent = &Issue{
			ID:          r.Parent.ID,
			Identifier:  r.Parent.Identifier,
			Title:       r.Parent.Title,
			Description: r.Parent.Description,
		}
	}

	return issue
}

// UpdateStatus implements Provider. Linear models phases as named workflow
// states within the issue's owning team; the match is case-insensitive.
func (p *LinearProvider) UpdateStatus(id string, status Status) error {
	issue, err := p.GetIssue(id, false)
	if err != nil {
		return err
	}

	want := p.cfg.InProgressStatus
	if status == StatusReview {
		want = p.cfg.ReviewStatus
	}

	payload, err := p.graphQL(linearTeamStatesQuery, map[string]any{"teamID": issue.Metadata["teamID"]})
	if err != nil {
		return err
	}
	var resp struct {
		Data struct {
			Team struct {
				States struct {
					Nodes []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"states"`
			} `json:"team"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("linear: decoding workflow states: %w", err)
	}

	var stateID string
	var available []string
	for _, s := range resp.Data.Team.States.Nodes {
		available = append(available, s.Name)
		if strings.EqualFold(s.Name, want) {
			stateID = s.ID
			break
		}
	}
	if stateID == "" {
		return fmt.Errorf("linear: no workflow state named %q on team (available: %s)",
			want, strings.Join(available, ", "))
	}

	_, err = p.graphQL(linearUpdateIssueStateMutation, map[string]any{"id": id, "stateId": stateID})
	return err
}

// AddComment implements Provider.
func (p *LinearProvider) AddComment(id string, markdown string) error {
	_, err := p.graphQL(linearAddCommentMutation, map[string]any{"issueId": id, "body": markdown})
	return err
}

// GetRepository implements Provider by running a gojq query over the
// decoded custom-fields bag.
func (p *LinearProvider) GetRepository(issue *Issue) (string, error) {
	fields, ok := issue.Metadata["customFields"]
	if !ok {
		return "", nil
	}

	iter := p.repoQuery.Run(fields, p.fieldNameOrDefault())
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return "", fmt.Errorf("linear: repo custom-field query: %w", err)
		}
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", nil
}

func (p *LinearProvider) fieldNameOrDefault() string {
	if p.cfg.RepoCustomField != "" {
		return p.cfg.RepoCustomField
	}
	return "Repository"
}

// GetBranchName implements Provider: the human identifier is already
// filesystem-safe (e.g. "ENG-123").
func (p *LinearProvider) GetBranchName(issue *Issue) string {
	return issue.Identifier
}

// VerifyWebhook implements Provider. Linear sends a bare hex HMAC-SHA256
// digest in the Linear-Signature header.
func (p *LinearProvider) VerifyWebhook(rawBody []byte, headers http.Header) (*VerifyResult, error) {
	sig := headers.Get(linearSignatureHeader)
	if sig == "" {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagLinear), Reason: "missing Linear-Signature header"}
	}

	given, err := hex.DecodeString(sig)
	if err != nil {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagLinear), Reason: "signature is not valid hex"}
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if !hmac.Equal(given, expected) {
		return nil, &taskerrors.SignatureInvalidError{Provider: string(TagLinear), Reason: "signature mismatch"}
	}

	return &VerifyResult{Event: rawBody}, nil
}

// linearWebhookEvent mirrors the subset of Linear's webhook payload this
// adapter's filter cares about.
type linearWebhookEvent struct {
	Type   string `json:"type"`   // e.g. "Issue"
	Action string `json:"action"` // e.g. "update"
	Data   struct {
		ID         string   `json:"id"`
		Identifier string   `json:"identifier"`
		LabelIDs   []string `json:"labelIds"`
	} `json:"data"`
	UpdatedFrom struct {
		LabelIDs []string `json:"labelIds"`
	} `json:"updatedFrom"`
}

// ShouldTrigger implements Provider's filter semantics (§4.2): the event
// must be an Issue update carrying a label-id diff, and a newly-added id
// must resolve by name to the configured trigger label.
func (p *LinearProvider) ShouldTrigger(event []byte) (*TriggerEvent, error) {
	var ev linearWebhookEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return nil, fmt.Errorf("linear: decoding webhook event: %w", err)
	}
	if ev.Type != "Issue" || ev.Action != "update" {
		return nil, nil
	}

	previous := toSet(ev.UpdatedFrom.LabelIDs)
	var added []string
	for _, id := range ev.Data.LabelIDs {
		if !previous[id] {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}

	for _, labelID := range added {
		name, err := p.resolveLabelName(labelID)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(name, p.cfg.TriggerLabel) {
			return &TriggerEvent{IssueID: ev.Data.ID, Added: name}, nil
		}
	}
	return nil, nil
}

func (p *LinearProvider) resolveLabelName(labelID string) (string, error) {
	payload, err := p.graphQL(linearLabelNameQuery, map[string]any{"id": labelID})
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			IssueLabel struct {
				Name string `json:"name"`
			} `json:"issueLabel"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("linear: decoding label: %w", err)
	}
	return resp.Data.IssueLabel.Name, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (p *LinearProvider) graphQL(query string, variables map[string]any) ([]byte, error) {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return nil, fmt.Errorf("linear: marshaling request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("linear: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.cfg.APIKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linear: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("linear: reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &taskerrors.UpstreamNotFoundError{Provider: string(TagLinear)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("linear: request failed with status %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func linearGetIssueQuery(includeComments bool) string {
	commentsBlock := ""
	if includeComments {
		commentsBlock = `comments { nodes { id body createdAt user { name } } }`
	}
	return fmt.Sprintf(`query($id: String!) {
		issue(id: $id) {
			id identifier title description
			customFields { name value }
			labels { nodes { id name } }
			%s
			parent { id identifier title description }
			team { id states { nodes { id name } } }
		}
	}`, commentsBlock)
}

const linearTeamStatesQuery = `query($teamID: String!) {
	team(id: $teamID) { states { nodes { id name } } }
}`

const linearUpdateIssueStateMutation = `mutation($id: String!, $stateId: String!) {
	issueUpdate(id: $id, input: { stateId: $stateId }) { success }
}`

const linearAddCommentMutation = `mutation($issueId: String!, $body: String!) {
	commentCreate(input: { issueId: $issueId, body: $body }) { success }
}`

const linearLabelNameQuery = `query($id: String!) {
	issueLabel(id: $id) { name }
}`
