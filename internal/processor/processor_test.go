package processor

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/agentrunner/internal/agentrunner"
	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/metrics"
	"github.com/flowforge/agentrunner/internal/queue"
	"github.com/flowforge/agentrunner/internal/statestore"
	"github.com/flowforge/agentrunner/internal/workspace"
)

type stubProvider struct {
	issue  *issuetracker.Issue
	branch string
}

func (s *stubProvider) Tag() issuetracker.Tag { return issuetracker.TagLinear }
func (s *stubProvider) GetIssue(id string, includeComments bool) (*issuetracker.Issue, error) {
	return s.issue, nil
}
func (s *stubProvider) UpdateStatus(id string, status issuetracker.Status) error { return nil }
func (s *stubProvider) AddComment(id string, markdown string) error             { return nil }
func (s *stubProvider) GetRepository(issue *issuetracker.Issue) (string, error) {
	return issue.RepoHint, nil
}
func (s *stubProvider) GetBranchName(issue *issuetracker.Issue) string { return s.branch }
func (s *stubProvider) VerifyWebhook(rawBody []byte, headers http.Header) (*issuetracker.VerifyResult, error) {
	return nil, nil
}
func (s *stubProvider) ShouldTrigger(event []byte) (*issuetracker.TriggerEvent, error) {
	return nil, nil
}

type stubExec struct {
	dirty bool
}

func (e *stubExec) CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error {
	return os.MkdirAll(worktreePath, 0o755)
}
func (e *stubExec) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	return nil
}
func (e *stubExec) BranchExists(ctx context.Context, repoPath, branch string) bool { return false }
func (e *stubExec) HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error) {
	return e.dirty, nil
}
func (e *stubExec) CommitAll(ctx context.Context, worktreePath, message string) error { return nil }
func (e *stubExec) Push(ctx context.Context, worktreePath, branch string) error       { return nil }
func (e *stubExec) OpenPullRequest(ctx context.Context, worktreePath, branch, title, body string) (string, error) {
	return "https://example.com/pr/1", nil
}

func newTestProcessor(t *testing.T, agentBinary string, maxConcurrent int, m *metrics.Collectors) (*Processor, *queue.Queue, *statestore.Store) {
	t.Helper()
	q := queue.New(maxConcurrent)
	store := statestore.New(filepath.Join(t.TempDir(), "state.json"))
	provider := &stubProvider{issue: &issuetracker.Issue{Identifier: "ENG-1", Title: "T", RepoHint: "proj"}, branch: "ENG-1"}
	mgr := workspace.NewManager(&stubExec{dirty: true}, t.TempDir(), t.TempDir())
	runner := &agentrunner.Runner{
		Providers:   issuetracker.NewRegistry(provider),
		Workspace:   mgr,
		AgentBinary: agentBinary,
		Timeout:     5 * time.Second,
		LogDir:      t.TempDir(),
	}
	p := New(q, runner, store, slog.Default(), m)
	return p, q, store
}

func addTask(t *testing.T, q *queue.Queue, issueID string) {
	t.Helper()
	require.NoError(t, q.Add(&queue.Task{Provider: issuetracker.TagLinear, IssueID: issueID, Identifier: issueID, Repo: "proj"}))
}

func TestDispatch_DrainsQueueAndCompletes(t *testing.T) {
	p, q, _ := newTestProcessor(t, "/bin/echo", 5, nil)
	addTask(t, q, "ENG-1")
	addTask(t, q, "ENG-2")

	p.dispatch(context.Background())

	assert.Equal(t, 0, q.Size())
	assert.Len(t, q.RunningTasks(), 0)
}

func TestDispatch_PersistsEmptyRunningSetAfterCompletion(t *testing.T) {
	p, q, store := newTestProcessor(t, "/bin/echo", 5, nil)
	addTask(t, q, "ENG-1")

	p.dispatch(context.Background())

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Running)
}

func TestDispatch_FailedAgentLeavesTaskNeitherQueuedNorRunning(t *testing.T) {
	p, q, _ := newTestProcessor(t, "/bin/false", 5, nil)
	addTask(t, q, "ENG-1")

	p.dispatch(context.Background())

	assert.False(t, q.IsQueued(issuetracker.TagLinear, "ENG-1"))
	assert.False(t, q.IsRunning(issuetracker.TagLinear, "ENG-1"))
}

func TestDispatch_IncrementsOutcomeCounters(t *testing.T) {
	collectors, _ := metrics.New()
	p, q, _ := newTestProcessor(t, "/bin/echo", 5, collectors)
	addTask(t, q, "ENG-1")

	p.dispatch(context.Background())

	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.TaskOutcome.WithLabelValues(metrics.OutcomeCompletedWithChanges, string(issuetracker.TagLinear))))
	assert.Equal(t, float64(0), testutil.ToFloat64(collectors.QueueDepth))
	assert.Equal(t, float64(0), testutil.ToFloat64(collectors.Running))
}

func TestRunOne_RecoversPanicFromNilRunner(t *testing.T) {
	p := &Processor{logger: slog.Default()}
	task := &queue.Task{Provider: issuetracker.TagLinear, IssueID: "ENG-1"}

	result := p.runOne(context.Background(), task)

	var panicErr *panicError
	require.ErrorAs(t, result.Err, &panicErr)
}

func TestStartStop_IsIdempotentAndDrainsCleanly(t *testing.T) {
	p, _, _ := newTestProcessor(t, "/bin/echo", 5, nil)
	ctx := context.Background()

	p.Start(ctx)
	p.Start(ctx) // second call is a no-op, not a second goroutine
	p.Stop()
	p.Stop() // second call must not block or panic
}
