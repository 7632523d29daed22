// Package queue implements the in-process task queue: an ordered pending
// sequence plus a running map keyed by issue id, guarded by a single mutex.
package queue

import (
	"sync"
	"time"

	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// Status is a Task's position in its lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is a unit of work, exactly as described in §3 of the spec.
type Task struct {
	Provider      issuetracker.Tag
	IssueID       string
	Identifier    string
	Repo          string
	WorkspacePath string
	Branch        string
	Title         string
	Status        Status
	StartedAt     *time.Time
}

// key uniquely identifies a task by (provider, issue id).
type key struct {
	provider issuetracker.Tag
	issueID  string
}

func keyOf(t *Task) key { return key{provider: t.Provider, issueID: t.IssueID} }

// Queue is the FIFO pending sequence plus the running map. All methods are
// short and non-blocking; none hold the lock across I/O.
type Queue struct {
	mu      sync.Mutex
	pending []*Task
	running map[key]*Task
	maxRun  int
}

// New builds a Queue bounded by maxConcurrent running tasks.
func New(maxConcurrent int) *Queue {
	return &Queue{
		running: make(map[key]*Task),
		maxRun:  maxConcurrent,
	}
}

// Add appends task to the pending sequence, unless the issue is already
// queued or running — the single place this invariant is enforced, per the
// source's design note that it belongs to the queue, not to any one caller.
func (q *Queue) Add(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{provider: t.Provider, issueID: t.IssueID}
	if _, running := q.running[k]; running {
		return &taskerrors.DuplicateError{IssueID: t.IssueID, Running: true}
	}
	for _, p := range q.pending {
		if keyOf(p) == k {
			return &taskerrors.DuplicateError{IssueID: t.IssueID, Running: false}
		}
	}

	t.Status = StatusQueued
	q.pending = append(q.pending, t)
	return nil
}

// Next pops the head of the pending sequence, or returns nil if empty.
func (q *Queue) Next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t
}

// MarkRunning stamps the start time and moves the task into the running map.
func (q *Queue) MarkRunning(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	t.StartedAt = &now
	t.Status = StatusRunning
	q.running[keyOf(t)] = t
}

// MarkComplete removes a completed task from the running map.
func (q *Queue) MarkComplete(provider issuetracker.Tag, issueID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, key{provider: provider, issueID: issueID})
}

// MarkFailed removes a failed task from the running map. err is accepted for
// symmetry with MarkComplete's call sites but the queue itself does not
// retain failure detail — the agent runner has already logged and reported
// it by the time this is called.
func (q *Queue) MarkFailed(provider issuetracker.Tag, issueID string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, key{provider: provider, issueID: issueID})
}

// IsQueued reports whether the issue has a pending (not yet running) task.
func (q *Queue) IsQueued(provider issuetracker.Tag, issueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{provider: provider, issueID: issueID}
	for _, p := range q.pending {
		if keyOf(p) == k {
			return true
		}
	}
	return false
}

// IsRunning reports whether the issue currently has a running task.
func (q *Queue) IsRunning(provider issuetracker.Tag, issueID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.running[key{provider: provider, issueID: issueID}]
	return ok
}

// Size returns the length of the pending sequence.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// CanStartNew reports whether the running count is below the configured max.
func (q *Queue) CanStartNew() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running) < q.maxRun
}

// RunningTasks returns a deep-copied snapshot of the running map's values,
// safe for a caller to retain without aliasing internal state.
func (q *Queue) RunningTasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.running))
	for _, t := range q.running {
		out = append(out, cloneTask(t))
	}
	return out
}

// RestoreRunning repopulates the running map from a state-store snapshot.
// Used only during crash recovery; it does not relaunch workers.
func (q *Queue) RestoreRunning(tasks []*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		q.running[keyOf(t)] = cloneTask(t)
	}
}

// StatusSummary reports queue depth, running count, and a snapshot of
// running tasks for the /status endpoint.
type StatusSummary struct {
	QueueDepth int
	Running    []*Task
}

// Status returns counts plus running summaries.
func (q *Queue) Status() StatusSummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	running := make([]*Task, 0, len(q.running))
	for _, t := range q.running {
		running = append(running, cloneTask(t))
	}
	return StatusSummary{QueueDepth: len(q.pending), Running: running}
}

func cloneTask(t *Task) *Task {
	clone := *t
	if t.StartedAt != nil {
		ts := *t.StartedAt
		clone.StartedAt = &ts
	}
	return &clone
}
