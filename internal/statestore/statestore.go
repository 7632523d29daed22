// Package statestore persists the running-set snapshot to a single file,
// written atomically (temp file + rename) so a crash never leaves a
// half-written state file behind. Only running tasks are persisted — the
// pending sequence is not written to disk and starts empty after a restart,
// per the no-mid-run-resumption design.
package statestore

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/queue"
	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// Snapshot is the on-disk shape of the running set.
type Snapshot struct {
	Version   int              `json:"version"`
	SavedAt   time.Time        `json:"savedAt"`
	Running   []SnapshotTask   `json:"runningAgents"`
}

// SnapshotTask mirrors the fields of queue.Task worth recovering after a
// restart — enough to identify the orphaned worktree and issue to clean up,
// not enough to resume the agent run itself.
type SnapshotTask struct {
	Provider      issuetracker.Tag `json:"provider"`
	IssueID       string           `json:"issue_id"`
	Identifier    string           `json:"identifier"`
	Repo          string           `json:"repo"`
	WorkspacePath string           `json:"workspace_path"`
	Branch        string           `json:"branch"`
	Title         string           `json:"title"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
}

const currentVersion = 1

// Store guards concurrent writes to a single state file with a mutex —
// there is exactly one writer goroutine in practice (the processor), but the
// lock keeps Save safe to call from anywhere without a second thought.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Save atomically writes the given running tasks as the new snapshot,
// replacing whatever was there before. It writes to path + ".tmp", then
// renames over path, so a reader never observes a partial write.
func (s *Store) Save(tasks []*queue.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Version: currentVersion,
		SavedAt: time.Now(),
		Running: make([]SnapshotTask, 0, len(tasks)),
	}
	for _, t := range tasks {
		snap.Running = append(snap.Running, SnapshotTask{
			Provider:      t.Provider,
			IssueID:       t.IssueID,
			Identifier:    t.Identifier,
			Repo:          t.Repo,
			WorkspacePath: t.WorkspacePath,
			Branch:        t.Branch,
			Title:         t.Title,
			StartedAt:     t.StartedAt,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &taskerrors.StateIOError{Op: "marshal", Cause: err}
	}

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &taskerrors.StateIOError{Op: "create_temp", Cause: err}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &taskerrors.StateIOError{Op: "write", Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &taskerrors.StateIOError{Op: "sync", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &taskerrors.StateIOError{Op: "close", Cause: err}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &taskerrors.StateIOError{Op: "rename", Cause: err}
	}
	return nil
}

// Load reads the snapshot back. A missing file is not an error — it means
// there was nothing running at the last clean shutdown (or this is the
// first run ever) and Load returns an empty snapshot. A corrupted file is
// treated the same way: the bad bytes are logged and discarded rather than
// failing the caller, since losing the running-set on a corrupt read is
// strictly better than refusing to start.
func (s *Store) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Snapshot{Version: currentVersion}, nil
	}
	if err != nil {
		return nil, &taskerrors.StateIOError{Op: "read", Cause: err}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Default().Error("state file corrupted, starting with empty running set",
			"path", s.path, "error", err)
		return &Snapshot{Version: currentVersion}, nil
	}
	return &snap, nil
}
