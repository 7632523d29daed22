package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/queue"
)

func TestLoad_MissingFileReturnsEmptySnapshot(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Running)
}

func TestLoad_CorruptedFileReturnsEmptySnapshotInsteadOfError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))
	store := New(path)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Running)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := New(path)

	tasks := []*queue.Task{
		{
			Provider:      issuetracker.TagLinear,
			IssueID:       "ENG-7",
			Identifier:    "ENG-7",
			Repo:          "my-proj",
			WorkspacePath: "/work/ENG-7",
			Branch:        "ENG-7",
			Title:         "Fix crash",
		},
	}

	require.NoError(t, store.Save(tasks))

	snap, err := store.Load()
	require.NoError(t, err)
	require.Len(t, snap.Running, 1)
	assert.Equal(t, "ENG-7", snap.Running[0].IssueID)
	assert.Equal(t, "my-proj", snap.Running[0].Repo)
	assert.Equal(t, "/work/ENG-7", snap.Running[0].WorkspacePath)
}

func TestSave_NeverLeavesTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := New(path)

	require.NoError(t, store.Save(nil))

	entries, err := filepathGlobTmp(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be renamed away, not left behind")
}

func TestSave_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := New(path)

	tasks := []*queue.Task{{Provider: issuetracker.TagGitHub, IssueID: "acme/widgets#1"}}
	require.NoError(t, store.Save(tasks))
	first, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.Save(tasks))
	second, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, first.Running, second.Running)
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.tmp"))
}
