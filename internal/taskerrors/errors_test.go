package taskerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedErrors_UnwrapToCause(t *testing.T) {
	cause := errors.New("exit status 128")

	cases := []error{
		&WorkspaceError{Op: "commit", Cause: cause},
		&PushError{Branch: "ENG-1", Cause: cause},
		&PRError{Cause: cause},
		&TrackerSideEffectError{Op: "comment", Cause: cause},
		&StateIOError{Op: "save", Cause: cause},
	}
	for _, err := range cases {
		assert.True(t, errors.Is(err, cause), "%T should unwrap to its cause", err)
	}
}

func TestConfigError_SingularVsPluralMessage(t *testing.T) {
	single := &ConfigError{Problems: []string{"REPOS_BASE_PATH is required"}}
	assert.Equal(t, "invalid configuration: REPOS_BASE_PATH is required", single.Error())

	plural := &ConfigError{Problems: []string{"a", "b"}}
	assert.Contains(t, plural.Error(), "invalid configuration (2 problems):")
	assert.Contains(t, plural.Error(), "\n  - a")
	assert.Contains(t, plural.Error(), "\n  - b")
}

func TestDuplicateError_MessageReflectsRunningState(t *testing.T) {
	assert.Contains(t, (&DuplicateError{IssueID: "ENG-1", Running: true}).Error(), "already running")
	assert.Contains(t, (&DuplicateError{IssueID: "ENG-1", Running: false}).Error(), "already queued")
}
