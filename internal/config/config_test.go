package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// clearEnv blanks every environment variable Load reads, so each test
// starts from a known state regardless of the host's own environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LINEAR_API_KEY", "LINEAR_WEBHOOK_SECRET", "LINEAR_TRIGGER_LABEL",
		"REPO_CUSTOM_FIELD_NAME", "IN_PROGRESS_STATUS", "REVIEW_STATUS",
		"GITHUB_TOKEN", "GITHUB_WEBHOOK_SECRET", "GITHUB_TRIGGER_LABEL",
		"GITHUB_IN_PROGRESS_LABEL", "GITHUB_REVIEW_LABEL",
		"REPOS_BASE_PATH", "WORKTREES_PATH", "MAX_CONCURRENT_AGENTS",
		"INCLUDE_COMMENTS", "AGENT_TIMEOUT", "PORT", "AUTO_CLEAN_ORPHANS",
		"AGENT_BINARY", "GH_BINARY", "STATE_FILE", "LOG_DIR", "OTEL_TRACES_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func setValidBaseline(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "secret")
	t.Setenv("REPOS_BASE_PATH", "/srv/repos")
	t.Setenv("WORKTREES_PATH", "/srv/worktrees")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setValidBaseline(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxConcurrentAgents)
	assert.True(t, cfg.IncludeComments)
	assert.Equal(t, 1_800_000*time.Millisecond, cfg.AgentTimeout)
	assert.Equal(t, 3847, cfg.Port)
	assert.False(t, cfg.AutoCleanOrphans)
	assert.Equal(t, "claude", cfg.AgentBinary)
	assert.Equal(t, "gh", cfg.GHBinary)
	assert.Equal(t, "state.json", cfg.StateFile)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, "ai-attempt", cfg.GitHub.TriggerLabel)
	assert.Equal(t, "Repository", cfg.Linear.RepoCustomField)
}

func TestLoad_RejectsWhenNoProviderConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOS_BASE_PATH", "/srv/repos")
	t.Setenv("WORKTREES_PATH", "/srv/worktrees")

	_, err := Load()
	var cfgErr *taskerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 1)
}

func TestLoad_AcceptsLinearOnlyConfiguration(t *testing.T) {
	clearEnv(t)
	t.Setenv("LINEAR_API_KEY", "key")
	t.Setenv("LINEAR_WEBHOOK_SECRET", "secret")
	t.Setenv("REPOS_BASE_PATH", "/srv/repos")
	t.Setenv("WORKTREES_PATH", "/srv/worktrees")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Linear.Configured())
	assert.False(t, cfg.GitHub.Configured())
}

func TestLoad_RejectsRelativeRepoAndWorktreePaths(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "secret")
	t.Setenv("REPOS_BASE_PATH", "relative/repos")
	t.Setenv("WORKTREES_PATH", "relative/worktrees")

	_, err := Load()
	var cfgErr *taskerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 2)
}

func TestLoad_RejectsSubOneConcurrency(t *testing.T) {
	setValidBaseline(t)
	t.Setenv("MAX_CONCURRENT_AGENTS", "0")

	_, err := Load()
	var cfgErr *taskerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 1)
}

func TestLoad_CollectsAllProblemsAtOnce(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_CONCURRENT_AGENTS", "-1")

	_, err := Load()
	var cfgErr *taskerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 4)
}
