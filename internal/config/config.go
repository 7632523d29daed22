// Package config loads the service's entire configuration surface from
// environment variables. There is no YAML/JSON configuration file format in
// this service — the environment is the only configuration input.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// Config holds every environment-derived setting the service needs at boot.
type Config struct {
	Linear LinearConfig
	GitHub GitHubConfig

	// ReposBasePath is the directory under which task repositories live.
	// Environment: REPOS_BASE_PATH (required)
	ReposBasePath string

	// WorktreesPath is the directory under which per-task worktrees are
	// created.
	// Environment: WORKTREES_PATH (required)
	WorktreesPath string

	// MaxConcurrentAgents bounds how many tasks may be running at once.
	// Environment: MAX_CONCURRENT_AGENTS (default 1)
	MaxConcurrentAgents int

	// IncludeComments controls whether getIssue also fetches comments.
	// Environment: INCLUDE_COMMENTS (default true)
	IncludeComments bool

	// AgentTimeout bounds how long the coding-agent child process may run.
	// Environment: AGENT_TIMEOUT (milliseconds, default 1,800,000)
	AgentTimeout time.Duration

	// Port is the HTTP listen port.
	// Environment: PORT (default 3847)
	Port int

	// AutoCleanOrphans controls whether cleanupOrphans removes orphaned
	// worktrees or only logs them.
	// Environment: AUTO_CLEAN_ORPHANS (default false)
	AutoCleanOrphans bool

	// AgentBinary is the coding-agent CLI invoked as `{binary} -p {prompt}`.
	// Environment: AGENT_BINARY (default "claude")
	AgentBinary string

	// GHBinary is the hosted-repository CLI invoked for `pr create`.
	// Environment: GH_BINARY (default "gh")
	GHBinary string

	// StateFile is the path to the running-set snapshot file.
	// Environment: STATE_FILE (default "state.json")
	StateFile string

	// LogDir is the directory holding one transcript file per task.
	// Environment: LOG_DIR (default "logs")
	LogDir string

	// OTELTracesEnabled turns on the stdout span exporter for ingress
	// requests.
	// Environment: OTEL_TRACES_ENABLED (default false)
	OTELTracesEnabled bool
}

// LinearConfig holds Linear-specific settings.
type LinearConfig struct {
	APIKey           string // LINEAR_API_KEY
	WebhookSecret    string // LINEAR_WEBHOOK_SECRET
	TriggerLabel     string // LINEAR_TRIGGER_LABEL (default "ai-attempt")
	RepoCustomField  string // REPO_CUSTOM_FIELD_NAME (default "Repository")
	InProgressStatus string // IN_PROGRESS_STATUS (default "In Progress")
	ReviewStatus     string // REVIEW_STATUS (default "In Review")
}

// Configured reports whether both the API key and webhook secret are set.
func (c LinearConfig) Configured() bool {
	return c.APIKey != "" && c.WebhookSecret != ""
}

// GitHubConfig holds GitHub-specific settings.
type GitHubConfig struct {
	Token            string // GITHUB_TOKEN
	WebhookSecret    string // GITHUB_WEBHOOK_SECRET
	TriggerLabel     string // GITHUB_TRIGGER_LABEL (default "ai-attempt")
	InProgressLabel  string // GITHUB_IN_PROGRESS_LABEL (default "in-progress")
	ReviewLabel      string // GITHUB_REVIEW_LABEL (default "review")
}

// Configured reports whether both the token and webhook secret are set.
func (c GitHubConfig) Configured() bool {
	return c.Token != "" && c.WebhookSecret != ""
}

// Load reads the environment, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Linear: LinearConfig{
			APIKey:           os.Getenv("LINEAR_API_KEY"),
			WebhookSecret:    os.Getenv("LINEAR_WEBHOOK_SECRET"),
			TriggerLabel:     envOr("LINEAR_TRIGGER_LABEL", "ai-attempt"),
			RepoCustomField:  envOr("REPO_CUSTOM_FIELD_NAME", "Repository"),
			InProgressStatus: envOr("IN_PROGRESS_STATUS", "In Progress"),
			ReviewStatus:     envOr("REVIEW_STATUS", "In Review"),
		},
		GitHub: GitHubConfig{
			Token:           os.Getenv("GITHUB_TOKEN"),
			WebhookSecret:   os.Getenv("GITHUB_WEBHOOK_SECRET"),
			TriggerLabel:    envOr("GITHUB_TRIGGER_LABEL", "ai-attempt"),
			InProgressLabel: envOr("GITHUB_IN_PROGRESS_LABEL", "in-progress"),
			ReviewLabel:     envOr("GITHUB_REVIEW_LABEL", "review"),
		},
		ReposBasePath:        os.Getenv("REPOS_BASE_PATH"),
		WorktreesPath:        os.Getenv("WORKTREES_PATH"),
		MaxConcurrentAgents:  envOrInt("MAX_CONCURRENT_AGENTS", 1),
		IncludeComments:      envOrBool("INCLUDE_COMMENTS", true),
		AgentTimeout:         time.Duration(envOrInt("AGENT_TIMEOUT", 1_800_000)) * time.Millisecond,
		Port:                 envOrInt("PORT", 3847),
		AutoCleanOrphans:     envOrBool("AUTO_CLEAN_ORPHANS", false),
		AgentBinary:          envOr("AGENT_BINARY", "claude"),
		GHBinary:             envOr("GH_BINARY", "gh"),
		StateFile:            envOr("STATE_FILE", "state.json"),
		LogDir:               envOr("LOG_DIR", "logs"),
		OTELTracesEnabled:    envOrBool("OTEL_TRACES_ENABLED", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string

	if !c.Linear.Configured() && !c.GitHub.Configured() {
		problems = append(problems, "at least one provider's (key, secret) pair must be set "+
			"(LINEAR_API_KEY+LINEAR_WEBHOOK_SECRET or GITHUB_TOKEN+GITHUB_WEBHOOK_SECRET)")
	}
	if c.ReposBasePath == "" {
		problems = append(problems, "REPOS_BASE_PATH is required")
	} else if !filepath.IsAbs(c.ReposBasePath) {
		problems = append(problems, "REPOS_BASE_PATH must be an absolute path")
	}
	if c.WorktreesPath == "" {
		problems = append(problems, "WORKTREES_PATH is required")
	} else if !filepath.IsAbs(c.WorktreesPath) {
		problems = append(problems, "WORKTREES_PATH must be an absolute path")
	}
	if c.MaxConcurrentAgents < 1 {
		problems = append(problems, fmt.Sprintf("MAX_CONCURRENT_AGENTS must be >= 1, got %d", c.MaxConcurrentAgents))
	}

	if len(problems) > 0 {
		return &taskerrors.ConfigError{Problems: problems}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envOrBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
