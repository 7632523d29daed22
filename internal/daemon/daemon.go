// Package daemon wires configuration, providers, the queue, state store,
// workspace manager, agent runner, processor, and HTTP ingress into one
// process, and owns the boot and shutdown sequence.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flowforge/agentrunner/internal/agentrunner"
	"github.com/flowforge/agentrunner/internal/config"
	"github.com/flowforge/agentrunner/internal/ingress"
	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/log"
	"github.com/flowforge/agentrunner/internal/metrics"
	"github.com/flowforge/agentrunner/internal/processor"
	"github.com/flowforge/agentrunner/internal/queue"
	"github.com/flowforge/agentrunner/internal/statestore"
	"github.com/flowforge/agentrunner/internal/tracing"
	"github.com/flowforge/agentrunner/internal/workspace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const drainTimeout = 30 * time.Second

// Daemon owns the process-lifetime state for the agent runner service.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	queue      *queue.Queue
	store      *statestore.Store
	providers  *issuetracker.Registry
	workspace  *workspace.Manager
	runner     *agentrunner.Runner
	processor  *processor.Processor
	ingress    *ingress.Server
	otelTP     *sdktrace.TracerProvider
	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	started bool
}

// New constructs the Daemon and all its subsystems, but does not start
// anything — that happens in Start.
func New(cfg *config.Config) (*Daemon, error) {
	logger := log.WithComponent(log.New(log.FromEnv()), "daemon")

	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, fmt.Errorf("building providers: %w", err)
	}

	q := queue.New(cfg.MaxConcurrentAgents)
	store := statestore.New(cfg.StateFile)
	ws := workspace.NewManager(
		workspace.NewRealExecutor("", cfg.GHBinary),
		cfg.ReposBasePath,
		cfg.WorktreesPath,
	)

	runner := &agentrunner.Runner{
		Providers:       providers,
		Workspace:       ws,
		AgentBinary:     cfg.AgentBinary,
		Timeout:         cfg.AgentTimeout,
		LogDir:          cfg.LogDir,
		IncludeComments: cfg.IncludeComments,
	}

	collectors, reg := metrics.New()
	proc := processor.New(q, runner, store, log.WithComponent(logger, "processor"), collectors)

	srv := &ingress.Server{
		Providers: providers,
		Queue:     q,
		Store:     store,
		Processor: proc,
		Logger:    log.WithComponent(logger, "ingress"),
		StartedAt: time.Now(),
		Metrics:   collectors,
		Registry:  reg,
	}

	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		queue:     q,
		store:     store,
		providers: providers,
		workspace: ws,
		runner:    runner,
		processor: proc,
		ingress:   srv,
	}, nil
}

func buildProviders(cfg *config.Config) (*issuetracker.Registry, error) {
	var providers []issuetracker.Provider

	if cfg.Linear.Configured() {
		linear, err := issuetracker.NewLinearProvider(issuetracker.LinearConfig{
			APIKey:           cfg.Linear.APIKey,
			WebhookSecret:    cfg.Linear.WebhookSecret,
			TriggerLabel:     cfg.Linear.TriggerLabel,
			RepoCustomField:  cfg.Linear.RepoCustomField,
			InProgressStatus: cfg.Linear.InProgressStatus,
			ReviewStatus:     cfg.Linear.ReviewStatus,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("linear provider: %w", err)
		}
		providers = append(providers, linear)
	}

	if cfg.GitHub.Configured() {
		github := issuetracker.NewGitHubProvider(issuetracker.GitHubConfig{
			Token:           cfg.GitHub.Token,
			WebhookSecret:   cfg.GitHub.WebhookSecret,
			TriggerLabel:    cfg.GitHub.TriggerLabel,
			InProgressLabel: cfg.GitHub.InProgressLabel,
			ReviewLabel:     cfg.GitHub.ReviewLabel,
		}, nil)
		providers = append(providers, github)
	}

	return issuetracker.NewRegistry(providers...), nil
}

// Start restores the running-set snapshot, reconciles orphaned worktrees,
// launches the processor, and then begins serving HTTP. It blocks only long
// enough to bind the listener; the HTTP server itself runs in a goroutine.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if d.cfg.OTELTracesEnabled {
		tp, err := tracing.NewStdoutProvider("agentrunner")
		if err != nil {
			d.logger.Warn("tracing setup failed, continuing without it", "error", err)
		} else {
			d.otelTP = tp
		}
	}

	snapshot, err := d.store.Load()
	if err != nil {
		return fmt.Errorf("loading state snapshot: %w", err)
	}
	restored := make([]*queue.Task, 0, len(snapshot.Running))
	for _, st := range snapshot.Running {
		restored = append(restored, &queue.Task{
			Provider:      st.Provider,
			IssueID:       st.IssueID,
			Identifier:    st.Identifier,
			Repo:          st.Repo,
			WorkspacePath: st.WorkspacePath,
			Branch:        st.Branch,
			Title:         st.Title,
			Status:        queue.StatusRunning,
			StartedAt:     st.StartedAt,
		})
	}
	d.queue.RestoreRunning(restored)
	d.cleanupOrphans(ctx, restored)
	d.processor.Start(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	d.listener = ln

	handler := http.Handler(d.ingress.Mux())
	handler = tracing.TracingMiddleware(handler)
	handler = tracing.CorrelationMiddleware(handler)
	d.httpServer = &http.Server{Handler: handler}

	go func() {
		if err := d.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	d.logger.Info("daemon started", "port", d.cfg.Port, "providers", d.providers.Tags())
	return nil
}

// cleanupOrphans reports (and optionally removes) worktrees belonging to
// tasks that were running when the process last exited. Orphans are never
// resumed — only cleaned up or left for inspection.
func (d *Daemon) cleanupOrphans(ctx context.Context, restored []*queue.Task) {
	for _, t := range restored {
		if t.WorkspacePath == "" {
			continue
		}
		d.logger.Warn("orphaned task workspace from prior run", "issue_id", t.IssueID, "path", t.WorkspacePath)
		if !d.cfg.AutoCleanOrphans {
			continue
		}
		if err := d.workspace.Cleanup(ctx, t.Repo, t.WorkspacePath); err != nil {
			d.logger.Warn("orphan cleanup failed", "issue_id", t.IssueID, "error", err)
			continue
		}
		d.queue.MarkComplete(t.Provider, t.IssueID)
	}
}

// Shutdown drains the processor, stops accepting new HTTP connections, and
// releases tracing resources. It is not graceful toward any in-flight task:
// the last-saved snapshot is what crash recovery sees on next start.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}

	d.ingress.Drain()
	if d.httpServer != nil {
		d.httpServer.SetKeepAlivesEnabled(false)
	}

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	d.processor.Stop()

	if d.httpServer != nil {
		if err := d.httpServer.Shutdown(drainCtx); err != nil {
			d.logger.Warn("http server shutdown error", "error", err)
		}
	}

	if d.otelTP != nil {
		if err := tracing.Shutdown(drainCtx, d.otelTP); err != nil {
			d.logger.Warn("tracing shutdown error", "error", err)
		}
	}

	d.logger.Info("daemon stopped")
	return nil
}
