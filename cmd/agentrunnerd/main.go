// Command agentrunnerd runs the agent runner daemon: it ingests issue
// tracker webhooks, isolates a per-task git worktree, runs an external
// coding-agent CLI, and opens a pull request on success.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowforge/agentrunner/internal/config"
	"github.com/flowforge/agentrunner/internal/daemon"
	"github.com/flowforge/agentrunner/internal/log"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentrunnerd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		logger.Error("failed to construct daemon", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon failed to start", "error", err)
			os.Exit(1)
		}
	}
}
