// Package processor is the single, process-lifetime scheduler: it pulls
// tasks off the queue within the configured concurrency bound, runs them
// through the agent runner, and persists the running-set snapshot around
// every state transition.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowforge/agentrunner/internal/agentrunner"
	"github.com/flowforge/agentrunner/internal/metrics"
	"github.com/flowforge/agentrunner/internal/queue"
	"github.com/flowforge/agentrunner/internal/statestore"
)

const pollInterval = time.Second

// Processor dispatches queued tasks while the queue has capacity. Tasks run
// one at a time on the dispatch goroutine, so a concurrency limit above 1
// does not make tasks run in parallel.
type Processor struct {
	queue   *queue.Queue
	runner  *agentrunner.Runner
	store   *statestore.Store
	logger  *slog.Logger
	metrics *metrics.Collectors

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	trigger chan struct{}
}

// New builds a Processor. logger is expected to already carry a component
// field; this package does not add one itself. metrics may be nil, in which
// case gauge/counter updates are skipped.
func New(q *queue.Queue, r *agentrunner.Runner, store *statestore.Store, logger *slog.Logger, m *metrics.Collectors) *Processor {
	return &Processor{
		queue:   q,
		runner:  r,
		store:   store,
		metrics: m,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop. Idempotent: a second call while already
// running logs a warning and no-ops.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn("processor already running, ignoring duplicate start")
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop signals the dispatch loop to exit and waits for it to drain its
// current iteration. It does not interrupt an in-flight task.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh
}

// Trigger requests an immediate dispatch attempt, used by ingress right
// after a successful admission. Non-blocking: if a trigger is already
// pending, this is a no-op.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.dispatch(ctx)
		case <-p.trigger:
			p.dispatch(ctx)
		}
	}
}

// dispatch drains as many ready tasks as capacity allows, one at a time.
// Each run persists the state snapshot immediately before and after
// execution so a crash mid-run leaves a consistent on-disk view.
func (p *Processor) dispatch(ctx context.Context) {
	for p.queue.Size() > 0 && p.queue.CanStartNew() {
		t := p.queue.Next()
		if t == nil {
			return
		}

		p.queue.MarkRunning(t)
		p.persist()
		p.refreshGauges()

		result := p.runOne(ctx, t)

		outcome := metrics.OutcomeCompletedWithChanges
		if result.Err != nil {
			p.logger.Error("task failed", "issue_id", t.IssueID, "error", result.Err)
			p.queue.MarkFailed(t.Provider, t.IssueID, result.Err)
			outcome = metrics.OutcomeFailed
		} else {
			p.logger.Info("task completed", "issue_id", t.IssueID, "has_changes", result.HasChanges)
			p.queue.MarkComplete(t.Provider, t.IssueID)
			if !result.HasChanges {
				outcome = metrics.OutcomeCompletedNoChanges
			}
		}
		if p.metrics != nil {
			p.metrics.TaskOutcome.WithLabelValues(outcome, string(t.Provider)).Inc()
		}
		p.persist()
		p.refreshGauges()
	}
}

func (p *Processor) refreshGauges() {
	if p.metrics == nil {
		return
	}
	p.metrics.QueueDepth.Set(float64(p.queue.Size()))
	p.metrics.Running.Set(float64(len(p.queue.RunningTasks())))
}

// runOne isolates a single task's panic, if any, and converts it into a
// failure result — an unhandled panic in the agent runner must never crash
// the processor's goroutine.
func (p *Processor) runOne(ctx context.Context, t *queue.Task) (result agentrunner.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("recovered panic running task", "issue_id", t.IssueID, "panic", rec)
			result = agentrunner.Result{Err: &panicError{Value: rec}}
		}
	}()
	return p.runner.Run(ctx, t)
}

func (p *Processor) persist() {
	if err := p.store.Save(p.queue.RunningTasks()); err != nil {
		p.logger.Error("persisting state snapshot failed", "error", err)
	}
}

type panicError struct {
	Value any
}

func (e *panicError) Error() string {
	return "panic during task execution"
}
