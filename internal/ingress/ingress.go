// Package ingress exposes the HTTP surface: webhook intake, manual retry,
// health, status, and Prometheus metrics.
package ingress

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/agentrunner/internal/httputil"
	"github.com/flowforge/agentrunner/internal/issuetracker"
	"github.com/flowforge/agentrunner/internal/metrics"
	"github.com/flowforge/agentrunner/internal/queue"
	"github.com/flowforge/agentrunner/internal/statestore"
	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// Trigger is the subset of the processor the ingress layer depends on.
type Trigger interface {
	Trigger()
}

// Server wires the HTTP handlers to the queue, provider registry, and
// processor. It holds no goroutines of its own; Start/Stop are the caller's
// *http.Server responsibility.
type Server struct {
	Providers *issuetracker.Registry
	Queue     *queue.Queue
	Store     *statestore.Store
	Processor Trigger
	Logger    *slog.Logger
	StartedAt time.Time
	Metrics   *metrics.Collectors
	Registry  *prometheus.Registry

	draining bool
}

// Mux builds the *http.ServeMux for all five endpoints.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{provider}", s.handleWebhook)
	mux.HandleFunc("POST /retry/{issueId}", s.handleRetry)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.Registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.Registry))
	}
	return mux
}

// Drain marks the server as shutting down; new admissions are rejected.
func (s *Server) Drain() { s.draining = true }

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.draining {
		w.Header().Set("Retry-After", "10")
		httputil.WriteError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	tag := issuetracker.Tag(r.PathValue("provider"))
	provider, err := s.Providers.Get(tag)
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "provider not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := provider.VerifyWebhook(body, r.Header)
	if err != nil {
		var sigErr *taskerrors.SignatureInvalidError
		if errors.As(err, &sigErr) {
			httputil.WriteError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "malformed request")
		return
	}

	trigger, err := provider.ShouldTrigger(result.Event)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	if trigger == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	task, err := s.admit(provider, tag, trigger.IssueID)
	if err != nil {
		var dup *taskerrors.DuplicateError
		if errors.As(err, &dup) {
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "already_processing"})
			return
		}
		var unresolved *taskerrors.RepoUnresolvedError
		if errors.As(err, &unresolved) {
			httputil.WriteError(w, http.StatusBadRequest, "could not resolve repository")
			return
		}
		var notFound *taskerrors.UpstreamNotFoundError
		if errors.As(err, &notFound) {
			httputil.WriteError(w, http.StatusBadRequest, "issue not found upstream")
			return
		}
		s.Logger.Error("admission failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "admission failed")
		return
	}

	s.Processor.Trigger()
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "enqueued", "issueId": task.Identifier})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if s.draining {
		w.Header().Set("Retry-After", "10")
		httputil.WriteError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	issueID := r.PathValue("issueId")
	tag := issuetracker.Tag(r.URL.Query().Get("provider"))

	provider, err := s.Providers.Get(tag)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "provider not configured")
		return
	}

	if s.Queue.IsRunning(tag, issueID) || s.Queue.IsQueued(tag, issueID) {
		httputil.WriteError(w, http.StatusConflict, "already queued or running")
		return
	}

	task, err := s.admit(provider, tag, issueID)
	if err != nil {
		var unresolved *taskerrors.RepoUnresolvedError
		if errors.As(err, &unresolved) {
			httputil.WriteError(w, http.StatusBadRequest, "could not resolve repository")
			return
		}
		var notFound *taskerrors.UpstreamNotFoundError
		if errors.As(err, &notFound) {
			httputil.WriteError(w, http.StatusNotFound, "issue not found upstream")
			return
		}
		var dup *taskerrors.DuplicateError
		if errors.As(err, &dup) {
			httputil.WriteError(w, http.StatusConflict, "already queued or running")
			return
		}
		s.Logger.Error("retry admission failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "admission failed")
		return
	}

	s.Processor.Trigger()
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "enqueued", "issueId": task.IssueID})
}

// admit fetches the issue, resolves its repository, and enqueues a new
// task. Shared by the webhook and retry paths so the duplicate-rejection
// discipline lives in exactly one place: the queue's Add.
func (s *Server) admit(provider issuetracker.Provider, tag issuetracker.Tag, issueID string) (*queue.Task, error) {
	issue, err := provider.GetIssue(issueID, false)
	if err != nil {
		return nil, err
	}

	repo, err := provider.GetRepository(issue)
	if err != nil || repo == "" {
		return nil, &taskerrors.RepoUnresolvedError{IssueID: issueID, Detail: "no repository resolved"}
	}

	task := &queue.Task{
		Provider:   tag,
		IssueID:    issueID,
		Identifier: issue.Identifier,
		Repo:       repo,
		Title:      issue.Title,
	}
	if err := s.Queue.Add(task); err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.QueueDepth.Set(float64(s.Queue.Size()))
	}
	return task, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.StartedAt).Seconds()),
		"providers":      s.Providers.Tags(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.Queue.Status()
	running := make([]map[string]any, 0, len(status.Running))
	for _, t := range status.Running {
		running = append(running, map[string]any{
			"issue":      t.IssueID,
			"repo":       t.Repo,
			"started_at": t.StartedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"queue_depth":   status.QueueDepth,
		"running_count": len(running),
		"running":       running,
		"providers":     s.Providers.Tags(),
	})
}
