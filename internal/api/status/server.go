// Package status exposes the reconciled live view over a small JSON API: the
// current job run, connection state and scheduler snapshot. Handlers only read
// published state; all mutation flows through the owning components.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/crawl-sentinel/internal/app/polling"
	"github.com/ahrav/crawl-sentinel/internal/domain/connectivity"
	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
	"github.com/ahrav/crawl-sentinel/pkg/common/otel"
)

// JobView provides the reconciled view of the tracked job.
type JobView interface {
	Run() crawl.JobRun
}

// ConnectionView provides the published connectivity state.
type ConnectionView interface {
	State() connectivity.State
}

// SchedulerView provides the latest polled scheduler snapshot.
type SchedulerView interface {
	Snapshot() polling.Snapshot[crawl.SchedulerStatus]
}

// CrawlStarter performs the one-shot crawl start action. Its error surfaces
// directly to the API caller.
type CrawlStarter interface {
	StartCrawl(ctx context.Context, sources []string) (string, error)
}

// CrawlStopper performs the one-shot crawl stop action.
type CrawlStopper interface {
	StopCrawl(ctx context.Context, jobID string) error
}

// Config carries everything the server needs.
type Config struct {
	Addr    string
	Build   string
	Jobs    JobView
	Conn    ConnectionView
	Sched   SchedulerView
	Starter CrawlStarter
	Stopper CrawlStopper
}

// Server serves the read API.
type Server struct {
	cfg    Config
	logger *logger.Logger
	router *chi.Mux
	tracer trace.Tracer
}

// NewServer builds a Server with routes and middleware bound.
func NewServer(cfg Config, log *logger.Logger, tracer trace.Tracer) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		logger: log.With("component", "status_api"),
		router: r,
		tracer: tracer,
	}
	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/crawl", s.handleStartCrawl)
		r.Post("/crawl/stop", s.handleStopCrawl)
	})
}

// Handler returns the underlying http.Handler, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok", Build: s.cfg.Build})
}

type workerView struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	UnitsDone int    `json:"units_done"`
	Message   string `json:"message,omitempty"`
}

type summaryView struct {
	TotalArticles int            `json:"total_articles"`
	SourceCounts  map[string]int `json:"source_counts,omitempty"`
}

type jobView struct {
	JobID        string       `json:"job_id,omitempty"`
	Phase        string       `json:"phase"`
	Progress     float64      `json:"progress"`
	Workers      []workerView `json:"workers"`
	Summary      *summaryView `json:"summary,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

type connectionView struct {
	Status                string `json:"status"`
	RetryCountdownSeconds int    `json:"retry_countdown_seconds,omitempty"`
}

type schedulerView struct {
	Enabled       bool       `json:"enabled"`
	ActiveJobID   string     `json:"active_job_id,omitempty"`
	QueuedJobs    int        `json:"queued_jobs"`
	Window        string     `json:"window,omitempty"`
	LastFailure   string     `json:"last_failure,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

type statusResponse struct {
	Job        jobView        `json:"job"`
	Connection connectionView `json:"connection"`
	Scheduler  schedulerView  `json:"scheduler"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.cfg.Jobs.Run()
	conn := s.cfg.Conn.State()
	sched := s.cfg.Sched.Snapshot()

	workers := make([]workerView, 0, len(run.Workers))
	for _, ws := range run.Workers {
		workers = append(workers, workerView{
			Name:      ws.Key,
			State:     ws.State.String(),
			UnitsDone: ws.UnitsDone,
			Message:   ws.Message,
		})
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Name < workers[j].Name })

	job := jobView{
		JobID:        run.JobID,
		Phase:        run.Phase.String(),
		Progress:     run.ProgressFraction,
		Workers:      workers,
		ErrorMessage: run.ErrorMessage,
	}
	if run.Summary != nil {
		job.Summary = &summaryView{
			TotalArticles: run.Summary.TotalArticles,
			SourceCounts:  run.Summary.SourceCounts,
		}
	}
	if !run.StartedAt.IsZero() {
		t := run.StartedAt
		job.StartedAt = &t
	}
	if !run.FinishedAt.IsZero() {
		t := run.FinishedAt
		job.FinishedAt = &t
	}

	resp := statusResponse{
		Job: job,
		Connection: connectionView{
			Status:                conn.Status.String(),
			RetryCountdownSeconds: conn.RetryCountdownSeconds,
		},
		Scheduler: schedulerView{
			Enabled:     sched.Value.Enabled,
			ActiveJobID: sched.Value.ActiveJobID,
			QueuedJobs:  sched.Value.QueuedJobs,
			Window:      sched.Value.Window,
		},
	}
	if sched.LastFailure != reconcile.FailureNone {
		resp.Scheduler.LastFailure = sched.LastFailure.String()
	}
	if !sched.LastSuccessAt.IsZero() {
		t := sched.LastSuccessAt
		resp.Scheduler.LastSuccessAt = &t
	}

	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

type startCrawlRequest struct {
	Sources []string `json:"sources"`
}

type startCrawlResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleStartCrawl runs the one-shot start action. Unlike the background
// channels, its failure is the caller's to see: the error maps onto a
// response status instead of being swallowed.
func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	jobID, err := s.cfg.Starter.StartCrawl(r.Context(), req.Sources)
	if err != nil {
		status, message := classifyActionError(err)
		s.logger.Warn(r.Context(), "crawl start failed", "status", status, "error", err)
		s.writeJSON(r.Context(), w, status, errorResponse{Error: message})
		return
	}

	s.writeJSON(r.Context(), w, http.StatusAccepted, startCrawlResponse{JobID: jobID})
}

// stopCrawlRequest is the stop endpoint's body. An empty job id stops the
// currently tracked run.
type stopCrawlRequest struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleStopCrawl(w http.ResponseWriter, r *http.Request) {
	var req stopCrawlRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = s.cfg.Jobs.Run().JobID
	}
	if jobID == "" {
		s.writeJSON(r.Context(), w, http.StatusConflict, errorResponse{Error: "no job is being tracked"})
		return
	}

	if err := s.cfg.Stopper.StopCrawl(r.Context(), jobID); err != nil {
		status, message := classifyActionError(err)
		s.logger.Warn(r.Context(), "crawl stop failed", "job_id", jobID, "status", status, "error", err)
		s.writeJSON(r.Context(), w, status, errorResponse{Error: message})
		return
	}

	s.writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// classifyActionError maps the transport taxonomy onto response codes: a
// backend rejection passes through verbatim, an unreachable or garbled
// backend reads as a bad gateway, a busy client as a conflict.
func classifyActionError(err error) (int, string) {
	var appErr *reconcile.ApplicationError
	switch {
	case errors.As(err, &appErr):
		return appErr.StatusCode, appErr.Message
	case errors.Is(err, polling.ErrBusy):
		return http.StatusConflict, "another request is in flight"
	case errors.Is(err, reconcile.ErrMalformed):
		return http.StatusBadGateway, "backend returned an unreadable response"
	case errors.Is(err, reconcile.ErrUnreachable):
		return http.StatusBadGateway, "backend unreachable"
	default:
		return http.StatusInternalServerError, "crawl start failed"
	}
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(ctx, "encoding response failed", "error", err)
	}
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{Addr: s.cfg.Addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving status api: %w", err)
	}
	return nil
}
