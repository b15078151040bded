package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/crawl-sentinel/internal/app/polling"
	"github.com/ahrav/crawl-sentinel/internal/domain/connectivity"
	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

type stubJobView struct{ run crawl.JobRun }

func (s stubJobView) Run() crawl.JobRun { return s.run }

type stubConnView struct{ state connectivity.State }

func (s stubConnView) State() connectivity.State { return s.state }

type stubSchedView struct{ snap polling.Snapshot[crawl.SchedulerStatus] }

func (s stubSchedView) Snapshot() polling.Snapshot[crawl.SchedulerStatus] { return s.snap }

type stubStarter struct {
	jobID   string
	err     error
	stopErr error
}

func (s stubStarter) StartCrawl(context.Context, []string) (string, error) { return s.jobID, s.err }

func (s stubStarter) StopCrawl(context.Context, string) error { return s.stopErr }

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Build = "test"
	return NewServer(cfg, testLogger(), noop.NewTracerProvider().Tracer("test"))
}

func runningJob() crawl.JobRun {
	run := crawl.NewJobRun("job-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	run.Workers["bbc"] = crawl.WorkerStatus{Key: "bbc", State: crawl.WorkerStateRunning, UnitsDone: 4}
	run.Workers["cnn"] = crawl.WorkerStatus{Key: "cnn", State: crawl.WorkerStateCompleted, UnitsDone: 9}
	run.ProgressFraction = 0.5
	return run
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Config{
		Jobs: stubJobView{run: runningJob()},
		Conn: stubConnView{state: connectivity.State{
			Status:                connectivity.StatusDisconnected,
			RetryCountdownSeconds: 12,
		}},
		Sched: stubSchedView{snap: polling.Snapshot[crawl.SchedulerStatus]{
			Value:         crawl.SchedulerStatus{Enabled: true, QueuedJobs: 2, Window: "morning"},
			LastFailure:   reconcile.FailureUnreachable,
			LastSuccessAt: time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
		}},
		Starter: stubStarter{},
		Stopper: stubStarter{},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job struct {
			JobID    string  `json:"job_id"`
			Phase    string  `json:"phase"`
			Progress float64 `json:"progress"`
			Workers  []struct {
				Name      string `json:"name"`
				State     string `json:"state"`
				UnitsDone int    `json:"units_done"`
			} `json:"workers"`
		} `json:"job"`
		Connection struct {
			Status                string `json:"status"`
			RetryCountdownSeconds int    `json:"retry_countdown_seconds"`
		} `json:"connection"`
		Scheduler struct {
			Enabled     bool   `json:"enabled"`
			QueuedJobs  int    `json:"queued_jobs"`
			Window      string `json:"window"`
			LastFailure string `json:"last_failure"`
		} `json:"scheduler"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "job-1", resp.Job.JobID)
	assert.Equal(t, "RUNNING", resp.Job.Phase)
	assert.Equal(t, 0.5, resp.Job.Progress)
	require.Len(t, resp.Job.Workers, 2)
	// Workers are sorted by name for stable output.
	assert.Equal(t, "bbc", resp.Job.Workers[0].Name)
	assert.Equal(t, "cnn", resp.Job.Workers[1].Name)
	assert.Equal(t, 9, resp.Job.Workers[1].UnitsDone)

	assert.Equal(t, "DISCONNECTED", resp.Connection.Status)
	assert.Equal(t, 12, resp.Connection.RetryCountdownSeconds)

	assert.True(t, resp.Scheduler.Enabled)
	assert.Equal(t, 2, resp.Scheduler.QueuedJobs)
	assert.Equal(t, "morning", resp.Scheduler.Window)
	assert.Equal(t, "unreachable", resp.Scheduler.LastFailure)
}

func TestServer_StartCrawl(t *testing.T) {
	t.Parallel()

	baseConfig := func(starter CrawlStarter) Config {
		return Config{
			Jobs:    stubJobView{run: crawl.IdleJobRun()},
			Conn:    stubConnView{state: connectivity.InitialState()},
			Sched:   stubSchedView{},
			Starter: starter,
			Stopper: stubStarter{},
		}
	}

	tests := []struct {
		name       string
		starter    CrawlStarter
		wantStatus int
		wantError  string
	}{
		{
			name:       "accepted with job id",
			starter:    stubStarter{jobID: "job-9"},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "backend rejection passes through",
			starter:    stubStarter{err: &reconcile.ApplicationError{StatusCode: http.StatusConflict, Message: "already crawling"}},
			wantStatus: http.StatusConflict,
			wantError:  "already crawling",
		},
		{
			name:       "unreachable backend is a bad gateway",
			starter:    stubStarter{err: reconcile.ErrUnreachable},
			wantStatus: http.StatusBadGateway,
			wantError:  "backend unreachable",
		},
		{
			name:       "busy client is a conflict",
			starter:    stubStarter{err: polling.ErrBusy},
			wantStatus: http.StatusConflict,
			wantError:  "another request is in flight",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t, baseConfig(tc.starter))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/crawl",
				strings.NewReader(`{"sources": ["bbc"]}`))
			srv.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)

			if tc.wantError != "" {
				var resp struct {
					Error string `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tc.wantError, resp.Error)
				return
			}

			var resp struct {
				JobID string `json:"job_id"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "job-9", resp.JobID)
		})
	}
}

func TestServer_StopCrawl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		run        crawl.JobRun
		stopper    CrawlStopper
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "explicit job id accepted",
			run:        crawl.IdleJobRun(),
			stopper:    stubStarter{},
			body:       `{"job_id": "job-3"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "defaults to tracked job",
			run:        runningJob(),
			stopper:    stubStarter{},
			body:       "",
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "nothing to stop",
			run:        crawl.IdleJobRun(),
			stopper:    stubStarter{},
			body:       "",
			wantStatus: http.StatusConflict,
			wantError:  "no job is being tracked",
		},
		{
			name:       "unreachable backend is a bad gateway",
			run:        runningJob(),
			stopper:    stubStarter{stopErr: reconcile.ErrUnreachable},
			body:       "",
			wantStatus: http.StatusBadGateway,
			wantError:  "backend unreachable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t, Config{
				Jobs:    stubJobView{run: tc.run},
				Conn:    stubConnView{state: connectivity.InitialState()},
				Sched:   stubSchedView{},
				Starter: stubStarter{},
				Stopper: tc.stopper,
			})

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/crawl/stop", strings.NewReader(tc.body))
			srv.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantError != "" {
				var resp struct {
					Error string `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tc.wantError, resp.Error)
			}
		})
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Config{
		Jobs:    stubJobView{run: crawl.IdleJobRun()},
		Conn:    stubConnView{state: connectivity.InitialState()},
		Sched:   stubSchedView{},
		Starter: stubStarter{},
		Stopper: stubStarter{},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
