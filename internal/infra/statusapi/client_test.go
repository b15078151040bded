package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, testLogger(), noop.NewTracerProvider().Tracer("test"))
}

func TestClient_JobStatus(t *testing.T) {
	t.Parallel()

	t.Run("decodes a full snapshot", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/jobs/job-1", r.URL.Path)
			io.WriteString(w, `{
				"status": "running",
				"progress_pct": 40,
				"total_workers": 5,
				"workers": [{"name": "bbc", "state": "running", "units_done": 8}],
				"seq": 12
			}`)
		}))

		snap, err := c.JobStatus(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, "running", snap.Status)
		require.NotNil(t, snap.ProgressPct)
		assert.Equal(t, 40.0, *snap.ProgressPct)
		assert.Equal(t, 5, snap.TotalWorkers)
		require.Len(t, snap.Workers, 1)
		assert.Equal(t, "bbc", snap.Workers[0].Name)
		assert.Equal(t, int64(12), snap.Seq)
	})

	t.Run("classifies failures", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name     string
			handler  http.HandlerFunc
			wantKind reconcile.FailureKind
		}{
			{
				name: "error body becomes application error",
				handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					io.WriteString(w, `{"error": "crawler panicked"}`)
				},
				wantKind: reconcile.FailureApplication,
			},
			{
				name: "plain-text error body becomes application error",
				handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadGateway)
					io.WriteString(w, "bad gateway")
				},
				wantKind: reconcile.FailureApplication,
			},
			{
				name: "undecodable success body is malformed",
				handler: func(w http.ResponseWriter, r *http.Request) {
					io.WriteString(w, `{"not": "a snapshot"`)
				},
				wantKind: reconcile.FailureMalformed,
			},
			{
				name: "missing status field is malformed",
				handler: func(w http.ResponseWriter, r *http.Request) {
					io.WriteString(w, `{"workers": []}`)
				},
				wantKind: reconcile.FailureMalformed,
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				c := newTestClient(t, tc.handler)
				_, err := c.JobStatus(context.Background(), "job-1")
				require.Error(t, err)
				assert.Equal(t, tc.wantKind, reconcile.ClassifyError(err))
			})
		}
	})

	t.Run("connection failure is unreachable", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		c := NewClient(srv.URL, testLogger(), noop.NewTracerProvider().Tracer("test"))
		srv.Close()

		_, err := c.JobStatus(context.Background(), "job-1")
		require.Error(t, err)
		assert.Equal(t, reconcile.FailureUnreachable, reconcile.ClassifyError(err))
		assert.ErrorIs(t, err, reconcile.ErrUnreachable)
	})

	t.Run("application error carries status and message", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error": "another crawl is running"}`)
		}))

		_, err := c.JobStatus(context.Background(), "job-1")
		var appErr *reconcile.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, http.StatusConflict, appErr.StatusCode)
		assert.Equal(t, "another crawl is running", appErr.Message)
	})
}

func TestClient_SchedulerStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/scheduler", r.URL.Path)
		io.WriteString(w, `{"enabled": true, "active_job_id": "job-9", "queued_jobs": 3, "window": "morning"}`)
	}))

	status, err := c.SchedulerStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, "job-9", status.ActiveJobID)
	assert.Equal(t, 3, status.QueuedJobs)
	assert.Equal(t, "morning", status.Window)
}

func TestClient_StartCrawl(t *testing.T) {
	t.Parallel()

	t.Run("returns the new job id", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/crawl/start", r.URL.Path)

			var req struct {
				Sources []string `json:"sources"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"bbc", "cnn"}, req.Sources)

			io.WriteString(w, `{"job_id": "job-42"}`)
		}))

		jobID, err := c.StartCrawl(context.Background(), []string{"bbc", "cnn"})
		require.NoError(t, err)
		assert.Equal(t, "job-42", jobID)
	})

	t.Run("surfaces a rejection to the caller", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error": "scheduler disabled"}`)
		}))

		_, err := c.StartCrawl(context.Background(), nil)
		var appErr *reconcile.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "scheduler disabled", appErr.Message)
	})

	t.Run("missing job id is malformed", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{}`)
		}))

		_, err := c.StartCrawl(context.Background(), nil)
		require.ErrorIs(t, err, reconcile.ErrMalformed)
	})
}

func TestClient_StopCrawl(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/crawl/stop", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req["job_id"])

		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.StopCrawl(context.Background(), "job-1"))
}
