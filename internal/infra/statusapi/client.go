// Package statusapi is the HTTP client for the crawler backend's status API.
// Every failure is classified at this boundary into the transport taxonomy:
// a request that never reached the backend wraps reconcile.ErrUnreachable, a
// well-formed error response becomes a reconcile.ApplicationError, and a
// response that cannot be decoded wraps reconcile.ErrMalformed.
package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is read; status
	// payloads are small and an unbounded read is a liability.
	maxResponseBytes = 1 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRequestLimiter throttles outbound requests.
func WithRequestLimiter(limiter *common.RequestLimiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// Client calls the crawler backend's status endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *common.RequestLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, logger *logger.Logger, tracer trace.Tracer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
		limiter: common.NewRequestLimiter(10, 5),
		logger:  logger.With("component", "statusapi_client"),
		tracer:  tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JobStatus fetches the full point-in-time snapshot of one job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (crawl.JobSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "statusapi.job_status",
		trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	body, err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		span.RecordError(err)
		return crawl.JobSnapshot{}, fmt.Errorf("fetching job status: %w", err)
	}

	snap, err := crawl.DecodeJobSnapshot(body)
	if err != nil {
		span.RecordError(err)
		return crawl.JobSnapshot{}, fmt.Errorf("%w: %v", reconcile.ErrMalformed, err)
	}
	return snap, nil
}

// SchedulerStatus fetches the scheduler's control-plane flag set.
func (c *Client) SchedulerStatus(ctx context.Context) (crawl.SchedulerStatus, error) {
	ctx, span := c.tracer.Start(ctx, "statusapi.scheduler_status")
	defer span.End()

	body, err := c.do(ctx, http.MethodGet, "/api/scheduler", nil)
	if err != nil {
		span.RecordError(err)
		return crawl.SchedulerStatus{}, fmt.Errorf("fetching scheduler status: %w", err)
	}

	var status crawl.SchedulerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		span.RecordError(err)
		return crawl.SchedulerStatus{}, fmt.Errorf("%w: decoding scheduler status: %v", reconcile.ErrMalformed, err)
	}
	return status, nil
}

// startCrawlRequest is the wire shape of a crawl start request.
type startCrawlRequest struct {
	Sources []string `json:"sources,omitempty"`
}

// startCrawlResponse is the wire shape of a successful crawl start.
type startCrawlResponse struct {
	JobID string `json:"job_id"`
}

// StartCrawl asks the backend to begin a crawl and returns the new job id.
// Unlike the polling paths, errors here surface to the caller: a one-shot user
// action must report its own failure.
func (c *Client) StartCrawl(ctx context.Context, sources []string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "statusapi.start_crawl",
		trace.WithAttributes(attribute.Int("source_count", len(sources))))
	defer span.End()

	payload, err := json.Marshal(startCrawlRequest{Sources: sources})
	if err != nil {
		return "", fmt.Errorf("encoding start request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/crawl/start", payload)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("starting crawl: %w", err)
	}

	var resp startCrawlResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.JobID == "" {
		span.RecordError(err)
		return "", fmt.Errorf("%w: decoding start response", reconcile.ErrMalformed)
	}

	c.logger.Info(ctx, "crawl started", "job_id", resp.JobID)
	return resp.JobID, nil
}

// StopCrawl asks the backend to stop the given job. Errors surface to the
// caller.
func (c *Client) StopCrawl(ctx context.Context, jobID string) error {
	ctx, span := c.tracer.Start(ctx, "statusapi.stop_crawl",
		trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	payload, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("encoding stop request: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/api/crawl/stop", payload); err != nil {
		span.RecordError(err)
		return fmt.Errorf("stopping crawl: %w", err)
	}
	return nil
}

// errorResponse is the backend's error body shape.
type errorResponse struct {
	Error string `json:"error"`
}

// do performs one rate-limited request and classifies the outcome. A non-2xx
// status always yields an ApplicationError; the message comes from the error
// body when one decodes, the raw body otherwise.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", reconcile.ErrUnreachable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message := strings.TrimSpace(string(body))
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return nil, &reconcile.ApplicationError{StatusCode: resp.StatusCode, Message: message}
	}

	return body, nil
}
