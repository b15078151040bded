// Package websocket delivers crawler push events over a WebSocket
// subscription. The source owns the connection lifecycle: it dials with
// exponential backoff, decodes each frame into a push event and reconnects
// when the stream drops, reporting transitions to an optional connectivity
// hook.
package websocket

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

const defaultHandshakeTimeout = 10 * time.Second

// ConnectivityHook receives connection transitions: a successful dial reports
// success, a dropped stream reports unreachable.
type ConnectivityHook interface {
	ReportSuccess(ctx context.Context)
	ReportUnreachable(ctx context.Context)
}

// Option configures a Source.
type Option func(*Source)

// WithDialer overrides the underlying WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Source) { s.dialer = d }
}

// WithConnectivityHook forwards connection transitions, typically to a
// connectivity monitor.
func WithConnectivityHook(hook ConnectivityHook) Option {
	return func(s *Source) { s.hook = hook }
}

// Source subscribes to the crawler backend's push stream. It implements the
// tracker's PushSource port.
type Source struct {
	endpoint string
	dialer   *websocket.Dialer
	hook     ConnectivityHook

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSource creates a Source for the push endpoint at the given ws:// or
// wss:// URL.
func NewSource(endpoint string, logger *logger.Logger, tracer trace.Tracer, opts ...Option) *Source {
	s := &Source{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		logger:   logger.With("component", "websocket_push_source"),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubscribeJob opens the push stream scoped to jobID and delivers decoded
// events until the returned stop func is called. The reader goroutine owns
// reconnection; stop closes any open connection and ends delivery. stop never
// blocks, so it is safe to call from within the deliver callback itself.
func (s *Source) SubscribeJob(
	ctx context.Context,
	jobID string,
	deliver func(crawl.PushEvent),
) (func(), error) {
	streamURL, err := s.jobURL(jobID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	stopped := false
	guarded := func(evt crawl.PushEvent) {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()
		deliver(evt)
	}

	go s.run(runCtx, streamURL, jobID, guarded)

	stop := func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		cancel()
	}
	return stop, nil
}

// jobURL scopes the push endpoint to a single job.
func (s *Source) jobURL(jobID string) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("job_id", jobID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// run dials, reads until the stream drops, then reconnects. It returns only
// when the context is cancelled.
func (s *Source) run(ctx context.Context, streamURL, jobID string, deliver func(crawl.PushEvent)) {
	for {
		conn, err := s.dial(ctx, streamURL)
		if err != nil {
			// dial only fails permanently when the context is cancelled.
			return
		}

		if s.hook != nil {
			s.hook.ReportSuccess(ctx)
		}
		s.logger.Info(ctx, "push stream connected", "job_id", jobID)

		s.readLoop(ctx, conn, jobID, deliver)

		if ctx.Err() != nil {
			return
		}
		if s.hook != nil {
			s.hook.ReportUnreachable(ctx)
		}
		s.logger.Warn(ctx, "push stream dropped, reconnecting", "job_id", jobID)
	}
}

// dial connects with exponential backoff until success or context
// cancellation.
func (s *Source) dial(ctx context.Context, streamURL string) (*websocket.Conn, error) {
	ctx, span := s.tracer.Start(ctx, "websocket_push_source.dial",
		trace.WithAttributes(attribute.String("url", streamURL)))
	defer span.End()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 30 * time.Second
	expBackoff.MaxElapsedTime = 0

	var conn *websocket.Conn
	operation := func() error {
		c, resp, err := s.dialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return conn, nil
}

// readLoop decodes frames until the connection breaks or the context is
// cancelled. Undecodable frames are dropped; a noisy producer must not kill
// the stream.
func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, jobID string, deliver func(crawl.PushEvent)) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		evt, err := crawl.DecodePushEvent(data)
		if err != nil {
			s.logger.Warn(ctx, "dropping undecodable push frame", "job_id", jobID, "error", err)
			continue
		}
		deliver(evt)
	}
}
