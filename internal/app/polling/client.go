// Package polling keeps a typed backend value fresh by periodic fetching,
// suppressing notifications when consecutive fetches decode to the same value.
// Failure handling follows the transport/application split: an unreachable
// backend preserves the last-known value, a reachable backend that rejects the
// request resets to a safe fallback.
package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

// ErrBusy is returned by RunExclusive when a poll or another exclusive action
// is already in flight.
var ErrBusy = errors.New("polling client busy")

// Snapshot is the published view of a polled value: the value itself, the
// kind of the most recent failure (FailureNone after a successful fetch) and
// when the last successful fetch happened.
type Snapshot[T comparable] struct {
	Value         T
	LastFailure   reconcile.FailureKind
	LastSuccessAt time.Time
}

// observed is the part of the snapshot that drives change detection.
// LastSuccessAt is deliberately excluded so an unchanged value refreshed by a
// successful poll does not notify.
type observed[T comparable] struct {
	value   T
	failure reconcile.FailureKind
}

// OutcomeReporter receives the transport-level outcome of every fetch.
// An application-level rejection still counts as a success here: the backend
// answered, so the transport is healthy.
type OutcomeReporter interface {
	ReportSuccess(ctx context.Context)
	ReportUnreachable(ctx context.Context)
}

// Option configures a Client.
type Option[T comparable] func(*Client[T])

// WithClock injects a clock, letting tests drive the poll loop virtually.
func WithClock[T comparable](clock Clock) Option[T] {
	return func(c *Client[T]) { c.clock = clock }
}

// WithOutcomeReporter forwards fetch outcomes, typically to a connectivity
// monitor.
func WithOutcomeReporter[T comparable](r OutcomeReporter) Option[T] {
	return func(c *Client[T]) { c.reporter = r }
}

// Client polls one backend value of type T. A single busy flag covers both
// the periodic poll and one-shot exclusive actions, so a slow request skips
// ticks instead of stacking.
type Client[T comparable] struct {
	fetch    func(ctx context.Context) (T, error)
	fallback T
	state    *reconcile.State[observed[T]]
	reporter OutcomeReporter

	clock Clock
	busy  atomic.Bool

	mu            sync.Mutex
	lastSuccessAt time.Time
	pollCancel    context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client seeded with the fallback value.
func NewClient[T comparable](
	fetch func(ctx context.Context) (T, error),
	fallback T,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option[T],
) *Client[T] {
	c := &Client[T]{
		fetch:    fetch,
		fallback: fallback,
		state:    reconcile.NewState(observed[T]{value: fallback}),
		clock:    realClock{},
		logger:   logger.With("component", "polling_client"),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current published view.
func (c *Client[T]) Snapshot() Snapshot[T] {
	obs := c.state.Get()
	c.mu.Lock()
	last := c.lastSuccessAt
	c.mu.Unlock()
	return Snapshot[T]{Value: obs.value, LastFailure: obs.failure, LastSuccessAt: last}
}

// Value returns the current value.
func (c *Client[T]) Value() T { return c.state.Get().value }

// Subscribe registers a callback invoked after every semantic change. The
// returned func unsubscribes and must be called on teardown.
func (c *Client[T]) Subscribe(fn func(Snapshot[T])) func() {
	return c.state.Subscribe(func(obs observed[T]) {
		c.mu.Lock()
		last := c.lastSuccessAt
		c.mu.Unlock()
		fn(Snapshot[T]{Value: obs.value, LastFailure: obs.failure, LastSuccessAt: last})
	})
}

// Poll performs one fetch-and-merge cycle and reports whether the published
// view changed. A cycle overlapping an in-flight poll or exclusive action is
// skipped entirely.
func (c *Client[T]) Poll(ctx context.Context) bool {
	if !c.busy.CompareAndSwap(false, true) {
		return false
	}
	defer c.busy.Store(false)

	ctx, span := c.tracer.Start(ctx, "polling_client.poll")
	defer span.End()

	value, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return c.applyFailure(ctx, err)
	}

	c.mu.Lock()
	c.lastSuccessAt = c.clock.Now()
	c.mu.Unlock()

	if c.reporter != nil {
		c.reporter.ReportSuccess(ctx)
	}

	return c.state.Apply(reconcile.Update[observed[T]]{
		Kind: reconcile.KindPollSnapshot,
		Merge: func(cur observed[T]) (observed[T], bool) {
			next := observed[T]{value: value, failure: reconcile.FailureNone}
			return next, next != cur
		},
	})
}

// applyFailure folds a fetch error into the published view. Transport and
// malformed-response failures preserve the last-known value; an application
// rejection means the backend authoritatively refused, so the value resets to
// the fallback.
func (c *Client[T]) applyFailure(ctx context.Context, err error) bool {
	kind := reconcile.ClassifyError(err)
	c.logger.Warn(ctx, "poll fetch failed", "failure_kind", kind.String(), "error", err)

	published := reconcile.FailureUnreachable
	if kind == reconcile.FailureApplication {
		published = reconcile.FailureApplication
	}

	if c.reporter != nil {
		if published == reconcile.FailureApplication {
			c.reporter.ReportSuccess(ctx)
		} else {
			c.reporter.ReportUnreachable(ctx)
		}
	}

	return c.state.Apply(reconcile.Update[observed[T]]{
		Kind: reconcile.KindPollSnapshot,
		Merge: func(cur observed[T]) (observed[T], bool) {
			next := cur
			next.failure = published
			if published == reconcile.FailureApplication {
				next.value = c.fallback
			}
			return next, next != cur
		},
	})
}

// RunExclusive marks the client busy for the duration of a one-shot action so
// poll ticks are skipped, then returns the action's error to the caller
// unwrapped. Returns ErrBusy without running when a poll or another action is
// in flight.
func (c *Client[T]) RunExclusive(ctx context.Context, action func(ctx context.Context) error) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	ctx, span := c.tracer.Start(ctx, "polling_client.run_exclusive")
	defer span.End()

	if err := action(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// StartPolling launches the poll loop: an immediate poll, then one per
// interval until StopPolling or context cancellation. No-op when already
// polling.
func (c *Client[T]) StartPolling(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.pollCancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.pollCancel = cancel
	c.mu.Unlock()

	go c.runPollLoop(loopCtx, interval)
}

// StopPolling cancels the poll loop. Idempotent.
func (c *Client[T]) StopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Client[T]) runPollLoop(ctx context.Context, interval time.Duration) {
	c.Poll(ctx)

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			go c.Poll(ctx)
		}
	}
}
