// Package connectivity implements the reconnect state machine for a backend
// dependency: call outcomes flip between connected and disconnected, and a
// countdown-driven probe attempts recovery while a UI renders the live
// countdown.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/crawl-sentinel/internal/domain/connectivity"
	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

// defaultReconnectInterval is how long the monitor waits before probing a
// disconnected backend.
const defaultReconnectInterval = 30 * time.Second

// Probe attempts one call against the monitored backend. A nil return marks
// the backend reachable; any error marks it unreachable again.
type Probe func(ctx context.Context) error

// Option configures a Monitor.
type Option func(*Monitor)

// WithReconnectInterval overrides the countdown length before a probe fires.
func WithReconnectInterval(d time.Duration) Option {
	return func(m *Monitor) { m.reconnectInterval = d }
}

// WithClock injects a clock, letting tests drive the countdown virtually.
func WithClock(clock Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

// Monitor owns the connectivity state machine for one backend dependency.
// Callers report call outcomes via ReportSuccess/ReportUnreachable; the
// monitor schedules the reconnect countdown, fires the probe exactly once per
// expiry, and publishes every observable change to subscribers.
type Monitor struct {
	state *reconcile.State[connectivity.State]
	probe Probe

	clock             Clock
	reconnectInterval time.Duration

	mu          sync.Mutex
	retryCancel context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewMonitor creates a Monitor around the given probe.
func NewMonitor(probe Probe, logger *logger.Logger, tracer trace.Tracer, opts ...Option) *Monitor {
	m := &Monitor{
		state:             reconcile.NewState(connectivity.InitialState()),
		probe:             probe,
		clock:             realClock{},
		reconnectInterval: defaultReconnectInterval,
		logger:            logger.With("component", "connectivity_monitor"),
		tracer:            tracer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current published connectivity state.
func (m *Monitor) State() connectivity.State { return m.state.Get() }

// Subscribe registers a callback invoked after every observable change. The
// returned func unsubscribes and must be called on teardown.
func (m *Monitor) Subscribe(fn func(connectivity.State)) func() {
	return m.state.Subscribe(fn)
}

// ReportSuccess records a successful remote call: the backend is connected,
// any pending reconnect countdown is cancelled and the countdown cleared.
// No-op when already connected.
func (m *Monitor) ReportSuccess(ctx context.Context) {
	_, span := m.tracer.Start(ctx, "connectivity_monitor.report_success")
	defer span.End()

	m.stopCountdown()

	m.state.Apply(reconcile.Update[connectivity.State]{
		Kind: reconcile.KindPushEvent,
		Merge: func(s connectivity.State) (connectivity.State, bool) {
			if s.Status == connectivity.StatusConnected && s.RetryCountdownSeconds == 0 {
				return s, false
			}
			return connectivity.State{Status: connectivity.StatusConnected}, true
		},
	})
	span.AddEvent("backend_connected")
}

// ReportUnreachable records a transport-level failure: the backend is
// disconnected and a fresh reconnect countdown is scheduled. An already
// running countdown is restarted.
func (m *Monitor) ReportUnreachable(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "connectivity_monitor.report_unreachable",
		trace.WithAttributes(
			attribute.String("reconnect_interval", m.reconnectInterval.String()),
		))
	defer span.End()

	m.stopCountdown()

	seconds := int(m.reconnectInterval / time.Second)
	m.state.Apply(reconcile.Update[connectivity.State]{
		Kind: reconcile.KindPushEvent,
		Merge: func(s connectivity.State) (connectivity.State, bool) {
			next := connectivity.State{
				Status:                connectivity.StatusDisconnected,
				RetryCountdownSeconds: seconds,
			}
			return next, next != s
		},
	})
	span.AddEvent("countdown_scheduled")

	m.startCountdown(ctx)
}

// CancelRetry stops any pending countdown without changing the published
// status. Used when the owning screen is torn down or a manual refresh
// preempts the scheduled retry.
func (m *Monitor) CancelRetry() {
	m.stopCountdown()
}

// startCountdown launches the countdown goroutine. The caller must have
// stopped any previous countdown first.
func (m *Monitor) startCountdown(ctx context.Context) {
	// Detach from the caller's span but keep its values; the countdown
	// outlives the reporting call.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.retryCancel = cancel
	m.mu.Unlock()

	go m.runCountdown(ctx)
}

// stopCountdown cancels the countdown goroutine if one is pending.
func (m *Monitor) stopCountdown() {
	m.mu.Lock()
	cancel := m.retryCancel
	m.retryCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// runCountdown ticks the published countdown once per second. On reaching
// zero it transitions Disconnected -> Reconnecting and fires the probe
// exactly once; the probe's outcome feeds back into the report methods.
func (m *Monitor) runCountdown(ctx context.Context) {
	ticker := m.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			var expired bool
			m.state.Apply(reconcile.Update[connectivity.State]{
				Kind: reconcile.KindPushEvent,
				Merge: func(s connectivity.State) (connectivity.State, bool) {
					if s.Status != connectivity.StatusDisconnected || s.RetryCountdownSeconds == 0 {
						return s, false
					}
					s.RetryCountdownSeconds--
					if s.RetryCountdownSeconds == 0 {
						s.Status = connectivity.StatusReconnecting
						expired = true
					}
					return s, true
				},
			})

			if expired {
				m.fireProbe(ctx)
				return
			}
		}
	}
}

// fireProbe invokes the probe once and routes its outcome back into the
// state machine.
func (m *Monitor) fireProbe(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "connectivity_monitor.probe")
	defer span.End()

	// The countdown that scheduled this probe is spent; release the handle so
	// a cancel during the probe cannot cancel a future countdown.
	m.mu.Lock()
	spent := m.retryCancel
	m.retryCancel = nil
	m.mu.Unlock()
	if spent != nil {
		defer spent()
	}

	if err := m.probe(ctx); err != nil {
		span.RecordError(err)
		m.logger.Info(ctx, "reconnect probe failed", "error", err)
		m.ReportUnreachable(ctx)
		return
	}

	span.AddEvent("probe_succeeded")
	m.ReportSuccess(ctx)
}
