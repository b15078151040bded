package connectivity

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/crawl-sentinel/internal/domain/connectivity"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

// fakeClock hands out manually driven tickers so tests control virtual time.
// Tickers are delivered over a channel because the countdown goroutine
// creates them asynchronously.
type fakeClock struct {
	created chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{created: make(chan *fakeTicker, 8)}
}

func (c *fakeClock) Now() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	ft := &fakeTicker{ch: make(chan time.Time)}
	c.created <- ft
	return ft
}

// waitTicker blocks until the countdown loop has created its ticker.
func (c *fakeClock) waitTicker(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case ft := <-c.created:
		return ft
	case <-time.After(5 * time.Second):
		t.Fatal("countdown loop never created a ticker")
		return nil
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (ft *fakeTicker) Chan() <-chan time.Time { return ft.ch }
func (ft *fakeTicker) Stop()                  {}

// tick delivers one virtual second and blocks until the countdown loop has
// consumed it.
func (ft *fakeTicker) tick() { ft.ch <- time.Time{} }

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

// newTestMonitor wires a monitor with a fake clock and a notification channel
// large enough for a full countdown.
func newTestMonitor(t *testing.T, probe Probe, opts ...Option) (*Monitor, *fakeClock, chan connectivity.State) {
	t.Helper()

	clock := newFakeClock()
	opts = append(opts, WithClock(clock))
	m := NewMonitor(probe, testLogger(), noop.NewTracerProvider().Tracer("test"), opts...)

	states := make(chan connectivity.State, 64)
	unsub := m.Subscribe(func(s connectivity.State) { states <- s })
	t.Cleanup(unsub)

	return m, clock, states
}

func TestMonitor_FirstOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("success from unknown", func(t *testing.T) {
		t.Parallel()

		m, _, states := newTestMonitor(t, func(context.Context) error { return nil })
		m.ReportSuccess(context.Background())

		require.Equal(t, connectivity.State{Status: connectivity.StatusConnected}, <-states)
	})

	t.Run("repeated success is a no-op", func(t *testing.T) {
		t.Parallel()

		m, _, states := newTestMonitor(t, func(context.Context) error { return nil })
		m.ReportSuccess(context.Background())
		m.ReportSuccess(context.Background())

		<-states
		select {
		case s := <-states:
			t.Fatalf("unexpected notification: %+v", s)
		default:
		}
	})

	t.Run("unreachable schedules countdown", func(t *testing.T) {
		t.Parallel()

		m, _, states := newTestMonitor(t, func(context.Context) error { return nil })
		m.ReportUnreachable(context.Background())

		s := <-states
		assert.Equal(t, connectivity.StatusDisconnected, s.Status)
		assert.Equal(t, 30, s.RetryCountdownSeconds)
		m.CancelRetry()
	})
}

func TestMonitor_CountdownExactness(t *testing.T) {
	t.Parallel()

	probeCalls := 0
	var statusDuringProbe connectivity.Status

	var m *Monitor
	probe := func(context.Context) error {
		probeCalls++
		statusDuringProbe = m.State().Status
		return nil
	}

	var clock *fakeClock
	var states chan connectivity.State
	m, clock, states = newTestMonitor(t, probe)

	m.ReportUnreachable(context.Background())
	require.Equal(t, connectivity.State{
		Status:                connectivity.StatusDisconnected,
		RetryCountdownSeconds: 30,
	}, <-states)

	ticker := clock.waitTicker(t)

	// 29 ticks count down without firing the probe; each notifies once.
	for i := 1; i <= 29; i++ {
		ticker.tick()
		s := <-states
		assert.Equal(t, connectivity.StatusDisconnected, s.Status)
		assert.Equal(t, 30-i, s.RetryCountdownSeconds)
	}
	require.Zero(t, probeCalls)

	// Tick 30: countdown reaches zero, exactly one probe fires while the
	// published status reads Reconnecting, then resolves to Connected.
	ticker.tick()
	require.Equal(t, connectivity.State{Status: connectivity.StatusReconnecting}, <-states)
	require.Equal(t, connectivity.State{Status: connectivity.StatusConnected}, <-states)

	assert.Equal(t, 1, probeCalls)
	assert.Equal(t, connectivity.StatusReconnecting, statusDuringProbe)
}

func TestMonitor_FailedProbeReschedulesCountdown(t *testing.T) {
	t.Parallel()

	m, clock, states := newTestMonitor(t,
		func(context.Context) error { return errors.New("still down") },
		WithReconnectInterval(2*time.Second),
	)

	m.ReportUnreachable(context.Background())
	require.Equal(t, 2, (<-states).RetryCountdownSeconds)

	ticker := clock.waitTicker(t)
	ticker.tick()
	require.Equal(t, 1, (<-states).RetryCountdownSeconds)

	ticker.tick()
	require.Equal(t, connectivity.StatusReconnecting, (<-states).Status)

	// Probe failure lands back in Disconnected with a fresh countdown.
	s := <-states
	assert.Equal(t, connectivity.StatusDisconnected, s.Status)
	assert.Equal(t, 2, s.RetryCountdownSeconds)
	m.CancelRetry()
}

func TestMonitor_UnreachableThenRecoversScenario(t *testing.T) {
	t.Parallel()

	m, clock, states := newTestMonitor(t,
		func(context.Context) error { return nil },
		WithReconnectInterval(30*time.Second),
	)

	m.ReportUnreachable(context.Background())
	s := <-states
	require.Equal(t, connectivity.StatusDisconnected, s.Status)
	require.Equal(t, 30, s.RetryCountdownSeconds)

	ticker := clock.waitTicker(t)
	for i := 0; i < 29; i++ {
		ticker.tick()
		<-states
	}
	ticker.tick()
	require.Equal(t, connectivity.StatusReconnecting, (<-states).Status)

	final := <-states
	assert.Equal(t, connectivity.State{Status: connectivity.StatusConnected}, final)
	assert.Zero(t, final.RetryCountdownSeconds)
}

func TestMonitor_CancelRetryStopsCountdownWithoutStatusChange(t *testing.T) {
	t.Parallel()

	probeCalls := 0
	m, clock, states := newTestMonitor(t,
		func(context.Context) error { probeCalls++; return nil },
		WithReconnectInterval(3*time.Second),
	)

	m.ReportUnreachable(context.Background())
	<-states

	ticker := clock.waitTicker(t)
	ticker.tick()
	<-states

	m.CancelRetry()

	s := m.State()
	assert.Equal(t, connectivity.StatusDisconnected, s.Status)
	assert.Equal(t, 2, s.RetryCountdownSeconds)
	assert.Zero(t, probeCalls)

	select {
	case extra := <-states:
		t.Fatalf("unexpected notification after cancel: %+v", extra)
	default:
	}
}

func TestMonitor_SuccessCancelsPendingCountdown(t *testing.T) {
	t.Parallel()

	probeCalls := 0
	m, clock, states := newTestMonitor(t,
		func(context.Context) error { probeCalls++; return nil },
		WithReconnectInterval(5*time.Second),
	)

	m.ReportUnreachable(context.Background())
	<-states

	ticker := clock.waitTicker(t)
	ticker.tick()
	<-states

	// A successful call elsewhere preempts the scheduled retry entirely.
	m.ReportSuccess(context.Background())
	require.Equal(t, connectivity.State{Status: connectivity.StatusConnected}, <-states)
	assert.Zero(t, probeCalls)
}
