// Package tracking reconciles the live view of one crawl job from two
// channels: periodic poll snapshots and discrete push events. The tracker owns
// the job's poll timer and push subscription and guarantees both are shut down
// the moment the run reaches a terminal phase.
package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/events"
	"github.com/ahrav/crawl-sentinel/internal/domain/reconcile"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

// defaultPollInterval is how often the tracker fetches a full snapshot while a
// run is live.
const defaultPollInterval = 2 * time.Second

// SnapshotClient fetches the authoritative point-in-time view of a job from
// the backend poll endpoint.
type SnapshotClient interface {
	JobStatus(ctx context.Context, jobID string) (crawl.JobSnapshot, error)
}

// PushSource delivers discrete status events for one job. SubscribeJob
// registers the deliver callback and returns a stop func that ends delivery.
// stop must not block on an in-flight deliver callback; a delivery already
// started when stop is called may complete.
type PushSource interface {
	SubscribeJob(ctx context.Context, jobID string, deliver func(crawl.PushEvent)) (stop func(), err error)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPollInterval overrides the snapshot poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) { t.pollInterval = d }
}

// WithClock injects a clock, letting tests drive the poll loop virtually.
func WithClock(clock Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithStateChangePublisher re-publishes every observable change as a
// JobStateChanged domain event for downstream consumers. Publish failures are
// logged and never affect the reconciled state.
func WithStateChangePublisher(pub events.DomainEventPublisher) Option {
	return func(t *Tracker) { t.publisher = pub }
}

// Tracker owns the reconciled state of one crawl job at a time. Snapshots and
// push events merge into a single authoritative JobRun; subscribers are
// notified only when an observable field changes. A terminal phase
// (completed or failed) fires exactly once and stops both channels before the
// triggering update returns.
type Tracker struct {
	state     *reconcile.State[crawl.JobRun]
	snapshots SnapshotClient
	push      PushSource
	publisher events.DomainEventPublisher

	clock        Clock
	pollInterval time.Duration

	mu         sync.Mutex
	pollCancel context.CancelFunc
	pushStop   func()

	pollBusy atomic.Bool

	logger *logger.Logger
	tracer trace.Tracer
}

// NewTracker creates a Tracker in the idle state.
func NewTracker(
	snapshots SnapshotClient,
	push PushSource,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		state:        reconcile.NewState(crawl.IdleJobRun()),
		snapshots:    snapshots,
		push:         push,
		clock:        realClock{},
		pollInterval: defaultPollInterval,
		logger:       logger.With("component", "job_tracker"),
		tracer:       tracer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run returns a deep copy of the current reconciled view.
func (t *Tracker) Run() crawl.JobRun { return t.state.Get().Clone() }

// Progress returns the current aggregate completion fraction in [0,1].
func (t *Tracker) Progress() float64 { return t.state.Get().ProgressFraction }

// Subscribe registers a callback invoked with a cloned view after every
// observable change. Callbacks run synchronously with the triggering update
// and must not call back into Start or Reset. The returned func unsubscribes.
func (t *Tracker) Subscribe(fn func(crawl.JobRun)) func() {
	return t.state.Subscribe(func(r crawl.JobRun) { fn(r.Clone()) })
}

// Start begins tracking the given job: the state is replaced with a fresh
// Running run, the push subscription is opened and the poll loop launched with
// an immediate first fetch. No-op when a run is already live. A failed push
// subscription degrades the tracker to poll-only rather than failing the
// start.
func (t *Tracker) Start(ctx context.Context, jobID string) {
	ctx, span := t.tracer.Start(ctx, "job_tracker.start",
		trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Get().Phase == crawl.PhaseRunning {
		span.AddEvent("already_running")
		return
	}

	t.state.Replace(crawl.NewJobRun(jobID, t.clock.Now()))

	// Detach from the caller's lifetime; the loop runs until terminal or Reset.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.pollCancel = cancel

	stop, err := t.push.SubscribeJob(loopCtx, jobID, func(evt crawl.PushEvent) {
		t.ApplyPushEvent(loopCtx, evt)
	})
	if err != nil {
		span.RecordError(err)
		t.logger.Warn(ctx, "push subscription failed, tracking via polling only",
			"job_id", jobID, "error", err)
	} else {
		t.pushStop = stop
	}

	go t.runPollLoop(loopCtx)
	t.logger.Info(ctx, "tracking started", "job_id", jobID)
}

// Reset stops both channels and returns the tracker to the idle state.
// Subscribers are always notified of the reset.
func (t *Tracker) Reset(ctx context.Context) {
	_, span := t.tracer.Start(ctx, "job_tracker.reset")
	defer span.End()

	t.stopChannels()
	t.state.Replace(crawl.IdleJobRun())
	t.logger.Info(ctx, "tracking reset")
}

// Stop halts the poll loop and push subscription without touching the
// published run. Used on process shutdown.
func (t *Tracker) Stop() { t.stopChannels() }

// ApplyPollSnapshot merges a full poll snapshot into the run and reports
// whether anything observable changed. Snapshots for a run that is not live
// are ignored; a snapshot carrying a stale sequence number is dropped.
func (t *Tracker) ApplyPollSnapshot(ctx context.Context, snap crawl.JobSnapshot) bool {
	now := t.clock.Now()
	changed := t.state.Apply(reconcile.Update[crawl.JobRun]{
		Kind: reconcile.KindPollSnapshot,
		Seq:  snap.Seq,
		Merge: func(r crawl.JobRun) (crawl.JobRun, bool) {
			return r.WithSnapshot(snap, now)
		},
	})
	t.afterApply(ctx, reconcile.KindPollSnapshot, changed)
	return changed
}

// ApplyPushEvent merges one push event into the run and reports whether
// anything observable changed. Events for a run that is not live are inert.
func (t *Tracker) ApplyPushEvent(ctx context.Context, evt crawl.PushEvent) bool {
	now := t.clock.Now()
	changed := t.state.Apply(reconcile.Update[crawl.JobRun]{
		Kind: reconcile.KindPushEvent,
		Merge: func(r crawl.JobRun) (crawl.JobRun, bool) {
			return r.WithPushEvent(evt, now)
		},
	})
	t.afterApply(ctx, reconcile.KindPushEvent, changed)
	return changed
}

// afterApply handles the cross-cutting consequences of an applied update:
// terminal runs stop both channels before control returns to the caller, and
// changes are re-published for downstream consumers.
func (t *Tracker) afterApply(ctx context.Context, kind reconcile.Kind, changed bool) {
	if !changed {
		return
	}

	run := t.state.Get()
	if run.Phase.IsTerminal() {
		t.stopChannels()
		t.logger.Info(ctx, "run reached terminal phase",
			"job_id", run.JobID,
			"phase", run.Phase.String(),
			"source", kind.String(),
		)
	}

	if t.publisher == nil {
		return
	}
	evt := events.NewEnvelope(events.EventTypeJobStateChanged, run.JobID, run.Clone())
	if err := t.publisher.PublishDomainEvent(ctx, evt); err != nil {
		t.logger.Warn(ctx, "publishing state change failed", "job_id", run.JobID, "error", err)
	}
}

// stopChannels cancels the poll loop and closes the push subscription.
// Idempotent; safe to call from any goroutine.
func (t *Tracker) stopChannels() {
	t.mu.Lock()
	cancel := t.pollCancel
	stop := t.pushStop
	t.pollCancel = nil
	t.pushStop = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stop != nil {
		stop()
	}
}

// runPollLoop fetches an immediate snapshot, then one per tick until the
// context is cancelled. Each fetch runs behind an in-flight guard so a slow
// backend skips ticks instead of stacking requests.
func (t *Tracker) runPollLoop(ctx context.Context) {
	t.pollOnce(ctx)

	ticker := t.clock.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			go t.pollOnce(ctx)
		}
	}
}

// pollOnce fetches and applies one snapshot. Fetch failures are swallowed as
// "no update this cycle": logged, never reflected in the run's phase.
func (t *Tracker) pollOnce(ctx context.Context) {
	if !t.pollBusy.CompareAndSwap(false, true) {
		return
	}
	defer t.pollBusy.Store(false)

	jobID := t.state.Get().JobID
	snap, err := t.snapshots.JobStatus(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn(ctx, "snapshot fetch failed",
			"job_id", jobID,
			"failure_kind", reconcile.ClassifyError(err).String(),
			"error", err,
		)
		return
	}

	t.ApplyPollSnapshot(ctx, snap)
}
