// Package reconcile provides the shared merge-and-notify primitive behind the
// live-status components: a single authoritative state value fed by snapshot
// polls and push events, with change-suppressed notification to subscribers.
package reconcile

import "sync"

// Kind tags an Update with the channel it arrived on.
type Kind int

const (
	// KindPollSnapshot marks an update built from a full point-in-time
	// snapshot fetched via polling.
	KindPollSnapshot Kind = iota

	// KindPushEvent marks an update built from a discrete event delivered via
	// a subscription channel.
	KindPushEvent
)

// String returns a human readable name for the update kind.
func (k Kind) String() string {
	switch k {
	case KindPollSnapshot:
		return "poll_snapshot"
	case KindPushEvent:
		return "push_event"
	default:
		return "unknown"
	}
}

// Update is one merge step against state S. The merge func must be a pure
// transformation: given the current state it returns the next state and
// whether any observable field differs. Merge funcs are expected to be
// idempotent so redelivered updates settle without spurious notifications.
type Update[S any] struct {
	// Kind records which channel produced the update.
	Kind Kind

	// Seq carries source-provided ordering when available. Updates whose
	// non-zero Seq is not strictly newer than the last applied one are
	// dropped, so a logically-stale snapshot cannot regress state a push
	// event already advanced. Zero means the source provides no ordering and
	// last-applied-wins.
	Seq int64

	// Merge computes the next state from the current one.
	Merge func(current S) (next S, changed bool)
}

// State owns one authoritative value of type S. Updates are applied one at a
// time in arrival order; subscribers are notified synchronously, outside the
// lock, only when a merge reports a change. Published values must be treated
// as read-only by consumers.
type State[S any] struct {
	mu      sync.Mutex
	current S
	lastSeq int64

	nextSubID int
	subs      map[int]func(S)
}

// NewState creates a State holding the given initial value.
func NewState[S any](initial S) *State[S] {
	return &State[S]{current: initial, subs: make(map[int]func(S))}
}

// Get returns the current value.
func (st *State[S]) Get() S {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// Apply merges an update into the current state. It reports whether the state
// changed; notification fires iff it did. Stale sequenced updates are dropped
// without touching the state.
func (st *State[S]) Apply(upd Update[S]) bool {
	st.mu.Lock()

	if upd.Seq != 0 && upd.Seq <= st.lastSeq {
		st.mu.Unlock()
		return false
	}

	next, changed := upd.Merge(st.current)
	if upd.Seq != 0 {
		st.lastSeq = upd.Seq
	}
	if !changed {
		st.mu.Unlock()
		return false
	}
	st.current = next

	subs := make([]func(S), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	st.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return true
}

// Replace swaps the state for a fresh value unconditionally, resetting any
// remembered sequence ordering. Used on reset/start where the old value must
// not constrain the new lifecycle. Subscribers are always notified.
func (st *State[S]) Replace(value S) {
	st.mu.Lock()
	st.current = value
	st.lastSeq = 0
	subs := make([]func(S), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	st.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Subscribe registers a callback invoked with the new value after every
// applied change. It returns an unsubscribe func that must be called when the
// consumer is torn down.
func (st *State[S]) Subscribe(fn func(S)) func() {
	st.mu.Lock()
	id := st.nextSubID
	st.nextSubID++
	st.subs[id] = fn
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}
}
