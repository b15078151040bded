package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	Started  int
	Finished int
}

func setStarted(n int) Update[counters] {
	return Update[counters]{
		Kind: KindPushEvent,
		Merge: func(c counters) (counters, bool) {
			if c.Started == n {
				return c, false
			}
			c.Started = n
			return c, true
		},
	}
}

func TestStateApply_NotifiesOnChangeOnly(t *testing.T) {
	t.Parallel()

	st := NewState(counters{})

	var notifications []counters
	unsub := st.Subscribe(func(c counters) { notifications = append(notifications, c) })
	defer unsub()

	require.True(t, st.Apply(setStarted(1)))
	require.False(t, st.Apply(setStarted(1)), "identical update must not report a change")

	require.Len(t, notifications, 1)
	assert.Equal(t, counters{Started: 1}, notifications[0])
	assert.Equal(t, counters{Started: 1}, st.Get())
}

func TestStateApply_Idempotent(t *testing.T) {
	t.Parallel()

	st := NewState(counters{})
	upd := setStarted(3)

	require.True(t, st.Apply(upd))
	after := st.Get()

	require.False(t, st.Apply(upd))
	require.Equal(t, after, st.Get(), "reapplying an update must not alter state")
}

func TestStateApply_DropsStaleSequencedUpdates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		firstSeq    int64
		secondSeq   int64
		wantApplied bool
	}{
		{name: "newer sequence applies", firstSeq: 5, secondSeq: 6, wantApplied: true},
		{name: "equal sequence dropped", firstSeq: 5, secondSeq: 5, wantApplied: false},
		{name: "older sequence dropped", firstSeq: 5, secondSeq: 4, wantApplied: false},
		{name: "unsequenced always applies", firstSeq: 5, secondSeq: 0, wantApplied: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := NewState(counters{})

			first := setStarted(1)
			first.Seq = tc.firstSeq
			require.True(t, st.Apply(first))

			second := setStarted(2)
			second.Seq = tc.secondSeq
			assert.Equal(t, tc.wantApplied, st.Apply(second))

			want := counters{Started: 1}
			if tc.wantApplied {
				want.Started = 2
			}
			assert.Equal(t, want, st.Get())
		})
	}
}

func TestStateReplace_ResetsSequenceTracking(t *testing.T) {
	t.Parallel()

	st := NewState(counters{})

	upd := setStarted(1)
	upd.Seq = 10
	require.True(t, st.Apply(upd))

	st.Replace(counters{})

	// After a replace, earlier sequence numbers are valid again.
	early := setStarted(7)
	early.Seq = 2
	require.True(t, st.Apply(early))
	assert.Equal(t, counters{Started: 7}, st.Get())
}

func TestStateSubscribe_UnsubscribeStopsNotifications(t *testing.T) {
	t.Parallel()

	st := NewState(counters{})

	var count int
	unsub := st.Subscribe(func(counters) { count++ })

	require.True(t, st.Apply(setStarted(1)))
	unsub()
	require.True(t, st.Apply(setStarted(2)))

	assert.Equal(t, 1, count)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "nil error", err: nil, want: FailureNone},
		{name: "unreachable sentinel", err: ErrUnreachable, want: FailureUnreachable},
		{name: "malformed sentinel", err: ErrMalformed, want: FailureMalformed},
		{name: "application error", err: &ApplicationError{StatusCode: 500, Message: "boom"}, want: FailureApplication},
		{name: "unknown error treated as unreachable", err: assert.AnError, want: FailureUnreachable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}
