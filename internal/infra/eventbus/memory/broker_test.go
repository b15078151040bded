package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/events"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	t.Cleanup(func() { b.Close() })

	var received []events.EventEnvelope
	err := b.Subscribe(context.Background(), []events.EventType{events.EventTypeCrawlerPush},
		func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			received = append(received, evt)
			ack(nil)
			return nil
		})
	require.NoError(t, err)

	push := crawl.PushEvent{Type: "worker_start", Source: "bbc"}
	require.NoError(t, b.Publish(context.Background(), events.NewEnvelope(events.EventTypeCrawlerPush, "job-1", push)))

	// Events of other types do not reach the subscriber.
	require.NoError(t, b.Publish(context.Background(), events.NewEnvelope(events.EventTypeJobStateChanged, "job-1", nil)))

	require.Len(t, received, 1)
	assert.Equal(t, "job-1", received[0].Key)
	assert.Equal(t, push, received[0].Payload)
}

func TestBroker_PublishKeyOption(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	t.Cleanup(func() { b.Close() })

	var gotKey string
	require.NoError(t, b.Subscribe(context.Background(), []events.EventType{events.EventTypeCrawlerPush},
		func(_ context.Context, evt events.EventEnvelope, _ events.AckFunc) error {
			gotKey = evt.Key
			return nil
		}))

	evt := events.NewEnvelope(events.EventTypeCrawlerPush, "", crawl.PushEvent{Type: "worker_start"})
	require.NoError(t, b.Publish(context.Background(), evt, events.WithKey("job-7")))
	assert.Equal(t, "job-7", gotKey)
}

func TestBroker_CancelledSubscriptionSkipped(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	delivered := 0
	require.NoError(t, b.Subscribe(ctx, []events.EventType{events.EventTypeCrawlerPush},
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			delivered++
			return nil
		}))

	require.NoError(t, b.Publish(context.Background(), events.NewEnvelope(events.EventTypeCrawlerPush, "job-1", nil)))
	cancel()
	require.NoError(t, b.Publish(context.Background(), events.NewEnvelope(events.EventTypeCrawlerPush, "job-1", nil)))

	assert.Equal(t, 1, delivered)
}

func TestBroker_HandlerErrorsJoined(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	t.Cleanup(func() { b.Close() })

	wantErr := errors.New("handler boom")
	sawSecond := false
	require.NoError(t, b.Subscribe(context.Background(), []events.EventType{events.EventTypeCrawlerPush},
		func(context.Context, events.EventEnvelope, events.AckFunc) error { return wantErr }))
	require.NoError(t, b.Subscribe(context.Background(), []events.EventType{events.EventTypeCrawlerPush},
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			sawSecond = true
			return nil
		}))

	err := b.Publish(context.Background(), events.NewEnvelope(events.EventTypeCrawlerPush, "job-1", nil))
	require.ErrorIs(t, err, wantErr)
	assert.True(t, sawSecond)
}

func TestBroker_Close(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	require.NoError(t, b.Subscribe(context.Background(), []events.EventType{events.EventTypeCrawlerPush},
		func(context.Context, events.EventEnvelope, events.AckFunc) error {
			t.Fatal("handler fired after close")
			return nil
		}))

	require.NoError(t, b.Close())
	require.Error(t, b.Publish(context.Background(), events.NewEnvelope(events.EventTypeCrawlerPush, "job-1", nil)))
	require.Error(t, b.Subscribe(context.Background(), []events.EventType{events.EventTypeCrawlerPush},
		func(context.Context, events.EventEnvelope, events.AckFunc) error { return nil }))
}
