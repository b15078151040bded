package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/events"
	"github.com/ahrav/crawl-sentinel/pkg/common/logger"
)

// BusPushSource adapts an events.EventBus into the per-job PushSource the
// tracker consumes: it subscribes to crawler push events, filters by the
// envelope key and hands decoded events to the deliver callback.
type BusPushSource struct {
	bus    events.EventBus
	logger *logger.Logger
}

// NewBusPushSource creates a PushSource backed by the given bus.
func NewBusPushSource(bus events.EventBus, log *logger.Logger) *BusPushSource {
	return &BusPushSource{bus: bus, logger: log.With("component", "bus_push_source")}
}

// SubscribeJob registers deliver for push events keyed by jobID. The returned
// stop func cancels the subscription; events arriving after stop are dropped.
func (s *BusPushSource) SubscribeJob(
	ctx context.Context,
	jobID string,
	deliver func(crawl.PushEvent),
) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	handler := func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		defer ack(nil)

		if subCtx.Err() != nil || evt.Key != jobID {
			return nil
		}

		push, err := coercePushEvent(evt.Payload)
		if err != nil {
			s.logger.Warn(ctx, "dropping undecodable push event",
				"job_id", jobID, "event_id", evt.ID.String(), "error", err)
			return nil
		}
		deliver(push)
		return nil
	}

	if err := s.bus.Subscribe(subCtx, []events.EventType{events.EventTypeCrawlerPush}, handler); err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to push events: %w", err)
	}
	return cancel, nil
}

// coercePushEvent extracts a crawl.PushEvent from an envelope payload. The
// in-process bus carries the typed value; brokered transports deliver raw
// JSON.
func coercePushEvent(payload any) (crawl.PushEvent, error) {
	switch p := payload.(type) {
	case crawl.PushEvent:
		return p, nil
	case *crawl.PushEvent:
		if p != nil {
			return *p, nil
		}
	case json.RawMessage:
		return crawl.DecodePushEvent(p)
	case []byte:
		return crawl.DecodePushEvent(p)
	}
	return crawl.PushEvent{}, fmt.Errorf("unsupported push payload type %T", payload)
}
