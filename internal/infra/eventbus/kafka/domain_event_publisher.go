package kafka

import (
	"context"

	"github.com/ahrav/crawl-sentinel/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements the domain DomainEventPublisher interface on
// top of an EventBus. It exists so application components depend on the narrow
// publish port rather than the full bus.
type DomainEventPublisher struct{ eventBus events.EventBus }

// NewDomainEventPublisher creates a publisher that distributes domain events
// through the provided event bus.
func NewDomainEventPublisher(bus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: bus}
}

// PublishDomainEvent sends a domain event through the event bus.
func (pub *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.EventEnvelope,
	opts ...events.PublishOption,
) error {
	return pub.eventBus.Publish(ctx, event, opts...)
}
