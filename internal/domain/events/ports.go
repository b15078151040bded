package events

import "context"

// AckFunc acknowledges the processing outcome of a delivered event. A nil
// error marks the event as handled; a non-nil error lets the transport decide
// whether to redeliver.
type AckFunc func(error)

// HandlerFunc processes a single event delivered by an EventBus subscription.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error

// DomainEventPublisher publishes domain events to notify other parts of the
// system about important domain changes. It provides a technology-agnostic
// interface to decouple event producers from the underlying messaging
// infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers.
	PublishDomainEvent(ctx context.Context, event EventEnvelope, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events across system
// boundaries. It abstracts messaging infrastructure details (like Kafka or an
// in-process broker) so domain logic stays focused on business concerns.
type EventBus interface {
	// Publish broadcasts a domain event to all interested subscribers.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler function to process events of the
	// specified types. The handler executes for each matching event received
	// on this bus.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated
	// resources. Must be called during shutdown to prevent resource leaks.
	Close() error
}
