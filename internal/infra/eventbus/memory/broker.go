// Package memory provides an in-process implementation of the event bus. It
// offers a lightweight, non-persistent broker suitable for tests and
// single-binary deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ahrav/crawl-sentinel/internal/domain/events"
)

var _ events.EventBus = (*Broker)(nil)

// Broker dispatches published events synchronously to every subscribed
// handler. Payloads are passed through untouched, so subscribers receive the
// typed values publishers supplied.
type Broker struct {
	mu       sync.RWMutex
	handlers map[events.EventType][]subscription
	closed   bool
}

type subscription struct {
	ctx     context.Context
	handler events.HandlerFunc
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[events.EventType][]subscription)}
}

// Publish delivers the event to every live subscription for its type, in
// registration order, on the caller's goroutine. Handler errors are joined
// and returned; a failing handler does not stop delivery to the rest.
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("broker is closed")
	}
	subs := append([]subscription(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if err := sub.handler(ctx, event, func(error) {}); err != nil {
			errs = append(errs, fmt.Errorf("handling %s: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers the handler for the given event types. The subscription
// stays live until its context is cancelled or the broker closes.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], subscription{ctx: ctx, handler: handler})
	}
	return nil
}

// Close drops all subscriptions and rejects further publishes.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]subscription)
	return nil
}
