// Package events provides domain event handling capabilities for communicating
// state changes across system boundaries in a decoupled way.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents a domain event category, enabling type-safe event
// routing and handling.
type EventType string

// Event types carried by the push channel.
const (
	// EventTypeCrawlerPush is a discrete status update for a tracked crawl job,
	// keyed by job id so updates for one job stay ordered.
	EventTypeCrawlerPush EventType = "CrawlerPush"

	// EventTypeJobStateChanged signals that the reconciled view of a job changed.
	// Published by the tracker for downstream consumers (e.g. the read API).
	EventTypeJobStateChanged EventType = "JobStateChanged"
)

// EventEnvelope is the standardized wrapper for every event flowing through
// the system, whatever transport delivers it.
type EventEnvelope struct {
	// ID uniquely identifies this event instance.
	ID uuid.UUID

	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically a business identifier
	// like a job id that events can be grouped or partitioned by.
	Key string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}

// NewEnvelope wraps a payload in an EventEnvelope with a fresh id and the
// current time.
func NewEnvelope(eventType EventType, key string, payload any) EventEnvelope {
	return EventEnvelope{
		ID:        uuid.New(),
		Type:      eventType,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
