package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/crawl-sentinel/internal/domain/events"
)

// wireEnvelope is the JSON frame carrying every event on the wire. The
// payload stays raw so consumers decode it against the type they expect.
type wireEnvelope struct {
	ID        string           `json:"id"`
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// encodeEnvelope serializes an event envelope for publishing.
func encodeEnvelope(event events.EventEnvelope) ([]byte, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for event %s: %w", event.Type, err)
	}

	data, err := json.Marshal(wireEnvelope{
		ID:        event.ID.String(),
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope for event %s: %w", event.Type, err)
	}
	return data, nil
}

// decodeEnvelope deserializes a consumed message back into an envelope. The
// payload is handed on as raw JSON; the routing key comes from the Kafka
// message key.
func decodeEnvelope(data []byte, key string) (events.EventEnvelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if w.Type == "" {
		return events.EventEnvelope{}, fmt.Errorf("decoding envelope: missing event type")
	}

	id, err := uuid.Parse(w.ID)
	if err != nil {
		id = uuid.Nil
	}

	return events.EventEnvelope{
		ID:        id,
		Type:      w.Type,
		Key:       key,
		Timestamp: w.Timestamp,
		Payload:   w.Payload,
	}, nil
}
