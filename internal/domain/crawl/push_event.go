package crawl

import (
	"encoding/json"
	"fmt"
)

// PushEventKind identifies the kind of a push-channel message.
type PushEventKind string

const (
	// PushWorkerStarted announces that a worker began crawling.
	PushWorkerStarted PushEventKind = "worker_start"

	// PushWorkerFinished announces that a worker finished.
	PushWorkerFinished PushEventKind = "worker_done"

	// PushRunSummary is the push channel's authoritative completion signal,
	// independent of polling.
	PushRunSummary PushEventKind = "run_summary"

	// PushGeneric covers any other event kind; it upserts the named worker.
	PushGeneric PushEventKind = ""
)

// PushEvent is one discrete update delivered via the subscription channel,
// mirroring the backend's wire contract.
type PushEvent struct {
	// Type is the wire event kind: "worker_start", "worker_done",
	// "run_summary", or anything else.
	Type string `json:"type"`

	// Source names the worker this event concerns.
	Source string `json:"source"`

	// Status is the worker state as reported on the wire, when present.
	Status string `json:"status,omitempty"`

	// ArticleCount is the worker's cumulative item count at the time of the
	// event.
	ArticleCount int `json:"article_count"`

	// Raw carries the verbatim summary payload on a run_summary event, when
	// the backend includes one.
	Raw json.RawMessage `json:"raw_json,omitempty"`
}

// Kind maps the wire type onto the known event kinds.
func (e PushEvent) Kind() PushEventKind {
	switch e.Type {
	case string(PushWorkerStarted):
		return PushWorkerStarted
	case string(PushWorkerFinished):
		return PushWorkerFinished
	case string(PushRunSummary):
		return PushRunSummary
	default:
		return PushGeneric
	}
}

// DecodePushEvent parses a push-channel message body.
func DecodePushEvent(data []byte) (PushEvent, error) {
	var evt PushEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return PushEvent{}, fmt.Errorf("decoding push event: %w", err)
	}
	if evt.Type == "" {
		return PushEvent{}, fmt.Errorf("decoding push event: missing type field")
	}
	return evt, nil
}
