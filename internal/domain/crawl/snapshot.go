package crawl

import (
	"encoding/json"
	"fmt"
)

// Wire-format status markers reported by the poll endpoint.
const (
	snapshotStatusRunning   = "running"
	snapshotStatusCompleted = "completed"
	snapshotStatusFailed    = "failed"
)

// JobSnapshot is the full current view of a run as reported by the poll
// endpoint. It mirrors the backend's wire contract; the merge logic depends
// on this shape being decoded exactly.
type JobSnapshot struct {
	// Status is the backend's top-level view of the run: "running",
	// "completed" or "failed".
	Status string `json:"status"`

	// ProgressPct is the backend's aggregate completion percentage (0-100).
	// Optional; when present and non-zero it is preferred verbatim over local
	// recomputation because the server's view may encode information (e.g.
	// total worker count) unavailable locally.
	ProgressPct *float64 `json:"progress_pct,omitempty"`

	// TotalWorkers is the backend-reported worker count for the run.
	// Optional; zero when the backend does not report it.
	TotalWorkers int `json:"total_workers,omitempty"`

	// Workers is the full current worker list.
	Workers []WorkerSnapshot `json:"workers"`

	// Data carries summary fields on "completed" and {"error": ...} on
	// "failed".
	Data json.RawMessage `json:"data,omitempty"`

	// Seq is a source-provided ordering marker when the backend supplies
	// one. Zero means unordered; arrival order then governs.
	Seq int64 `json:"seq,omitempty"`
}

// WorkerSnapshot is one worker's entry within a poll snapshot.
type WorkerSnapshot struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	UnitsDone int    `json:"units_done"`
	Message   string `json:"message,omitempty"`
}

// failurePayload is the wire shape of the data object on a failed run.
type failurePayload struct {
	Error string `json:"error"`
}

// FailureMessage extracts the error message carried by a failed snapshot.
func (s JobSnapshot) FailureMessage() string {
	if len(s.Data) == 0 {
		return ""
	}
	var p failurePayload
	if err := json.Unmarshal(s.Data, &p); err != nil {
		return ""
	}
	return p.Error
}

// DecodeJobSnapshot parses a poll endpoint response body. The status field is
// mandatory; a body without one cannot be reconciled and is rejected.
func DecodeJobSnapshot(data []byte) (JobSnapshot, error) {
	var snap JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return JobSnapshot{}, fmt.Errorf("decoding job snapshot: %w", err)
	}
	if snap.Status == "" {
		return JobSnapshot{}, fmt.Errorf("decoding job snapshot: missing status field")
	}
	return snap, nil
}
