package crawl

// WorkerState represents the execution state of an individual crawl worker
// (one data source within a run).
type WorkerState string

const (
	// WorkerStateWaiting indicates the worker has been announced but has not
	// started producing.
	WorkerStateWaiting WorkerState = "WAITING"

	// WorkerStateRunning indicates the worker is actively crawling.
	WorkerStateRunning WorkerState = "RUNNING"

	// WorkerStateCompleted indicates the worker finished successfully.
	WorkerStateCompleted WorkerState = "COMPLETED"

	// WorkerStateFailed indicates the worker encountered an unrecoverable
	// error.
	WorkerStateFailed WorkerState = "FAILED"

	// WorkerStateUnspecified is used when a worker state is unknown.
	WorkerStateUnspecified WorkerState = "UNSPECIFIED"
)

func (s WorkerState) String() string { return string(s) }

// IsTerminal reports whether the worker state is Completed or Failed.
func (s WorkerState) IsTerminal() bool {
	return s == WorkerStateCompleted || s == WorkerStateFailed
}

// ParseWorkerState converts a wire-format state string to a WorkerState. The
// backend reports lowercase states; a handful of synonyms observed on the
// wire map onto the same four states.
func ParseWorkerState(s string) WorkerState {
	switch s {
	case "waiting", "pending", "queued", "WAITING":
		return WorkerStateWaiting
	case "running", "started", "in_progress", "RUNNING":
		return WorkerStateRunning
	case "completed", "done", "success", "COMPLETED":
		return WorkerStateCompleted
	case "failed", "error", "FAILED":
		return WorkerStateFailed
	default:
		return WorkerStateUnspecified
	}
}

// WorkerStatus is one worker's last-known state within a run. Workers are
// identified by a stable logical name and mutated only by upsert; no worker
// is ever removed within a run.
type WorkerStatus struct {
	// Key is the worker's stable logical name (e.g. a source name), unique
	// within a run.
	Key string

	// State is the worker's last-known execution state.
	State WorkerState

	// UnitsDone counts items the worker has produced. Monotonic: merges take
	// the larger of two reported values so counters never regress.
	UnitsDone int

	// Message is the worker's last reported status message, if any.
	Message string
}
