// Package crawl models one tracked crawl run: the job lifecycle, its workers,
// and the merge rules that reconcile poll snapshots with push events into a
// single authoritative view.
package crawl

import (
	"maps"
	"time"
)

// JobRun is the reconciled view of one tracked crawl execution. It is a value
// type: merge operations return a fresh copy and published state never shares
// mutable containers with internal state. Consumers must treat it as
// read-only.
type JobRun struct {
	// JobID is the server-issued identifier, set once when a run starts.
	JobID string

	// Phase is the run's lifecycle state.
	Phase JobPhase

	// Workers holds one entry per worker ever observed, keyed by the worker's
	// stable logical name.
	Workers map[string]WorkerStatus

	// ServerWorkerCount is the backend-reported total worker count, when
	// known. Used in preference to the locally observed count when computing
	// progress, since the backend may know about workers not yet observed.
	ServerWorkerCount int

	// ProgressFraction is the aggregate completion ratio in [0,1]. Monotone
	// non-decreasing while Running, forced to 1.0 on Completed, and never
	// recomputed after the phase leaves Running.
	ProgressFraction float64

	// Summary is populated only on Completed.
	Summary *Summary

	// ErrorMessage is populated only on Failed.
	ErrorMessage string

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewJobRun creates a fresh run in the Running phase for the given job id.
func NewJobRun(jobID string, now time.Time) JobRun {
	return JobRun{
		JobID:     jobID,
		Phase:     PhaseRunning,
		Workers:   make(map[string]WorkerStatus),
		StartedAt: now,
	}
}

// IdleJobRun returns the empty, untracked state.
func IdleJobRun() JobRun {
	return JobRun{Phase: PhaseIdle, Workers: make(map[string]WorkerStatus)}
}

// Clone returns a deep copy safe to publish to consumers.
func (r JobRun) Clone() JobRun {
	cp := r
	cp.Workers = maps.Clone(r.Workers)
	cp.Summary = r.Summary.Clone()
	return cp
}

// Worker returns the last-known status of the named worker.
func (r JobRun) Worker(key string) (WorkerStatus, bool) {
	w, ok := r.Workers[key]
	return w, ok
}

// Equal reports whether two runs are observably identical. This drives the
// changed flag that gates downstream notification.
func (r JobRun) Equal(other JobRun) bool {
	return r.JobID == other.JobID &&
		r.Phase == other.Phase &&
		r.ServerWorkerCount == other.ServerWorkerCount &&
		r.ProgressFraction == other.ProgressFraction &&
		r.ErrorMessage == other.ErrorMessage &&
		r.StartedAt.Equal(other.StartedAt) &&
		r.FinishedAt.Equal(other.FinishedAt) &&
		maps.Equal(r.Workers, other.Workers) &&
		summaryEqual(r.Summary, other.Summary)
}

// WithSnapshot merges a full poll snapshot into the run. Updates for a run
// that is not Running are ignored entirely; a terminal run accepts no further
// information and an idle tracker has nothing to merge into.
//
// Per-worker tie-breaks: a snapshot never regresses a worker state the push
// channel already advanced to terminal, and UnitsDone takes the larger of the
// two reported values so monotonic counters cannot move backwards.
func (r JobRun) WithSnapshot(snap JobSnapshot, now time.Time) (JobRun, bool) {
	if r.Phase != PhaseRunning {
		return r, false
	}

	next := r.Clone()

	for _, ws := range snap.Workers {
		if ws.Name == "" {
			continue
		}
		next.upsertWorker(ws.Name, ParseWorkerState(ws.State), ws.UnitsDone, ws.Message)
	}

	if snap.TotalWorkers > 0 {
		next.ServerWorkerCount = snap.TotalWorkers
	}

	// Prefer the server's aggregate progress verbatim when it reports one;
	// fall back to local recomputation otherwise. Either way the fraction
	// never decreases while the run is live.
	if snap.ProgressPct != nil && *snap.ProgressPct > 0 {
		next.raiseProgress(*snap.ProgressPct / 100)
	} else {
		next.raiseProgress(next.localProgress())
	}

	switch snap.Status {
	case snapshotStatusCompleted:
		summary := SummaryFromPayload(snap.Data)
		if summary == nil {
			summary = SynthesizeSummary(next.Workers)
		}
		next.complete(summary, now)
	case snapshotStatusFailed:
		next.fail(snap.FailureMessage(), now)
	}

	return next, !r.Equal(next)
}

// WithPushEvent merges one push-channel event into the run. Events for a run
// that is not Running are ignored entirely, so late or out-of-order events
// after completion cannot resurrect a finished run.
func (r JobRun) WithPushEvent(evt PushEvent, now time.Time) (JobRun, bool) {
	if r.Phase != PhaseRunning {
		return r, false
	}

	// Every kind except run_summary addresses a single worker; an event with
	// no source has nothing to apply to and must not mint a phantom entry.
	if evt.Kind() != PushRunSummary && evt.Source == "" {
		return r, false
	}

	next := r.Clone()

	switch evt.Kind() {
	case PushWorkerStarted:
		next.upsertWorker(evt.Source, WorkerStateRunning, evt.ArticleCount, "")

	case PushWorkerFinished:
		state := WorkerStateCompleted
		if reported := ParseWorkerState(evt.Status); reported.IsTerminal() {
			state = reported
		}
		next.upsertWorker(evt.Source, state, evt.ArticleCount, "")

	case PushRunSummary:
		summary := SummaryFromPayload(evt.Raw)
		if summary == nil {
			summary = SynthesizeSummary(next.Workers)
		}
		next.complete(summary, now)
		return next, !r.Equal(next)

	default:
		state := ParseWorkerState(evt.Status)
		if state == WorkerStateUnspecified {
			if existing, ok := next.Workers[evt.Source]; ok {
				state = existing.State
			} else {
				state = WorkerStateWaiting
			}
		}
		next.upsertWorker(evt.Source, state, evt.ArticleCount, "")
	}

	next.raiseProgress(next.localProgress())

	return next, !r.Equal(next)
}

// upsertWorker applies last-write-wins per field with two guards: a worker
// already in a terminal state is never demoted to a non-terminal one, and
// UnitsDone never decreases.
func (r *JobRun) upsertWorker(key string, state WorkerState, unitsDone int, message string) {
	existing, ok := r.Workers[key]
	if !ok {
		if state == WorkerStateUnspecified {
			state = WorkerStateWaiting
		}
		r.Workers[key] = WorkerStatus{Key: key, State: state, UnitsDone: unitsDone, Message: message}
		return
	}

	if state != WorkerStateUnspecified && !(existing.State.IsTerminal() && !state.IsTerminal()) {
		existing.State = state
	}
	if unitsDone > existing.UnitsDone {
		existing.UnitsDone = unitsDone
	}
	if message != "" {
		existing.Message = message
	}
	r.Workers[key] = existing
}

// localProgress recomputes the aggregate completion ratio from observed
// workers: done/total, where total is the larger of the server-reported count
// and the observed count. With no workers at all it returns the last known
// value unchanged, never regressing to zero.
func (r JobRun) localProgress() float64 {
	total := len(r.Workers)
	if r.ServerWorkerCount > total {
		total = r.ServerWorkerCount
	}
	if total == 0 {
		return r.ProgressFraction
	}

	done := 0
	for _, w := range r.Workers {
		if w.State.IsTerminal() {
			done++
		}
	}
	return float64(done) / float64(total)
}

// raiseProgress moves the fraction up to candidate, clamped to [0,1]. It
// never lowers it.
func (r *JobRun) raiseProgress(candidate float64) {
	if candidate > 1 {
		candidate = 1
	}
	if candidate > r.ProgressFraction {
		r.ProgressFraction = candidate
	}
}

func (r *JobRun) complete(summary *Summary, now time.Time) {
	r.Phase = PhaseCompleted
	r.Summary = summary
	r.ProgressFraction = 1
	r.FinishedAt = now
}

func (r *JobRun) fail(message string, now time.Time) {
	r.Phase = PhaseFailed
	r.ErrorMessage = message
	r.FinishedAt = now
}
