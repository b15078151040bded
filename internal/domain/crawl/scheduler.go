package crawl

// SchedulerStatus is the crawler scheduler's control-plane flag set, fetched
// by generic status polling (there is no push channel for it). The type is
// comparable so polls can be diffed field-by-field.
type SchedulerStatus struct {
	// Enabled reports whether the scheduler is accepting new runs.
	Enabled bool `json:"enabled"`

	// ActiveJobID is the id of the currently executing run, empty when idle.
	ActiveJobID string `json:"active_job_id"`

	// QueuedJobs is the number of runs waiting to execute.
	QueuedJobs int `json:"queued_jobs"`

	// Window names the currently open crawl window, empty when closed.
	Window string `json:"window"`
}

// SafeDefault is the value volatile fields reset to when the backend responds
// with an application-level error: nothing running, nothing queued.
func (SchedulerStatus) SafeDefault() SchedulerStatus { return SchedulerStatus{} }
