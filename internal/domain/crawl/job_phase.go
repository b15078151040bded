package crawl

import "fmt"

// JobPhase represents the lifecycle state of a tracked crawl run. It enables
// tracking from idle through execution to completion or failure.
type JobPhase string

const (
	// PhaseIdle indicates no run is being tracked.
	PhaseIdle JobPhase = "IDLE"

	// PhaseRunning indicates a run is actively being tracked and updates are
	// accepted from both channels.
	PhaseRunning JobPhase = "RUNNING"

	// PhaseCompleted indicates the run finished successfully.
	PhaseCompleted JobPhase = "COMPLETED"

	// PhaseFailed indicates the run encountered an unrecoverable error.
	PhaseFailed JobPhase = "FAILED"
)

func (p JobPhase) String() string { return string(p) }

// IsTerminal reports whether the phase is Completed or Failed. Once a run is
// terminal, no further updates of any kind are accepted for it.
func (p JobPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ParseJobPhase converts a string to a JobPhase.
func ParseJobPhase(s string) JobPhase {
	switch s {
	case "IDLE":
		return PhaseIdle
	case "RUNNING":
		return PhaseRunning
	case "COMPLETED":
		return PhaseCompleted
	case "FAILED":
		return PhaseFailed
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a phase transition is valid and returns an
// error if not.
func (p JobPhase) ValidateTransition(target JobPhase) error {
	if !p.isValidTransition(target) {
		return fmt.Errorf("invalid job phase transition from %s to %s", p, target)
	}
	return nil
}

// isValidTransition enforces the run lifecycle rules. Reset back to Idle is
// always allowed; it models tearing the tracked run down, not a state the run
// itself reaches.
func (p JobPhase) isValidTransition(target JobPhase) bool {
	if target == PhaseIdle {
		return true
	}
	switch p {
	case PhaseIdle:
		// From Idle, a run can only start.
		return target == PhaseRunning
	case PhaseRunning:
		// From Running, a run can only finish one way or the other.
		return target == PhaseCompleted || target == PhaseFailed
	case PhaseCompleted, PhaseFailed:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
