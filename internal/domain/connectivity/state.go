// Package connectivity models reachability of a backend dependency the UI
// must react to: a status enum plus the reconnect countdown that drives
// automatic probing.
package connectivity

import "fmt"

// Status represents the reachability of a monitored backend dependency.
type Status string

const (
	// StatusUnknown is the initial state before any call outcome is observed.
	StatusUnknown Status = "UNKNOWN"

	// StatusConnected indicates the last call to the backend succeeded.
	StatusConnected Status = "CONNECTED"

	// StatusDisconnected indicates the backend could not be reached; a
	// reconnect countdown may be running.
	StatusDisconnected Status = "DISCONNECTED"

	// StatusReconnecting indicates the countdown expired and a probe attempt
	// is in flight.
	StatusReconnecting Status = "RECONNECTING"
)

func (s Status) String() string { return string(s) }

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid connectivity transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the monitor's lifecycle: Reconnecting is only
// reachable via countdown expiry from Disconnected, never directly from a
// call outcome.
func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusUnknown:
		return target == StatusConnected || target == StatusDisconnected
	case StatusConnected:
		return target == StatusDisconnected
	case StatusDisconnected:
		return target == StatusConnected || target == StatusReconnecting
	case StatusReconnecting:
		return target == StatusConnected || target == StatusDisconnected
	default:
		return false
	}
}

// State is the published connectivity view: the status plus the live
// reconnect countdown a UI renders.
//
// Invariant: RetryCountdownSeconds > 0 implies the status is Disconnected or
// Reconnecting.
type State struct {
	Status                Status
	RetryCountdownSeconds int
}

// InitialState returns the state before any call outcome is observed.
func InitialState() State {
	return State{Status: StatusUnknown}
}
