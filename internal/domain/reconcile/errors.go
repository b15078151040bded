package reconcile

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an interaction with the remote backend failed.
// The distinction matters: an unreachable backend says nothing about the
// remote's true state, while a well-formed error response is itself a signal.
type FailureKind int

const (
	// FailureNone indicates the last interaction succeeded.
	FailureNone FailureKind = iota

	// FailureUnreachable indicates the remote process could not be reached at
	// all (connection refused, DNS failure, timeout before any response).
	FailureUnreachable

	// FailureApplication indicates the remote responded with a well-formed
	// error (e.g. HTTP 5xx with a JSON error body).
	FailureApplication

	// FailureMalformed indicates the remote responded but the payload could
	// not be parsed into the expected shape.
	FailureMalformed
)

// String returns a human readable name for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureUnreachable:
		return "unreachable"
	case FailureApplication:
		return "application"
	case FailureMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ErrUnreachable is the sentinel wrapped by transport-level failures.
var ErrUnreachable = errors.New("remote unreachable")

// ErrMalformed is the sentinel wrapped when a response cannot be decoded.
var ErrMalformed = errors.New("malformed response")

// ApplicationError represents a well-formed error response from the remote.
type ApplicationError struct {
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("remote returned error (status %d): %s", e.StatusCode, e.Message)
}

// ClassifyError maps an error produced at a transport boundary onto the
// failure taxonomy. Unrecognized errors are treated as unreachable since no
// reliable signal can be extracted from them.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var appErr *ApplicationError
	switch {
	case errors.As(err, &appErr):
		return FailureApplication
	case errors.Is(err, ErrMalformed):
		return FailureMalformed
	case errors.Is(err, ErrUnreachable):
		return FailureUnreachable
	default:
		return FailureUnreachable
	}
}
