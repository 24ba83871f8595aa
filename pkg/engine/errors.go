package engine

import "errors"

var (
	// ErrNodeNotFound is returned when a REMOVE_NODE targets an unknown id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEndpointMissing is returned when an ADD_EDGE endpoint does not exist.
	ErrEndpointMissing = errors.New("edge endpoint missing")
	// ErrEdgeNotFound is returned when no edge matches a REMOVE_EDGE.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrUnknownEventType is returned for event types outside the four mutations.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvalidPayload is returned when an event payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrInvalidInput is returned when a local action receives unparseable input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCancelled is returned when the user dismisses a prompt.
	ErrCancelled = errors.New("action cancelled")
)

// IsRejection reports whether err is a validation failure rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrEndpointMissing) ||
		errors.Is(err, ErrEdgeNotFound) ||
		errors.Is(err, ErrInvalidInput)
}
