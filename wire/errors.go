package wire

import (
	"errors"
)

var (
	ErrAssertion = errors.New("AssertionError")
	// ErrConnection the server could not be reached or did not greet us.
	ErrConnection = errors.New("ConnectionError")
	// ErrProtocol the server sent an unexpected or malformed response for the current step.
	ErrProtocol = errors.New("ProtocolError")
	// ErrNotFound the server explicitly reported that the file or directory doesn't exist.
	ErrNotFound = errors.New("NotFound")
	// ErrPartialFailure some items of a batch operation failed while others succeeded.
	ErrPartialFailure = errors.New("PartialFailure")
	// ErrLocalIO a local scratch file could not be read, written or removed.
	ErrLocalIO = errors.New("LocalIOError")
	// ErrNetwork general network error communicating with the server.
	ErrNetwork = errors.New("Network")
	// ErrConnectionReset the connection to the server was closed in the middle of an exchange.
	ErrConnectionReset = errors.New("ConnectionReset")
	// ErrTimeout a wait point exceeded its deadline.
	ErrTimeout = errors.New("Timeout")
)

// IsTransport reports whether err means the session itself is unusable.
func IsTransport(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrConnectionReset) ||
		errors.Is(err, ErrTimeout)
}
