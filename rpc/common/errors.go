package common

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned to every caller still waiting on a connection when it closes
	ErrConnectionClosed = errors.New("connection closed")
	// ErrProtocolViolation means the reply stream no longer matches the request stream
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTimeout is returned to a caller whose reply did not arrive in time
	ErrTimeout = errors.New("request timed out")
	// ErrPoolClosed is returned by a pool after Close
	ErrPoolClosed = errors.New("connection pool closed")
)

// RemoteError is an error reported by the server in an Exception reply.
// It does not affect the connection it arrived on.
type RemoteError struct {
	Command uint32
	Info    string
}

func (e *RemoteError) Error() string {
	return e.Info
}

// NewRemoteError creates a RemoteError from an exception message
func NewRemoteError(msg Message) *RemoteError {
	return &RemoteError{Command: msg.Command, Info: msg.Err}
}

// IsFatal reports whether err invalidates the connection it occurred on.
// Only remote errors leave the connection usable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var remote *RemoteError
	return !errors.As(err, &remote)
}

// ClosedBy returns the error handed to pending callers of a connection that
// closed because of cause. Both ErrConnectionClosed and cause match with errors.Is.
func ClosedBy(cause error) error {
	if cause == nil {
		return ErrConnectionClosed
	}
	if errors.Is(cause, ErrConnectionClosed) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
}
