package supervisor

import "errors"

var (
	// ErrPortUnavailable means the requested port is occupied and no
	// substitution was permitted or none was found within the attempt bound.
	ErrPortUnavailable = errors.New("port unavailable")
	// ErrNotFound means no supervised process exists for the identity.
	ErrNotFound = errors.New("no such process")
	// ErrStopTimeout means the forceful termination signal also failed to
	// produce an exit within its grace period.
	ErrStopTimeout = errors.New("process did not exit after kill")
	// ErrShuttingDown rejects lifecycle operations once shutdown has begun.
	ErrShuttingDown = errors.New("supervisor is shutting down")
)
