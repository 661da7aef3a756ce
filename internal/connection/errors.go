package connection

import "errors"

// Domain errors for connection operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoTransport is returned by New when Options.Transport is nil.
	ErrNoTransport = errors.New("connection: transport is required")

	// ErrUnknownDevice is returned for an internal id this instance does not own.
	ErrUnknownDevice = errors.New("connection: unknown device")

	// ErrNoController is returned when the controller device cannot be resolved.
	ErrNoController = errors.New("connection: no controller available")
)
