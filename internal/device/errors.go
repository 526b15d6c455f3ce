package device

import "errors"

// Domain errors for the device runtime.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("device: runtime already started")

	// ErrNotStarted is returned by operations that need a running runtime.
	ErrNotStarted = errors.New("device: runtime not started")

	// ErrInvalidConfig is returned when the runtime configuration is invalid.
	ErrInvalidConfig = errors.New("device: invalid configuration")

	// ErrInvalidLibrary is returned when a class library cannot be parsed.
	ErrInvalidLibrary = errors.New("device: invalid class library")

	// ErrUnknownBehavior is returned when a library names a behavior that
	// has no factory.
	ErrUnknownBehavior = errors.New("device: unknown behavior")
)
