package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrInvalidTopic is returned when an MQTT topic does not match the
	// command scheme.
	ErrInvalidTopic = errors.New("bridge: invalid topic")

	// ErrInvalidCommand is returned when a command payload cannot be parsed.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrMissingDependency is returned when a constructor is called without
	// a required collaborator.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrUnsupportedValue is returned when a value cannot be represented by
	// a sink.
	ErrUnsupportedValue = errors.New("bridge: unsupported value")

	// ErrNATSConnect is returned when the NATS connection cannot be made.
	ErrNATSConnect = errors.New("bridge: nats connection failed")
)
