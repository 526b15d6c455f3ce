package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrClosed is returned when sending on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrListenFailed is returned when the UDP socket cannot be opened.
	ErrListenFailed = errors.New("transport: listen failed")

	// ErrOpenFailed is returned when the serial device cannot be opened.
	ErrOpenFailed = errors.New("transport: serial open failed")

	// ErrInvalidAddress is returned when a destination cannot be resolved.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrSendFailed is returned when a datagram cannot be written.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrFrameTooLarge is returned when a datagram exceeds the maximum size.
	ErrFrameTooLarge = errors.New("transport: frame too large")
)
