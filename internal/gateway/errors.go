package gateway

import (
	"errors"
	"fmt"

	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// Domain errors for the comm client.
var (
	// ErrTimeout is returned when no response arrives before the deadline.
	// The request may or may not have reached the device; callers may retry.
	ErrTimeout = errors.New("gateway: request timed out")

	// ErrUnknownNode is returned when a node ID is not in the directory.
	ErrUnknownNode = errors.New("gateway: unknown node")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("gateway: client closed")

	// ErrControllerUnavailable is returned by controller operations when no
	// controller console is attached.
	ErrControllerUnavailable = errors.New("gateway: controller unavailable")

	// ErrUnexpectedReply is returned when a response does not fit its request.
	ErrUnexpectedReply = errors.New("gateway: unexpected reply")

	// ErrInvalidConfig is returned when the client configuration is invalid.
	ErrInvalidConfig = errors.New("gateway: invalid configuration")
)

// RemoteError is a rejection reported by a device in an error response.
//
// It unwraps to the matching wkpf sentinel, so callers can test with
// errors.Is(err, wkpf.ErrAccessDenied).
type RemoteError struct {
	Node     uint8
	Object   uint8
	Property uint8
	Code     wkpf.ErrorCode
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("node %d object %d property %d: device rejected request: %s",
		e.Node, e.Object, e.Property, e.Code)
}

// Unwrap returns the wkpf sentinel for the error code.
func (e *RemoteError) Unwrap() error {
	return e.Code.Err()
}

// IsRetryable reports whether err is a condition a caller may retry:
// a timeout. Device rejections are final.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}
