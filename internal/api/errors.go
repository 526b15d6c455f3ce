package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/node"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// Error represents a structured error response.
type Error struct {
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	WireCode string `json:"wire_code,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeDeviceRejected = "device_rejected"
	ErrCodeUnavailable    = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeGatewayError maps a comm client error to an HTTP response.
//
//   - unknown node: 404
//   - invalid value or location: 400
//   - device rejection: 422 with the wire error code
//   - no response: 504
//   - controller missing or client closed: 503
//
// Anything else is a 500 carrying fallback as its message.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error, fallback string) {
	var remote *gateway.RemoteError
	switch {
	case errors.Is(err, gateway.ErrUnknownNode), errors.Is(err, node.ErrNodeNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, wkpf.ErrTypeMismatch),
		errors.Is(err, wkpf.ErrPayloadTooLarge),
		errors.Is(err, node.ErrInvalidLocation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.As(err, &remote):
		writeJSON(w, http.StatusUnprocessableEntity, Error{
			Status:   http.StatusUnprocessableEntity,
			Code:     ErrCodeDeviceRejected,
			Message:  err.Error(),
			WireCode: remote.Code.String(),
		})
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, gateway.ErrControllerUnavailable), errors.Is(err, gateway.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
