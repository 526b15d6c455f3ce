package wkpf

import "errors"

// Domain errors for the WKPF protocol core.
var (
	// ErrMalformedPayload is returned when bytes cannot be decoded as the
	// expected message or value. Inbound datagrams that fail this way are
	// dropped without a reply.
	ErrMalformedPayload = errors.New("wkpf: malformed payload")

	// ErrTypeMismatch is returned when a value's Go type disagrees with the
	// declared property type.
	ErrTypeMismatch = errors.New("wkpf: type mismatch")

	// ErrPayloadTooLarge is returned when an encoded value or message would
	// not fit in a single datagram. Values are never truncated.
	ErrPayloadTooLarge = errors.New("wkpf: payload too large")

	// ErrDuplicateClass is returned when a class identifier is registered twice.
	ErrDuplicateClass = errors.New("wkpf: duplicate class")

	// ErrInvalidClass is returned when a class definition is inconsistent.
	ErrInvalidClass = errors.New("wkpf: invalid class definition")

	// ErrUnknownClass is returned when a class identifier is not registered.
	ErrUnknownClass = errors.New("wkpf: unknown class")

	// ErrUnknownObject is returned for an unregistered object identifier.
	ErrUnknownObject = errors.New("wkpf: unknown object")

	// ErrUnknownProperty is returned when a property index is out of range
	// for the object's class.
	ErrUnknownProperty = errors.New("wkpf: unknown property")

	// ErrAccessDenied is returned when the slot's access mode forbids the
	// requested operation.
	ErrAccessDenied = errors.New("wkpf: access denied")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("wkpf: class registry sealed")

	// ErrRegistryNotSealed is returned when dispatch is set up before the
	// registry is sealed.
	ErrRegistryNotSealed = errors.New("wkpf: class registry not sealed")

	// ErrObjectTableFull is returned when no object identifiers remain.
	ErrObjectTableFull = errors.New("wkpf: object table full")
)

// ErrorCode is the one-byte error code carried by an error response.
type ErrorCode byte

// Wire error codes. Zero is reserved for "no error".
const (
	CodeNone             ErrorCode = 0x00
	CodeUnknownObject    ErrorCode = 0x01
	CodeUnknownProperty  ErrorCode = 0x02
	CodeAccessDenied     ErrorCode = 0x03
	CodeTypeMismatch     ErrorCode = 0x04
	CodeMalformedPayload ErrorCode = 0x05
	CodeUnknownClass     ErrorCode = 0x06
)

var codeErrors = map[ErrorCode]error{
	CodeUnknownObject:    ErrUnknownObject,
	CodeUnknownProperty:  ErrUnknownProperty,
	CodeAccessDenied:     ErrAccessDenied,
	CodeTypeMismatch:     ErrTypeMismatch,
	CodeMalformedPayload: ErrMalformedPayload,
	CodeUnknownClass:     ErrUnknownClass,
}

// Err returns the sentinel error for the code, or nil for CodeNone and
// unrecognised codes.
func (c ErrorCode) Err() error {
	return codeErrors[c]
}

// String returns a short name for the code.
func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeUnknownObject:
		return "unknown_object"
	case CodeUnknownProperty:
		return "unknown_property"
	case CodeAccessDenied:
		return "access_denied"
	case CodeTypeMismatch:
		return "type_mismatch"
	case CodeMalformedPayload:
		return "malformed_payload"
	case CodeUnknownClass:
		return "unknown_class"
	default:
		return "unknown"
	}
}

// CodeOf maps an error to its wire code. Errors outside the protocol
// taxonomy map to CodeNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return CodeTypeMismatch
	}
	return CodeNone
}
