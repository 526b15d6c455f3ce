package wkpf

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of a message header:
//
//	Byte 0-1: sequence number (big-endian)
//	Byte 2:   message kind
//	Byte 3:   object identifier
//	Byte 4:   property index
//	Byte 5:   payload length
const HeaderSize = 6

// Kind is the message kind carried in byte 2 of the header.
type Kind uint8

// Message kinds.
const (
	KindGetRequest     Kind = 0x01
	KindGetResponse    Kind = 0x02
	KindSetRequest     Kind = 0x03
	KindSetAck         Kind = 0x04
	KindPropertyUpdate Kind = 0x05
	KindModeControl    Kind = 0x06

	KindClassListRequest   Kind = 0x10
	KindClassListResponse  Kind = 0x11
	KindObjectListRequest  Kind = 0x12
	KindObjectListResponse Kind = 0x13

	KindNodeAnnounce    Kind = 0x20
	KindNodeAnnounceAck Kind = 0x21
)

var kindNames = map[Kind]string{
	KindGetRequest:         "GET_REQUEST",
	KindGetResponse:        "GET_RESPONSE",
	KindSetRequest:         "SET_REQUEST",
	KindSetAck:             "SET_ACK",
	KindPropertyUpdate:     "PROPERTY_UPDATE",
	KindModeControl:        "MODE_CONTROL",
	KindClassListRequest:   "CLASS_LIST_REQUEST",
	KindClassListResponse:  "CLASS_LIST_RESPONSE",
	KindObjectListRequest:  "OBJECT_LIST_REQUEST",
	KindObjectListResponse: "OBJECT_LIST_RESPONSE",
	KindNodeAnnounce:       "NODE_ANNOUNCE",
	KindNodeAnnounceAck:    "NODE_ANNOUNCE_ACK",
}

// responseKinds maps each request kind to the kind of its reply.
var responseKinds = map[Kind]Kind{
	KindGetRequest:        KindGetResponse,
	KindSetRequest:        KindSetAck,
	KindClassListRequest:  KindClassListResponse,
	KindObjectListRequest: KindObjectListResponse,
	KindNodeAnnounce:      KindNodeAnnounceAck,
}

// String returns the protocol name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(0x%02x)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsRequest reports whether k expects a reply.
func (k Kind) IsRequest() bool {
	_, ok := responseKinds[k]
	return ok
}

// IsResponse reports whether k is a reply to a request.
func (k Kind) IsResponse() bool {
	for _, r := range responseKinds {
		if r == k {
			return true
		}
	}
	return false
}

// ResponseKind returns the reply kind for a request kind.
func (k Kind) ResponseKind() (Kind, bool) {
	r, ok := responseKinds[k]
	return r, ok
}

// Mode is the payload byte of a MODE_CONTROL message.
type Mode uint8

// Controller modes.
const (
	ModeAdd   Mode = 0x01
	ModeStop  Mode = 0x02
	ModeReset Mode = 0x03
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAdd:
		return "add"
	case ModeStop:
		return "stop"
	case ModeReset:
		return "reset"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Message is one protocol datagram.
type Message struct {
	Seq      uint16
	Kind     Kind
	Object   uint8
	Property uint8

	// Payload is the message body. Empty for error responses.
	Payload []byte

	// Code is set on error responses. An error response is encoded with
	// payloadLength 0 followed by this byte.
	Code ErrorCode
}

// IsError reports whether m is an error response.
func (m Message) IsError() bool {
	return m.Code != CodeNone
}

// Err returns the error carried by an error response, or nil.
func (m Message) Err() error {
	if !m.IsError() {
		return nil
	}
	if err := m.Code.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: unrecognised error code 0x%02x", ErrMalformedPayload, byte(m.Code))
}

// MarshalBinary encodes m to its wire form.
//
// Returns:
//   - []byte: Encoded datagram
//   - error: ErrPayloadTooLarge if the payload exceeds MaxPayload,
//     ErrMalformedPayload if m cannot be represented unambiguously
func (m Message) MarshalBinary() ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrMalformedPayload, uint8(m.Kind))
	}

	if m.IsError() {
		if !m.Kind.IsResponse() {
			return nil, fmt.Errorf("%w: error code on %s", ErrMalformedPayload, m.Kind)
		}
		if len(m.Payload) > 0 {
			return nil, fmt.Errorf("%w: error response with payload", ErrMalformedPayload)
		}
		buf := make([]byte, HeaderSize+1)
		m.putHeader(buf, 0)
		buf[HeaderSize] = byte(m.Code)
		return buf, nil
	}

	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(m.Payload), MaxPayload)
	}
	// payloadLength 0 on a response is reserved for errors.
	if m.Kind.IsResponse() && len(m.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrMalformedPayload, m.Kind)
	}

	buf := make([]byte, HeaderSize+len(m.Payload))
	m.putHeader(buf, uint8(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf, nil
}

func (m Message) putHeader(buf []byte, length uint8) {
	binary.BigEndian.PutUint16(buf[0:2], m.Seq)
	buf[2] = byte(m.Kind)
	buf[3] = m.Object
	buf[4] = m.Property
	buf[5] = length
}

// ParseMessage decodes one datagram.
//
// The datagram must contain exactly one message: trailing bytes are
// rejected. A response with payloadLength 0 must be followed by exactly one
// non-zero error-code byte.
//
// Returns:
//   - Message: Decoded message
//   - error: ErrMalformedPayload if the datagram is not a valid message
func ParseMessage(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return Message{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPayload, len(data), HeaderSize)
	}

	m := Message{
		Seq:      binary.BigEndian.Uint16(data[0:2]),
		Kind:     Kind(data[2]),
		Object:   data[3],
		Property: data[4],
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: unknown kind 0x%02x", ErrMalformedPayload, data[2])
	}

	length := int(data[5])
	rest := data[HeaderSize:]

	if length == 0 && m.Kind.IsResponse() {
		if len(rest) != 1 || rest[0] == byte(CodeNone) {
			return Message{}, fmt.Errorf("%w: %s error response needs one error code byte", ErrMalformedPayload, m.Kind)
		}
		m.Code = ErrorCode(rest[0])
		return m, nil
	}

	if len(rest) != length {
		return Message{}, fmt.Errorf("%w: payloadLength %d but %d bytes follow", ErrMalformedPayload, length, len(rest))
	}
	if length > 0 {
		m.Payload = make([]byte, length)
		copy(m.Payload, rest)
	}
	return m, nil
}

// ErrorResponse builds the error reply to req. The reply kind is the
// response kind for req and the code is derived from err.
func ErrorResponse(req Message, err error) (Message, bool) {
	kind, ok := req.Kind.ResponseKind()
	if !ok {
		return Message{}, false
	}
	code := CodeOf(err)
	if code == CodeNone {
		return Message{}, false
	}
	return Message{
		Seq:      req.Seq,
		Kind:     kind,
		Object:   req.Object,
		Property: req.Property,
		Code:     code,
	}, true
}
