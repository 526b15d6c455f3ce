package wkpf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Payload size limits.
const (
	// MaxPayload is the largest payload a single message can carry, bounded
	// by the one-byte payloadLength header field.
	MaxPayload = 255

	// MaxValueSize is the largest encoded value. One byte of the payload is
	// taken by the type tag.
	MaxValueSize = MaxPayload - 1

	// maxListCount is the largest count the one-byte list prefix can express.
	maxListCount = 255
)

// Encode encodes v using the wire representation of t.
//
// The Go type of v must match t exactly:
//
//	TypeBoolean     bool
//	TypeByte        uint8
//	TypeShort       int16
//	TypeInt         int32
//	TypeRefreshRate uint16
//	TypeByteList    []uint8
//	TypeShortList   []int16
//
// Scalars are fixed-width big-endian. Lists are a one-byte count followed by
// fixed-width elements.
//
// Returns:
//   - []byte: Encoded value
//   - error: ErrTypeMismatch if v does not match t, ErrPayloadTooLarge if the
//     list does not fit in one datagram
func Encode(v any, t ValueType) ([]byte, error) {
	switch t {
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(v, t)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeByte:
		b, ok := v.(uint8)
		if !ok {
			return nil, mismatch(v, t)
		}
		return []byte{b}, nil

	case TypeShort:
		s, ok := v.(int16)
		if !ok {
			return nil, mismatch(v, t)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(s)), nil

	case TypeInt:
		i, ok := v.(int32)
		if !ok {
			return nil, mismatch(v, t)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(i)), nil

	case TypeRefreshRate:
		r, ok := v.(uint16)
		if !ok {
			return nil, mismatch(v, t)
		}
		return binary.BigEndian.AppendUint16(nil, r), nil

	case TypeByteList:
		list, ok := v.([]uint8)
		if !ok {
			return nil, mismatch(v, t)
		}
		if err := checkListSize(len(list), t); err != nil {
			return nil, err
		}
		out := make([]byte, 0, 1+len(list))
		out = append(out, byte(len(list)))
		return append(out, list...), nil

	case TypeShortList:
		list, ok := v.([]int16)
		if !ok {
			return nil, mismatch(v, t)
		}
		if err := checkListSize(len(list), t); err != nil {
			return nil, err
		}
		out := make([]byte, 0, 1+2*len(list))
		out = append(out, byte(len(list)))
		for _, s := range list {
			out = binary.BigEndian.AppendUint16(out, uint16(s))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrTypeMismatch, t)
	}
}

// Decode decodes data as a value of type t. The length of data must be
// exactly the length the type implies.
//
// Returns:
//   - any: Decoded value with the Go type listed on Encode
//   - error: ErrMalformedPayload if the length is inconsistent with t
func Decode(data []byte, t ValueType) (any, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unsupported type %s", ErrMalformedPayload, t)
	}

	if t.IsList() {
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: %s requires a count byte", ErrMalformedPayload, t)
		}
		count := int(data[0])
		want := 1 + count*t.elemSize()
		if len(data) != want {
			return nil, fmt.Errorf("%w: %s with %d elements requires %d bytes, got %d",
				ErrMalformedPayload, t, count, want, len(data))
		}
		body := data[1:]
		if t == TypeByteList {
			out := make([]uint8, count)
			copy(out, body)
			return out, nil
		}
		out := make([]int16, count)
		for i := range out {
			out[i] = int16(binary.BigEndian.Uint16(body[2*i:]))
		}
		return out, nil
	}

	if len(data) != t.elemSize() {
		return nil, fmt.Errorf("%w: %s requires %d bytes, got %d",
			ErrMalformedPayload, t, t.elemSize(), len(data))
	}

	switch t {
	case TypeBoolean:
		return data[0] != 0, nil
	case TypeByte:
		return data[0], nil
	case TypeShort:
		return int16(binary.BigEndian.Uint16(data)), nil
	case TypeInt:
		return int32(binary.BigEndian.Uint32(data)), nil
	default: // TypeRefreshRate
		return binary.BigEndian.Uint16(data), nil
	}
}

// EncodeTyped encodes v prefixed with the type tag of t. This is the payload
// format of GET_RESPONSE, SET_REQUEST, SET_ACK and PROPERTY_UPDATE.
func EncodeTyped(v any, t ValueType) ([]byte, error) {
	body, err := Encode(v, t)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(t))
	return append(out, body...), nil
}

// DecodeTyped decodes a tag-prefixed payload.
func DecodeTyped(data []byte) (ValueType, any, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: missing type tag", ErrMalformedPayload)
	}
	t := ValueType(data[0])
	v, err := Decode(data[1:], t)
	if err != nil {
		return 0, nil, err
	}
	return t, v, nil
}

// ZeroValue returns the initial value of a slot of type t.
func ZeroValue(t ValueType) any {
	switch t {
	case TypeBoolean:
		return false
	case TypeByte:
		return uint8(0)
	case TypeShort:
		return int16(0)
	case TypeInt:
		return int32(0)
	case TypeRefreshRate:
		return uint16(0)
	case TypeByteList:
		return []uint8{}
	case TypeShortList:
		return []int16{}
	default:
		return nil
	}
}

// JSONValue returns v in a form that encodes as a JSON number array when v
// is a byte list; encoding/json would otherwise emit base64.
func JSONValue(v any) any {
	if b, ok := v.([]uint8); ok {
		out := make([]int, len(b))
		for i, x := range b {
			out[i] = int(x)
		}
		return out
	}
	return v
}

// CheckType reports whether v has the Go type required by t, including the
// list size limit.
func CheckType(v any, t ValueType) error {
	_, err := Encode(v, t)
	return err
}

// Coerce converts a loosely typed value, as produced by JSON or YAML
// decoding, to the Go type required by t. Numbers must be integral and in
// range.
func Coerce(raw any, t ValueType) (any, error) {
	err := CheckType(raw, t)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return nil, err
	}

	switch t {
	case TypeBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		default:
			n, err := integral(raw, t)
			if err != nil {
				return nil, err
			}
			return n != 0, nil
		}

	case TypeByte, TypeShort, TypeInt, TypeRefreshRate:
		n, err := integral(raw, t)
		if err != nil {
			return nil, err
		}
		return scalarFromInt(n, t)

	case TypeByteList, TypeShortList:
		items, ok := raw.([]any)
		if !ok {
			return nil, mismatch(raw, t)
		}
		elemType := TypeByte
		if t == TypeShortList {
			elemType = TypeShort
		}
		if err := checkListSize(len(items), t); err != nil {
			return nil, err
		}
		if t == TypeByteList {
			out := make([]uint8, len(items))
			for i, item := range items {
				n, err := integral(item, elemType)
				if err != nil {
					return nil, err
				}
				v, err := scalarFromInt(n, elemType)
				if err != nil {
					return nil, err
				}
				out[i] = v.(uint8)
			}
			return out, nil
		}
		out := make([]int16, len(items))
		for i, item := range items {
			n, err := integral(item, elemType)
			if err != nil {
				return nil, err
			}
			v, err := scalarFromInt(n, elemType)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int16)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: unsupported type %s", ErrTypeMismatch, t)
}

func integral(raw any, t ValueType) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%w: %v is not an integer for %s", ErrTypeMismatch, n, t)
		}
		return int64(n), nil
	default:
		return 0, mismatch(raw, t)
	}
}

func scalarFromInt(n int64, t ValueType) (any, error) {
	var lo, hi int64
	switch t {
	case TypeByte:
		lo, hi = 0, math.MaxUint8
	case TypeShort:
		lo, hi = math.MinInt16, math.MaxInt16
	case TypeInt:
		lo, hi = math.MinInt32, math.MaxInt32
	case TypeRefreshRate:
		lo, hi = 0, math.MaxUint16
	}
	if n < lo || n > hi {
		return nil, fmt.Errorf("%w: %d out of range for %s", ErrTypeMismatch, n, t)
	}
	switch t {
	case TypeByte:
		return uint8(n), nil
	case TypeShort:
		return int16(n), nil
	case TypeInt:
		return int32(n), nil
	default:
		return uint16(n), nil
	}
}

func checkListSize(count int, t ValueType) error {
	size := 1 + count*t.elemSize()
	if count > maxListCount || size > MaxValueSize {
		return fmt.Errorf("%w: %s with %d elements encodes to %d bytes, limit %d",
			ErrPayloadTooLarge, t, count, size, MaxValueSize)
	}
	return nil
}

func mismatch(v any, t ValueType) error {
	return fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, v, t)
}
