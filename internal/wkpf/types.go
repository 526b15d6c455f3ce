package wkpf

import (
	"fmt"
	"strings"
)

// ValueType identifies the declared type of a property slot. The byte value
// is also the type tag that prefixes a typed payload on the wire.
type ValueType uint8

// Supported property types.
const (
	TypeBoolean     ValueType = 0x00 // bool, 1 byte
	TypeByte        ValueType = 0x01 // uint8
	TypeShort       ValueType = 0x02 // int16, big-endian
	TypeInt         ValueType = 0x03 // int32, big-endian
	TypeRefreshRate ValueType = 0x04 // uint16 milliseconds, big-endian
	TypeByteList    ValueType = 0x10 // []uint8 with count prefix
	TypeShortList   ValueType = 0x11 // []int16 with count prefix
)

var typeNames = map[ValueType]string{
	TypeBoolean:     "boolean",
	TypeByte:        "byte",
	TypeShort:       "short",
	TypeInt:         "int",
	TypeRefreshRate: "refresh_rate",
	TypeByteList:    "byte_list",
	TypeShortList:   "short_list",
}

// String returns the lowercase name of the type.
func (t ValueType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Valid reports whether t is a supported type.
func (t ValueType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsList reports whether t is a list type.
func (t ValueType) IsList() bool {
	return t == TypeByteList || t == TypeShortList
}

// elemSize is the encoded width of a scalar or of one list element.
func (t ValueType) elemSize() int {
	switch t {
	case TypeBoolean, TypeByte, TypeByteList:
		return 1
	case TypeShort, TypeRefreshRate, TypeShortList:
		return 2 //nolint:mnd // 16-bit width
	case TypeInt:
		return 4 //nolint:mnd // 32-bit width
	default:
		return 0
	}
}

// ParseValueType parses a type name as used in class-library files and
// API requests.
func ParseValueType(s string) (ValueType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	// Aliases used by older class libraries.
	switch name {
	case "bool":
		return TypeBoolean, nil
	case "int16":
		return TypeShort, nil
	case "int32":
		return TypeInt, nil
	case "refresh_rate_ms", "refreshrate":
		return TypeRefreshRate, nil
	case "array", "byte_array":
		return TypeByteList, nil
	}
	return 0, fmt.Errorf("%w: unknown value type %q", ErrInvalidClass, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ValueType) UnmarshalText(text []byte) error {
	v, err := ParseValueType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t ValueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// AccessMode declares which operations a slot permits.
type AccessMode uint8

// Access modes.
const (
	// ReadWrite slots accept GET and SET.
	ReadWrite AccessMode = iota
	// ReadOnly slots accept GET only.
	ReadOnly
	// WriteOnly slots accept SET only.
	WriteOnly
	// ReportOnly slots accept GET only and push PROPERTY_UPDATE when the
	// hosting behavior reports a new value.
	ReportOnly
)

var accessNames = map[AccessMode]string{
	ReadWrite:  "readwrite",
	ReadOnly:   "readonly",
	WriteOnly:  "writeonly",
	ReportOnly: "reportonly",
}

// String returns the lowercase name of the mode.
func (a AccessMode) String() string {
	if name, ok := accessNames[a]; ok {
		return name
	}
	return fmt.Sprintf("access(%d)", uint8(a))
}

// Valid reports whether a is a known access mode.
func (a AccessMode) Valid() bool {
	_, ok := accessNames[a]
	return ok
}

// CanRead reports whether GET is permitted.
func (a AccessMode) CanRead() bool {
	return a != WriteOnly
}

// CanWrite reports whether SET over the wire is permitted.
func (a AccessMode) CanWrite() bool {
	return a == ReadWrite || a == WriteOnly
}

// ParseAccessMode parses an access mode name. Separators are ignored so
// "read_only", "read-only" and "readonly" are equivalent.
func ParseAccessMode(s string) (AccessMode, error) {
	name := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	for a, n := range accessNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown access mode %q", ErrInvalidClass, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccessMode) UnmarshalText(text []byte) error {
	v, err := ParseAccessMode(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a AccessMode) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Slot describes one property of a class.
type Slot struct {
	// Index is the 0-based position of the slot in its class.
	Index uint8 `json:"index" yaml:"index"`

	// Name is informational only; the wire addresses slots by Index.
	Name string `json:"name,omitempty" yaml:"name"`

	Type   ValueType  `json:"type" yaml:"type"`
	Access AccessMode `json:"access" yaml:"access"`
}
