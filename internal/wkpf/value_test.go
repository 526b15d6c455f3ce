package wkpf

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

// ─── Encode / Decode ───────────────────────────────────────────────

func TestEncodeWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   ValueType
		want  []byte
	}{
		{"boolean true", true, TypeBoolean, []byte{0x01}},
		{"boolean false", false, TypeBoolean, []byte{0x00}},
		{"byte", uint8(0xAB), TypeByte, []byte{0xAB}},
		{"short negative", int16(-2), TypeShort, []byte{0xFF, 0xFE}},
		{"short big-endian", int16(0x1234), TypeShort, []byte{0x12, 0x34}},
		{"int", int32(0x01020304), TypeInt, []byte{0x01, 0x02, 0x03, 0x04}},
		{"refresh rate", uint16(1000), TypeRefreshRate, []byte{0x03, 0xE8}},
		{"byte list", []uint8{3, 7, 9}, TypeByteList, []byte{0x03, 3, 7, 9}},
		{"empty byte list", []uint8{}, TypeByteList, []byte{0x00}},
		{"short list", []int16{1, -1}, TypeShortList, []byte{0x02, 0x00, 0x01, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	longBytes := make([]uint8, 253)
	for i := range longBytes {
		longBytes[i] = uint8(i)
	}
	longShorts := make([]int16, 126)
	for i := range longShorts {
		longShorts[i] = int16(i * -257)
	}

	tests := []struct {
		name  string
		value any
		typ   ValueType
	}{
		{"true", true, TypeBoolean},
		{"false", false, TypeBoolean},
		{"byte zero", uint8(0), TypeByte},
		{"byte max", uint8(math.MaxUint8), TypeByte},
		{"short min", int16(math.MinInt16), TypeShort},
		{"short max", int16(math.MaxInt16), TypeShort},
		{"int min", int32(math.MinInt32), TypeInt},
		{"int max", int32(math.MaxInt32), TypeInt},
		{"refresh rate max", uint16(math.MaxUint16), TypeRefreshRate},
		{"byte list", []uint8{3, 7, 9}, TypeByteList},
		{"empty byte list", []uint8{}, TypeByteList},
		{"longest byte list", longBytes, TypeByteList},
		{"short list", []int16{-32768, 0, 32767}, TypeShortList},
		{"longest short list", longShorts, TypeShortList},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data, tt.typ)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("round trip = %#v, want %#v", got, tt.value)
			}

			typed, err := EncodeTyped(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("EncodeTyped() error = %v", err)
			}
			gotType, gotValue, err := DecodeTyped(typed)
			if err != nil {
				t.Fatalf("DecodeTyped() error = %v", err)
			}
			if gotType != tt.typ || !reflect.DeepEqual(gotValue, tt.value) {
				t.Errorf("typed round trip = (%s, %#v), want (%s, %#v)", gotType, gotValue, tt.typ, tt.value)
			}
		})
	}
}

func TestEncodeTypeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   ValueType
	}{
		{"int for boolean", 1, TypeBoolean},
		{"int16 for byte", int16(1), TypeByte},
		{"int for short", 1, TypeShort},
		{"int64 for int", int64(1), TypeInt},
		{"byte list for short list", []uint8{1}, TypeShortList},
		{"string for byte list", "abc", TypeByteList},
		{"nil", nil, TypeByte},
		{"unknown type", uint8(1), ValueType(0x7F)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value, tt.typ)
			if !errors.Is(err, ErrTypeMismatch) {
				t.Errorf("Encode() error = %v, want ErrTypeMismatch", err)
			}
		})
	}
}

func TestEncodeOversizeList(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   ValueType
	}{
		{"byte list of 254", make([]uint8, 254), TypeByteList},
		{"byte list of 300", make([]uint8, 300), TypeByteList},
		{"short list of 127", make([]int16, 127), TypeShortList},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value, tt.typ)
			if !errors.Is(err, ErrPayloadTooLarge) {
				t.Errorf("Encode() error = %v, want ErrPayloadTooLarge", err)
			}
			if got != nil {
				t.Errorf("Encode() returned %d bytes, want none", len(got))
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		typ  ValueType
	}{
		{"empty boolean", nil, TypeBoolean},
		{"short too short", []byte{0x01}, TypeShort},
		{"int too long", []byte{1, 2, 3, 4, 5}, TypeInt},
		{"list missing count", nil, TypeByteList},
		{"list count exceeds bytes", []byte{0x05, 1, 2}, TypeByteList},
		{"list trailing bytes", []byte{0x01, 1, 2}, TypeByteList},
		{"short list odd body", []byte{0x01, 0x00}, TypeShortList},
		{"unknown type", []byte{0x00}, ValueType(0x7F)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.typ)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("Decode() error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestDecodeTypedMissingTag(t *testing.T) {
	if _, _, err := DecodeTyped(nil); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeTyped(nil) error = %v, want ErrMalformedPayload", err)
	}
}

// ─── Coerce ────────────────────────────────────────────────────────

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		typ     ValueType
		want    any
		wantErr error
	}{
		{"json number to byte", float64(7), TypeByte, uint8(7), nil},
		{"json number to short", float64(-300), TypeShort, int16(-300), nil},
		{"json number to int", float64(100000), TypeInt, int32(100000), nil},
		{"json number to refresh rate", float64(500), TypeRefreshRate, uint16(500), nil},
		{"json bool", true, TypeBoolean, true, nil},
		{"number to bool", float64(1), TypeBoolean, true, nil},
		{"json array to byte list", []any{float64(3), float64(7), float64(9)}, TypeByteList, []uint8{3, 7, 9}, nil},
		{"yaml ints to short list", []any{1, -2}, TypeShortList, []int16{1, -2}, nil},
		{"already typed", []uint8{1}, TypeByteList, []uint8{1}, nil},
		{"fraction", float64(1.5), TypeByte, nil, ErrTypeMismatch},
		{"byte overflow", float64(256), TypeByte, nil, ErrTypeMismatch},
		{"negative refresh rate", float64(-1), TypeRefreshRate, nil, ErrTypeMismatch},
		{"string", "1", TypeInt, nil, ErrTypeMismatch},
		{"list element overflow", []any{float64(999)}, TypeByteList, nil, ErrTypeMismatch},
		{"oversize typed list", make([]uint8, 254), TypeByteList, nil, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.raw, tt.typ)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Coerce() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Coerce() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// ─── Type names ────────────────────────────────────────────────────

func TestParseValueType(t *testing.T) {
	tests := []struct {
		in   string
		want ValueType
	}{
		{"boolean", TypeBoolean},
		{"BOOL", TypeBoolean},
		{"short", TypeShort},
		{"int32", TypeInt},
		{"refresh_rate", TypeRefreshRate},
		{"byte_list", TypeByteList},
		{"array", TypeByteList},
		{" short_list ", TypeShortList},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValueType(tt.in)
			if err != nil {
				t.Fatalf("ParseValueType(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseValueType(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseValueType("float"); !errors.Is(err, ErrInvalidClass) {
		t.Errorf("ParseValueType(float) error = %v, want ErrInvalidClass", err)
	}
}

func TestParseAccessMode(t *testing.T) {
	tests := []struct {
		in   string
		want AccessMode
	}{
		{"readwrite", ReadWrite},
		{"read_only", ReadOnly},
		{"Write-Only", WriteOnly},
		{"report only", ReportOnly},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccessMode(tt.in)
			if err != nil {
				t.Fatalf("ParseAccessMode(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAccessMode(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSONValueByteList(t *testing.T) {
	data, err := json.Marshal(JSONValue([]uint8{3, 7, 9}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "[3,7,9]" {
		t.Errorf("got %s, want [3,7,9]", data)
	}

	if got := JSONValue(int16(-4)); got != int16(-4) {
		t.Errorf("scalar changed: %v", got)
	}
}
