package wkpf

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

// ─── Message encoding ──────────────────────────────────────────────

func TestMessageMarshalLayout(t *testing.T) {
	msg := Message{
		Seq:      0x0102,
		Kind:     KindGetResponse,
		Object:   1,
		Property: 0,
		Payload:  []byte{byte(TypeByteList), 0x03, 3, 7, 9},
	}

	got, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	want := []byte{0x01, 0x02, 0x02, 0x01, 0x00, 0x05, 0x10, 0x03, 3, 7, 9}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalBinary() = % X, want % X", got, want)
	}
}

func TestMessageErrorResponseLayout(t *testing.T) {
	msg := Message{Seq: 7, Kind: KindSetAck, Object: 2, Property: 1, Code: CodeAccessDenied}

	got, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	want := []byte{0x00, 0x07, 0x04, 0x02, 0x01, 0x00, 0x03}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalBinary() = % X, want % X", got, want)
	}

	parsed, err := ParseMessage(got)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if !parsed.IsError() || !errors.Is(parsed.Err(), ErrAccessDenied) {
		t.Errorf("parsed error = %v, want ErrAccessDenied", parsed.Err())
	}
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"get request", Message{Seq: 1, Kind: KindGetRequest, Object: 1, Property: 0}},
		{"set request", Message{Seq: 65535, Kind: KindSetRequest, Object: 3, Property: 2, Payload: []byte{0x01, 0x2A}}},
		{"property update", Message{Seq: 9, Kind: KindPropertyUpdate, Object: 4, Property: 1, Payload: []byte{0x00, 0x01}}},
		{"mode control", Message{Kind: KindModeControl, Payload: []byte{byte(ModeAdd)}}},
		{"error response", Message{Seq: 5, Kind: KindGetResponse, Object: 9, Code: CodeUnknownObject}},
		{"full payload", Message{Seq: 2, Kind: KindSetRequest, Payload: bytes.Repeat([]byte{0xEE}, MaxPayload)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}
			got, err := ParseMessage(data)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestMessageMarshalRejects(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"payload too large", Message{Kind: KindSetRequest, Payload: make([]byte, MaxPayload+1)}, ErrPayloadTooLarge},
		{"empty response payload", Message{Kind: KindGetResponse}, ErrMalformedPayload},
		{"error code on request", Message{Kind: KindGetRequest, Code: CodeAccessDenied}, ErrMalformedPayload},
		{"error with payload", Message{Kind: KindSetAck, Code: CodeAccessDenied, Payload: []byte{1}}, ErrMalformedPayload},
		{"unknown kind", Message{Kind: Kind(0xEE)}, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.msg.MarshalBinary(); !errors.Is(err, tt.wantErr) {
				t.Errorf("MarshalBinary() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x00, 0x01, 0x01}},
		{"unknown kind", []byte{0x00, 0x01, 0xEE, 0x01, 0x00, 0x00}},
		{"length exceeds data", []byte{0x00, 0x01, 0x03, 0x01, 0x00, 0x04, 0x01}},
		{"trailing bytes", []byte{0x00, 0x01, 0x01, 0x01, 0x00, 0x00, 0xFF}},
		{"error response without code", []byte{0x00, 0x01, 0x02, 0x01, 0x00, 0x00}},
		{"error response with zero code", []byte{0x00, 0x01, 0x02, 0x01, 0x00, 0x00, 0x00}},
		{"error response with extra bytes", []byte{0x00, 0x01, 0x02, 0x01, 0x00, 0x00, 0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage(tt.data); !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("ParseMessage() error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	req := Message{Seq: 42, Kind: KindSetRequest, Object: 1, Property: 3}

	resp, ok := ErrorResponse(req, ErrUnknownProperty)
	if !ok {
		t.Fatal("ErrorResponse() ok = false")
	}
	if resp.Seq != 42 || resp.Kind != KindSetAck || resp.Code != CodeUnknownProperty {
		t.Errorf("ErrorResponse() = %+v", resp)
	}

	if _, ok := ErrorResponse(Message{Kind: KindPropertyUpdate}, ErrUnknownObject); ok {
		t.Error("ErrorResponse() for PROPERTY_UPDATE ok = true, want false")
	}
	if _, ok := ErrorResponse(req, errors.New("disk on fire")); ok {
		t.Error("ErrorResponse() for non-protocol error ok = true, want false")
	}
}

func TestErrorCodeMapping(t *testing.T) {
	for code, sentinel := range codeErrors {
		t.Run(code.String(), func(t *testing.T) {
			if got := CodeOf(sentinel); got != code {
				t.Errorf("CodeOf(%v) = %s, want %s", sentinel, got, code)
			}
			if got := code.Err(); !errors.Is(got, sentinel) {
				t.Errorf("%s.Err() = %v, want %v", code, got, sentinel)
			}
		})
	}
	if CodeOf(nil) != CodeNone {
		t.Error("CodeOf(nil) != CodeNone")
	}
}

// ─── Inventory payloads ────────────────────────────────────────────

func TestClassListRoundTrip(t *testing.T) {
	ids := []uint16{1, 0x0102, 0xFFFF}
	data, err := EncodeClassList(ids)
	if err != nil {
		t.Fatalf("EncodeClassList() error = %v", err)
	}
	if want := []byte{3, 0x00, 0x01, 0x01, 0x02, 0xFF, 0xFF}; !bytes.Equal(data, want) {
		t.Errorf("EncodeClassList() = % X, want % X", data, want)
	}
	got, err := DecodeClassList(data)
	if err != nil {
		t.Fatalf("DecodeClassList() error = %v", err)
	}
	if !reflect.DeepEqual(got, ids) {
		t.Errorf("DecodeClassList() = %v, want %v", got, ids)
	}

	if _, err := DecodeClassList([]byte{2, 0x00, 0x01}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeClassList(short) error = %v, want ErrMalformedPayload", err)
	}
}

func TestObjectListRoundTrip(t *testing.T) {
	entries := []ObjectEntry{{ID: 1, ClassID: 1}, {ID: 2, ClassID: 0x0203}}
	data, err := EncodeObjectList(entries)
	if err != nil {
		t.Fatalf("EncodeObjectList() error = %v", err)
	}
	got, err := DecodeObjectList(data)
	if err != nil {
		t.Fatalf("DecodeObjectList() error = %v", err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Errorf("DecodeObjectList() = %v, want %v", got, entries)
	}

	if _, err := EncodeObjectList(make([]ObjectEntry, maxObjectEntries+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("EncodeObjectList(oversize) error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestAnnounceRoundTrip(t *testing.T) {
	a := Announce{ClassCount: 1, ObjectCount: 1, Name: "arrayrx-3000"}
	data, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	got, err := ParseAnnounce(data)
	if err != nil {
		t.Fatalf("ParseAnnounce() error = %v", err)
	}
	if got != a {
		t.Errorf("ParseAnnounce() = %+v, want %+v", got, a)
	}

	if _, err := ParseAnnounce([]byte{1}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("ParseAnnounce(short) error = %v, want ErrMalformedPayload", err)
	}
}
