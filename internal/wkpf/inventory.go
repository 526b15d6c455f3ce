package wkpf

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Entry sizes in inventory payloads.
const (
	classEntrySize  = 2
	objectEntrySize = 3
	announceFixed   = 2

	// maxClassEntries and maxObjectEntries keep a list inside MaxPayload.
	maxClassEntries  = (MaxPayload - 1) / classEntrySize
	maxObjectEntries = (MaxPayload - 1) / objectEntrySize
)

// ObjectEntry is one element of an OBJECT_LIST_RESPONSE.
type ObjectEntry struct {
	ID      uint8  `json:"id"`
	ClassID uint16 `json:"class_id"`
}

// EncodeClassList encodes class identifiers as count, then classID:2 each.
func EncodeClassList(ids []uint16) ([]byte, error) {
	if len(ids) > maxClassEntries {
		return nil, fmt.Errorf("%w: %d classes, limit %d", ErrPayloadTooLarge, len(ids), maxClassEntries)
	}
	out := make([]byte, 0, 1+classEntrySize*len(ids))
	out = append(out, byte(len(ids)))
	for _, id := range ids {
		out = binary.BigEndian.AppendUint16(out, id)
	}
	return out, nil
}

// DecodeClassList decodes a CLASS_LIST_RESPONSE payload.
func DecodeClassList(data []byte) ([]uint16, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: class list missing count", ErrMalformedPayload)
	}
	count := int(data[0])
	if len(data) != 1+count*classEntrySize {
		return nil, fmt.Errorf("%w: class list count %d does not match %d bytes", ErrMalformedPayload, count, len(data))
	}
	ids := make([]uint16, count)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint16(data[1+i*classEntrySize:])
	}
	return ids, nil
}

// EncodeObjectList encodes objects as count, then objectID:1 classID:2 each.
func EncodeObjectList(entries []ObjectEntry) ([]byte, error) {
	if len(entries) > maxObjectEntries {
		return nil, fmt.Errorf("%w: %d objects, limit %d", ErrPayloadTooLarge, len(entries), maxObjectEntries)
	}
	out := make([]byte, 0, 1+objectEntrySize*len(entries))
	out = append(out, byte(len(entries)))
	for _, e := range entries {
		out = append(out, e.ID)
		out = binary.BigEndian.AppendUint16(out, e.ClassID)
	}
	return out, nil
}

// DecodeObjectList decodes an OBJECT_LIST_RESPONSE payload.
func DecodeObjectList(data []byte) ([]ObjectEntry, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: object list missing count", ErrMalformedPayload)
	}
	count := int(data[0])
	if len(data) != 1+count*objectEntrySize {
		return nil, fmt.Errorf("%w: object list count %d does not match %d bytes", ErrMalformedPayload, count, len(data))
	}
	entries := make([]ObjectEntry, count)
	for i := range entries {
		off := 1 + i*objectEntrySize
		entries[i] = ObjectEntry{
			ID:      data[off],
			ClassID: binary.BigEndian.Uint16(data[off+1:]),
		}
	}
	return entries, nil
}

// Announce is the payload of NODE_ANNOUNCE, sent by a device at startup and
// after a reset.
type Announce struct {
	ClassCount  uint8
	ObjectCount uint8
	Name        string
}

// MarshalBinary encodes the announce payload.
func (a Announce) MarshalBinary() ([]byte, error) {
	if len(a.Name) > MaxPayload-announceFixed {
		return nil, fmt.Errorf("%w: device name is %d bytes", ErrPayloadTooLarge, len(a.Name))
	}
	out := make([]byte, 0, announceFixed+len(a.Name))
	out = append(out, a.ClassCount, a.ObjectCount)
	return append(out, a.Name...), nil
}

// ParseAnnounce decodes a NODE_ANNOUNCE payload.
func ParseAnnounce(data []byte) (Announce, error) {
	if len(data) < announceFixed {
		return Announce{}, fmt.Errorf("%w: announce needs %d bytes, got %d", ErrMalformedPayload, announceFixed, len(data))
	}
	name := data[announceFixed:]
	if !utf8.Valid(name) {
		return Announce{}, fmt.Errorf("%w: device name is not UTF-8", ErrMalformedPayload)
	}
	return Announce{
		ClassCount:  data[0],
		ObjectCount: data[1],
		Name:        string(name),
	}, nil
}
