package wkpf

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ModeHandler handles MODE_CONTROL messages addressed to this node.
type ModeHandler func(mode Mode)

// MessageHandler receives messages that are not requests, such as
// NODE_ANNOUNCE_ACK.
type MessageHandler func(msg Message)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Name is reported in NODE_ANNOUNCE.
	Name string

	// OnMode is called for MODE_CONTROL messages. Optional.
	OnMode ModeHandler

	// OnMessage is called for inbound messages that need no reply. Optional.
	OnMessage MessageHandler

	// Logger receives debug output for dropped datagrams. Optional.
	Logger Logger
}

// DispatchStats holds dispatcher counters.
type DispatchStats struct {
	Received uint64
	Dropped  uint64
	Replied  uint64
	Rejected uint64
	Updates  uint64
}

// Dispatcher turns inbound datagrams into calls on the object table and
// encodes the replies. Each datagram runs through
// Decode → Validate → Route → Execute → Encode-Reply.
//
// Thread Safety: Handle may be called concurrently, although a device
// runtime feeds it from a single receive loop.
type Dispatcher struct {
	registry *ClassRegistry
	table    *ObjectTable
	opts     DispatcherOptions
	logger   Logger

	updateSeq atomic.Uint32

	received atomic.Uint64
	dropped  atomic.Uint64
	replied  atomic.Uint64
	rejected atomic.Uint64
	updates  atomic.Uint64
}

// NewDispatcher creates a dispatcher. The registry must already be sealed.
//
// Returns:
//   - *Dispatcher: Ready to handle datagrams
//   - error: ErrRegistryNotSealed if registration is still open
func NewDispatcher(registry *ClassRegistry, table *ObjectTable, opts DispatcherOptions) (*Dispatcher, error) {
	if !registry.Sealed() {
		return nil, ErrRegistryNotSealed
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		registry: registry,
		table:    table,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Handle processes one inbound datagram and returns the encoded reply, or
// nil when no reply is due. Malformed datagrams are dropped silently.
// Validation failures produce an error response with the request's
// sequence number.
func (d *Dispatcher) Handle(datagram []byte) []byte {
	d.received.Add(1)

	msg, err := ParseMessage(datagram)
	if err != nil {
		d.drop("decode failed", err)
		return nil
	}

	if !msg.Kind.IsRequest() {
		d.route(msg)
		return nil
	}

	reply, err := d.execute(msg)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			d.drop("malformed request", err, "seq", msg.Seq, "kind", msg.Kind.String())
			return nil
		}
		errMsg, ok := ErrorResponse(msg, err)
		if !ok {
			d.logger.Error("request failed without protocol code",
				"seq", msg.Seq, "kind", msg.Kind.String(), "error", err)
			return nil
		}
		d.rejected.Add(1)
		reply = errMsg
	}

	out, err := reply.MarshalBinary()
	if err != nil {
		// A reply that cannot be encoded is reported as a type mismatch.
		d.logger.Error("encoding reply failed", "seq", msg.Seq, "kind", msg.Kind.String(), "error", err)
		errMsg, _ := ErrorResponse(msg, ErrTypeMismatch)
		out, err = errMsg.MarshalBinary()
		if err != nil {
			return nil
		}
	}
	d.replied.Add(1)
	return out
}

func (d *Dispatcher) drop(reason string, err error, keysAndValues ...any) {
	d.dropped.Add(1)
	d.logger.Debug("dropping datagram", append([]any{"reason", reason, "error", err}, keysAndValues...)...)
}

// route delivers messages that need no reply.
func (d *Dispatcher) route(msg Message) {
	switch msg.Kind {
	case KindModeControl:
		if len(msg.Payload) != 1 {
			d.drop("mode control payload", fmt.Errorf("%w: %d bytes", ErrMalformedPayload, len(msg.Payload)))
			return
		}
		if d.opts.OnMode != nil {
			d.opts.OnMode(Mode(msg.Payload[0]))
		}
	default:
		if d.opts.OnMessage != nil {
			d.opts.OnMessage(msg)
		}
	}
}

// execute validates and runs a request, returning the success reply.
func (d *Dispatcher) execute(req Message) (Message, error) {
	kind, _ := req.Kind.ResponseKind()
	reply := Message{
		Seq:      req.Seq,
		Kind:     kind,
		Object:   req.Object,
		Property: req.Property,
	}

	var err error
	switch req.Kind {
	case KindGetRequest:
		reply.Payload, err = d.get(req)
	case KindSetRequest:
		reply.Payload, err = d.set(req)
	case KindClassListRequest:
		reply.Payload, err = EncodeClassList(d.registry.ClassIDs())
	case KindObjectListRequest:
		reply.Payload, err = d.objectList()
	default:
		return Message{}, fmt.Errorf("%w: %s is not served by devices", ErrMalformedPayload, req.Kind)
	}
	if err != nil {
		return Message{}, err
	}
	return reply, nil
}

func (d *Dispatcher) get(req Message) ([]byte, error) {
	if len(req.Payload) != 0 {
		return nil, fmt.Errorf("%w: GET carries %d payload bytes", ErrMalformedPayload, len(req.Payload))
	}
	_, slot, err := d.table.lookup(req.Object, req.Property)
	if err != nil {
		return nil, err
	}
	value, err := d.table.GetProperty(req.Object, req.Property)
	if err != nil {
		return nil, err
	}
	return EncodeTyped(value, slot.Type)
}

func (d *Dispatcher) set(req Message) ([]byte, error) {
	_, slot, err := d.table.lookup(req.Object, req.Property)
	if err != nil {
		return nil, err
	}
	if !slot.Access.CanWrite() {
		return nil, fmt.Errorf("%w: object %d property %d is %s", ErrAccessDenied, req.Object, req.Property, slot.Access)
	}
	if len(req.Payload) < 1 {
		return nil, fmt.Errorf("%w: SET without value", ErrMalformedPayload)
	}
	if tag := ValueType(req.Payload[0]); tag != slot.Type {
		return nil, fmt.Errorf("%w: object %d property %d is %s, got %s",
			ErrTypeMismatch, req.Object, req.Property, slot.Type, tag)
	}
	_, value, err := DecodeTyped(req.Payload)
	if err != nil {
		return nil, err
	}
	if err := d.table.SetProperty(req.Object, req.Property, value); err != nil {
		return nil, err
	}
	// SET_ACK echoes the stored value.
	return EncodeTyped(value, slot.Type)
}

func (d *Dispatcher) objectList() ([]byte, error) {
	objects := d.table.Objects()
	entries := make([]ObjectEntry, len(objects))
	for i, obj := range objects {
		entries[i] = ObjectEntry{ID: obj.id, ClassID: obj.class.ID}
	}
	return EncodeObjectList(entries)
}

// Update encodes a PROPERTY_UPDATE for a reported change. The sequence
// field carries the next value of the runtime's update counter.
func (d *Dispatcher) Update(obj *Object, index uint8, value any) ([]byte, error) {
	slot, err := obj.class.Slot(index)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeTyped(value, slot.Type)
	if err != nil {
		return nil, err
	}
	msg := Message{
		Seq:      uint16(d.updateSeq.Add(1)),
		Kind:     KindPropertyUpdate,
		Object:   obj.id,
		Property: index,
		Payload:  payload,
	}
	d.updates.Add(1)
	return msg.MarshalBinary()
}

// Announce encodes a NODE_ANNOUNCE describing this runtime.
func (d *Dispatcher) Announce(seq uint16) ([]byte, error) {
	payload, err := Announce{
		ClassCount:  uint8(min(d.registry.Len(), maxObjectID)),
		ObjectCount: uint8(d.table.Len()),
		Name:        d.opts.Name,
	}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return Message{Seq: seq, Kind: KindNodeAnnounce, Payload: payload}.MarshalBinary()
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Received: d.received.Load(),
		Dropped:  d.dropped.Load(),
		Replied:  d.replied.Load(),
		Rejected: d.rejected.Load(),
		Updates:  d.updates.Load(),
	}
}
