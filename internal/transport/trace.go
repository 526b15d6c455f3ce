package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Trace directions.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// TraceRecord is one datagram in a wire trace.
type TraceRecord struct {
	Time      time.Time `cbor:"1,keyasint"`
	Direction string    `cbor:"2,keyasint"`
	Addr      string    `cbor:"3,keyasint"`
	Frame     []byte    `cbor:"4,keyasint"`
}

var (
	traceEncMode cbor.EncMode
	traceDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	traceEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	traceDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// Tracer writes a CBOR stream of trace records.
// It is safe for concurrent use.
type Tracer struct {
	mu      sync.Mutex
	encoder *cbor.Encoder
	closer  io.Closer
	closed  bool
}

// NewTracer creates a tracer writing to w.
func NewTracer(w io.Writer) *Tracer {
	t := &Tracer{encoder: traceEncMode.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// OpenTraceFile creates a tracer appending to the file at path.
func OpenTraceFile(path string) (*Tracer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec,mnd // trace files are not secret
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return NewTracer(f), nil
}

// Record appends one record. Encoding errors are ignored so tracing never
// disturbs traffic.
func (t *Tracer) Record(direction, addr string, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	_ = t.encoder.Encode(TraceRecord{
		Time:      time.Now().UTC(),
		Direction: direction,
		Addr:      addr,
		Frame:     frame,
	})
}

// Close closes the underlying writer if it is closable. Safe to call
// multiple times.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// ReadTrace decodes all records from a trace stream.
func ReadTrace(r io.Reader) ([]TraceRecord, error) {
	dec := traceDecMode.NewDecoder(r)
	var out []TraceRecord
	for {
		var rec TraceRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decoding trace record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

// traced records every datagram passing through a transport.
type traced struct {
	Transport
	tracer *Tracer
}

// WithTrace returns a transport that records all sent and received
// datagrams to tracer.
func WithTrace(t Transport, tracer *Tracer) Transport {
	return &traced{Transport: t, tracer: tracer}
}

func (t *traced) Send(ctx context.Context, to string, data []byte) error {
	if err := t.Transport.Send(ctx, to, data); err != nil {
		return err
	}
	t.tracer.Record(DirectionTx, to, data)
	return nil
}

func (t *traced) SetHandler(h Handler) {
	if h == nil {
		t.Transport.SetHandler(nil)
		return
	}
	t.Transport.SetHandler(func(from string, data []byte) {
		t.tracer.Record(DirectionRx, from, data)
		h(from, data)
	})
}
