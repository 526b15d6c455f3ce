package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/discovery"
	"github.com/wukong-iot/wkpf-gateway/internal/node"
	"github.com/wukong-iot/wkpf-gateway/internal/transport"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// Default client timings.
const (
	// defaultRequestTimeout is the deadline for one GET/SET attempt.
	defaultRequestTimeout = 5 * time.Second

	// defaultBrowseWindow bounds an mDNS browse during a forced refresh.
	defaultBrowseWindow = 3 * time.Second

	// maxSeqAttempts bounds the search for a free sequence number when the
	// 16-bit counter wraps onto an outstanding request.
	maxSeqAttempts = 16
)

// Logger is the logging interface used by the gateway package.
// *logging.Logger satisfies it.
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

// Directory is the node directory the client routes through.
// *node.SQLiteRepository implements it.
type Directory interface {
	Register(ctx context.Context, name, addr string, seen time.Time) (*node.Node, error)
	Get(ctx context.Context, id uint8) (*node.Node, error)
	GetByAddress(ctx context.Context, addr string) (*node.Node, error)
	List(ctx context.Context) ([]node.Node, error)
	SetLocation(ctx context.Context, id uint8, path string) error
	SetInventory(ctx context.Context, id uint8, classes []uint16, objects []wkpf.ObjectEntry) error
	Touch(ctx context.Context, id uint8, seen time.Time) error
}

// Browser finds advertised devices. *discovery.Browser implements it.
type Browser interface {
	Browse(ctx context.Context, window time.Duration) ([]discovery.Service, error)
}

// Metrics receives client instrumentation. *metrics.Gateway implements it.
type Metrics interface {
	RequestCompleted(kind, result string, elapsed time.Duration)
	PendingChanged(n int)
	UpdateReceived(duplicate bool)
	DatagramDropped(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RequestCompleted(string, string, time.Duration) {}
func (noopMetrics) PendingChanged(int)                             {}
func (noopMetrics) UpdateReceived(bool)                            {}
func (noopMetrics) DatagramDropped(string)                         {}

// Config holds comm client configuration.
type Config struct {
	// RequestTimeout is the deadline for each GET/SET attempt. Default: 5s.
	RequestTimeout time.Duration

	// Retry controls resends after a timeout. The zero value sends once.
	Retry RetryPolicy

	// DedupWindow is how long a (node, seq) update pair is remembered.
	// Default: 30s.
	DedupWindow time.Duration

	// BrowseWindow bounds the mDNS browse of a forced refresh. Default: 3s.
	BrowseWindow time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RequestTimeout < 0 || c.DedupWindow < 0 || c.BrowseWindow < 0 {
		return fmt.Errorf("%w: durations must be >= 0", ErrInvalidConfig)
	}
	return c.Retry.Validate()
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Config Config

	// Transport carries datagrams to and from nodes. Required.
	Transport transport.Transport

	// Directory resolves node IDs to addresses. Required.
	Directory Directory

	// Controller is the local controller console. Optional; controller
	// operations return ErrControllerUnavailable without it.
	Controller *Controller

	// Browser enables mDNS discovery during forced refreshes. Optional.
	Browser Browser

	// Metrics is optional instrumentation.
	Metrics Metrics

	// Logger is optional structured logger.
	Logger Logger
}

// Value is a typed property value as carried on the wire.
type Value struct {
	Type  wkpf.ValueType `json:"type"`
	Value any            `json:"value"`
}

// MarshalJSON encodes byte-list values as number arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	type plain Value
	p := plain(v)
	p.Value = wkpf.JSONValue(v.Value)
	return json.Marshal(p)
}

// Stats holds client counters.
type Stats struct {
	Pending          int    `json:"pending"`
	Requests         uint64 `json:"requests"`
	Timeouts         uint64 `json:"timeouts"`
	UpdatesAccepted  uint64 `json:"updates_accepted"`
	UpdatesDuplicate uint64 `json:"updates_duplicate"`
	ResponsesStale   uint64 `json:"responses_stale"`
	DatagramsDropped uint64 `json:"datagrams_dropped"`
	NodesAnnounced   uint64 `json:"nodes_announced"`
}

// Client is the gateway's comm client: it issues GET/SET requests to
// device properties, correlates their responses, accepts PROPERTY_UPDATE
// notifications and registers announcing nodes.
//
// Each GET/SET creates a pending request with a fresh sequence number and
// a deadline. The calling goroutine waits on a channel; other requests and
// inbound datagrams proceed independently.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	transport  transport.Transport
	directory  Directory
	controller *Controller
	browser    Browser
	metrics    Metrics
	logger     Logger

	pending *pendingTable
	updates *updateHub
	book    *nodeBook
	seq     atomic.Uint32
	closed  atomic.Bool

	requests, timeouts, stale, dropped atomic.Uint64
	accepted, duplicates, announced   atomic.Uint64

	refreshMu sync.Mutex
}

// NewClient creates a client and installs its datagram handler on the
// transport.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	if cfg.BrowseWindow == 0 {
		cfg.BrowseWindow = defaultBrowseWindow
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	c := &Client{
		cfg:        cfg,
		transport:  opts.Transport,
		directory:  opts.Directory,
		controller: opts.Controller,
		browser:    opts.Browser,
		metrics:    m,
		logger:     logger,
		pending:    newPendingTable(),
		updates:    newUpdateHub(cfg.DedupWindow, logger),
		book:       newNodeBook(opts.Directory, cfg.RequestTimeout, logger),
	}
	opts.Transport.SetHandler(c.HandleDatagram)
	return c, nil
}

// Close fails outstanding requests, stops accepting new ones and waits
// for queued last-seen writes. The transport is owned by the caller and
// is not closed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.pending.close()
	c.metrics.PendingChanged(0)
	c.book.wait()
	return nil
}

// Subscribe registers h for accepted property updates and returns a
// function that unsubscribes it.
func (c *Client) Subscribe(h UpdateHandler) func() {
	return c.updates.subscribe(h)
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Pending:          c.pending.len(),
		Requests:         c.requests.Load(),
		Timeouts:         c.timeouts.Load(),
		UpdatesAccepted:  c.accepted.Load(),
		UpdatesDuplicate: c.duplicates.Load(),
		ResponsesStale:   c.stale.Load(),
		DatagramsDropped: c.dropped.Load(),
		NodesAnnounced:   c.announced.Load(),
	}
}

// ─── Property access ───────────────────────────────────────────────

// GetProperty reads a property from an object on a node.
//
// Parameters:
//   - nodeID: Directory ID of the node
//   - port: Device port; 0 uses the port the node registered with
//   - objectID: Object identifier on the device
//   - property: Property slot index
//
// Returns:
//   - Value: The typed value reported by the device
//   - error: ErrUnknownNode, ErrTimeout, *RemoteError (unwraps to the
//     wkpf sentinel), or ErrUnexpectedReply
func (c *Client) GetProperty(ctx context.Context, nodeID uint8, port int, objectID, property uint8) (Value, error) {
	addr, err := c.resolve(ctx, nodeID, port)
	if err != nil {
		return Value{}, err
	}
	resp, err := c.request(ctx, nodeID, addr, wkpf.Message{
		Kind:     wkpf.KindGetRequest,
		Object:   objectID,
		Property: property,
	})
	if err != nil {
		return Value{}, err
	}
	return decodeValue(resp)
}

// SetProperty writes a property on an object on a node.
//
// The value is first coerced to t (so JSON-decoded numbers and arrays are
// accepted) and encoded locally; a value that does not fit t fails with
// wkpf.ErrTypeMismatch or wkpf.ErrPayloadTooLarge before anything is sent.
//
// Returns:
//   - Value: The value the device stored, as echoed in its SET_ACK
//   - error: As GetProperty, plus the local encoding errors above
func (c *Client) SetProperty(ctx context.Context, nodeID uint8, port int, objectID, property uint8, t wkpf.ValueType, value any) (Value, error) {
	v, err := wkpf.Coerce(value, t)
	if err != nil {
		return Value{}, err
	}
	payload, err := wkpf.EncodeTyped(v, t)
	if err != nil {
		return Value{}, err
	}
	addr, err := c.resolve(ctx, nodeID, port)
	if err != nil {
		return Value{}, err
	}
	resp, err := c.request(ctx, nodeID, addr, wkpf.Message{
		Kind:     wkpf.KindSetRequest,
		Object:   objectID,
		Property: property,
		Payload:  payload,
	})
	if err != nil {
		return Value{}, err
	}
	return decodeValue(resp)
}

// SendMode sends a fire-and-forget MODE_CONTROL datagram to a node.
func (c *Client) SendMode(ctx context.Context, nodeID uint8, mode wkpf.Mode) error {
	addr, err := c.resolve(ctx, nodeID, 0)
	if err != nil {
		return err
	}
	frame, err := wkpf.Message{
		Seq:     c.nextSeq(),
		Kind:    wkpf.KindModeControl,
		Payload: []byte{byte(mode)},
	}.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, addr, frame); err != nil {
		return fmt.Errorf("sending %s to node %d: %w", mode, nodeID, err)
	}
	return nil
}

func decodeValue(resp wkpf.Message) (Value, error) {
	t, v, err := wkpf.DecodeTyped(resp.Payload)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s payload: %w", ErrUnexpectedReply, resp.Kind, err)
	}
	return Value{Type: t, Value: v}, nil
}

// resolve returns the transport address for a node and port.
func (c *Client) resolve(ctx context.Context, nodeID uint8, port int) (string, error) {
	n, err := c.directory.Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			return "", fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
		}
		return "", fmt.Errorf("resolving node %d: %w", nodeID, err)
	}
	if port == 0 {
		return n.Address(), nil
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(port)), nil
}

// ─── Request/response ──────────────────────────────────────────────

// request sends req and waits for its response, applying the retry
// policy to timeouts. Error responses become *RemoteError.
func (c *Client) request(ctx context.Context, nodeID uint8, addr string, req wkpf.Message) (wkpf.Message, error) {
	policy := c.cfg.Retry
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := c.roundTrip(ctx, addr, req)
		c.metrics.RequestCompleted(req.Kind.String(), resultOf(resp, err), time.Since(start))

		if err == nil {
			if resp.IsError() {
				return resp, &RemoteError{Node: nodeID, Object: req.Object, Property: req.Property, Code: resp.Code}
			}
			return resp, nil
		}
		if !errors.Is(err, ErrTimeout) || attempt >= policy.MaxRetries {
			return wkpf.Message{}, err
		}

		backoff := policy.Backoff(attempt + 1)
		c.logger.Debug("retrying request",
			"kind", req.Kind.String(), "addr", addr, "attempt", attempt+1, "backoff", backoff)
		select {
		case <-ctx.Done():
			return wkpf.Message{}, err
		case <-time.After(backoff):
		}
	}
}

func resultOf(resp wkpf.Message, err error) string {
	switch {
	case err == nil && resp.IsError():
		return "rejected"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// roundTrip performs one attempt with a fresh sequence number.
func (c *Client) roundTrip(ctx context.Context, addr string, req wkpf.Message) (wkpf.Message, error) {
	if c.closed.Load() {
		return wkpf.Message{}, ErrClosed
	}
	want, _ := req.Kind.ResponseKind()

	key, ch, err := c.register(addr)
	if err != nil {
		return wkpf.Message{}, err
	}
	req.Seq = key.seq
	c.requests.Add(1)
	c.metrics.PendingChanged(c.pending.len())
	defer func() { c.metrics.PendingChanged(c.pending.len()) }()

	frame, err := req.MarshalBinary()
	if err != nil {
		c.pending.remove(key)
		return wkpf.Message{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.transport.Send(reqCtx, addr, frame); err != nil {
		c.pending.remove(key)
		return wkpf.Message{}, fmt.Errorf("sending %s to %s: %w", req.Kind, addr, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return wkpf.Message{}, ErrClosed
		}
		if resp.Kind != want {
			return wkpf.Message{}, fmt.Errorf("%w: %s in reply to %s", ErrUnexpectedReply, resp.Kind, req.Kind)
		}
		return resp, nil
	case <-reqCtx.Done():
		c.pending.remove(key)
		if errors.Is(ctx.Err(), context.Canceled) {
			return wkpf.Message{}, ctx.Err()
		}
		c.timeouts.Add(1)
		return wkpf.Message{}, fmt.Errorf("%w: %s seq %d to %s", ErrTimeout, req.Kind, key.seq, addr)
	}
}

// register allocates a sequence number and pending entry for addr.
func (c *Client) register(addr string) (pendingKey, <-chan wkpf.Message, error) {
	for range maxSeqAttempts {
		key := pendingKey{addr: addr, seq: c.nextSeq()}
		if ch, ok := c.pending.add(key); ok {
			return key, ch, nil
		}
		if c.closed.Load() {
			return pendingKey{}, nil, ErrClosed
		}
	}
	return pendingKey{}, nil, fmt.Errorf("%w: no free sequence number for %s", ErrUnexpectedReply, addr)
}

func (c *Client) nextSeq() uint16 {
	return uint16(c.seq.Add(1)) //nolint:gosec // seq wraps at 16 bits
}

// ─── Inbound datagrams ─────────────────────────────────────────────

// HandleDatagram processes one inbound datagram. It is installed as the
// transport handler by NewClient. Frames relayed by the controller console
// arrive here through a transport.Mux under the link's relay address.
func (c *Client) HandleDatagram(from string, data []byte) {
	msg, err := wkpf.ParseMessage(data)
	if err != nil {
		c.drop("malformed", "from", from, "error", err)
		return
	}

	switch {
	case msg.Kind == wkpf.KindPropertyUpdate:
		c.handleUpdate(from, msg)
	case msg.Kind == wkpf.KindNodeAnnounce:
		c.handleAnnounce(from, msg)
	case msg.Kind.IsResponse():
		if !c.pending.resolve(pendingKey{addr: from, seq: msg.Seq}, msg) {
			c.stale.Add(1)
			c.drop("stale", "from", from, "kind", msg.Kind.String(), "seq", msg.Seq)
		}
	default:
		c.drop("unexpected", "from", from, "kind", msg.Kind.String())
	}
}

func (c *Client) drop(reason string, keysAndValues ...any) {
	c.dropped.Add(1)
	c.metrics.DatagramDropped(reason)
	c.logger.Debug("dropping datagram", append([]any{"reason", reason}, keysAndValues...)...)
}

func (c *Client) handleUpdate(from string, msg wkpf.Message) {
	t, v, err := wkpf.DecodeTyped(msg.Payload)
	if err != nil {
		c.drop("malformed", "from", from, "kind", msg.Kind.String(), "error", err)
		return
	}

	u := Update{
		Addr:     from,
		Seq:      msg.Seq,
		Object:   msg.Object,
		Property: msg.Property,
		Type:     t,
		Value:    v,
		Received: time.Now(),
	}
	if !c.updates.accept(&u) {
		c.duplicates.Add(1)
		c.metrics.UpdateReceived(true)
		c.logger.Debug("duplicate update", "from", from, "seq", msg.Seq)
		return
	}
	c.accepted.Add(1)
	c.metrics.UpdateReceived(false)

	if id, ok := c.book.resolve(from); ok {
		u.Node = id
		c.book.touch(id, u.Received)
	}
	c.updates.publish(u)
}

func (c *Client) handleAnnounce(from string, msg wkpf.Message) {
	a, err := wkpf.ParseAnnounce(msg.Payload)
	if err != nil {
		c.drop("malformed", "from", from, "kind", msg.Kind.String(), "error", err)
		return
	}
	c.updates.forget(from)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	n, err := c.directory.Register(ctx, a.Name, from, time.Now())
	if err != nil {
		c.logger.Warn("registering node failed", "from", from, "name", a.Name, "error", err)
		return
	}
	c.announced.Add(1)
	c.book.learn(from, n.ID)

	frame, err := wkpf.Message{
		Seq:     msg.Seq,
		Kind:    wkpf.KindNodeAnnounceAck,
		Payload: []byte{n.ID},
	}.MarshalBinary()
	if err != nil {
		c.logger.Error("encoding announce ack failed", "error", err)
		return
	}
	if err := c.transport.Send(ctx, from, frame); err != nil {
		c.logger.Warn("sending announce ack failed", "node", n.ID, "to", from, "error", err)
		return
	}
	c.logger.Info("node announced",
		"node", n.ID, "addr", from, "name", a.Name,
		"classes", a.ClassCount, "objects", a.ObjectCount)
}
