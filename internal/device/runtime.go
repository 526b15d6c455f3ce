package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/transport"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// Default runtime timings.
const (
	// defaultAnnounceInterval is the delay between announcements until the
	// gateway acknowledges one.
	defaultAnnounceInterval = 5 * time.Second

	// defaultSendTimeout bounds replies and updates.
	defaultSendTimeout = 2 * time.Second
)

// Config holds device runtime configuration.
type Config struct {
	// Name identifies the device in announcements and mDNS.
	Name string

	// GatewayAddress is the "ip:port" that receives announcements and
	// PROPERTY_UPDATE messages.
	GatewayAddress string

	// AnnounceInterval is the delay between unacknowledged announcements.
	// Default: 5 seconds.
	AnnounceInterval time.Duration

	// SendTimeout bounds each outbound datagram. Default: 2 seconds.
	SendTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.GatewayAddress == "" {
		return fmt.Errorf("%w: gateway address is required", ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(c.GatewayAddress); err != nil {
		return fmt.Errorf("%w: gateway address %q: %w", ErrInvalidConfig, c.GatewayAddress, err)
	}
	return nil
}

// Runtime is the per-node process: it owns the class registry and object
// table and feeds inbound datagrams to the dispatcher.
//
// Lifecycle:
//  1. RegisterClass / LoadLibrary and AddObject during initialization
//  2. Start seals the registry and begins dispatching
//  3. Close stops the transport
//
// Thread Safety: Registration methods must not race with Start. After
// Start, all methods are safe for concurrent use.
type Runtime struct {
	cfg    Config
	logger Logger

	registry *wkpf.ClassRegistry
	table    *wkpf.ObjectTable

	mu         sync.Mutex
	dispatcher *wkpf.Dispatcher
	transport  transport.Transport
	started    bool

	nodeID   atomic.Int32
	acked    chan struct{}
	ackOnce  sync.Once
	announce atomic.Uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runtime with an empty registry.
func New(cfg Config, logger Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = defaultAnnounceInterval
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}

	registry := wkpf.NewClassRegistry()
	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		table:    wkpf.NewObjectTable(registry),
		acked:    make(chan struct{}),
	}
	r.nodeID.Store(-1)
	return r, nil
}

// RegisterClass declares a class this device can host.
func (r *Runtime) RegisterClass(id uint16, name string, slots []wkpf.Slot, factory wkpf.BehaviorFactory) error {
	if _, err := r.registry.Register(id, name, slots, factory); err != nil {
		return err
	}
	r.logger.Debug("class registered", "class", id, "name", name, "slots", len(slots))
	return nil
}

// LoadLibrary registers every class in lib, resolving behaviors by name.
func (r *Runtime) LoadLibrary(lib *Library, behaviors Behaviors) error {
	for _, c := range lib.Classes {
		var factory wkpf.BehaviorFactory
		if c.Behavior != "" {
			f, ok := behaviors[c.Behavior]
			if !ok {
				return fmt.Errorf("%w: %q for class %s", ErrUnknownBehavior, c.Behavior, c.Name)
			}
			factory = f
		}
		if err := r.RegisterClass(c.ID, c.Name, c.Slots(), factory); err != nil {
			return fmt.Errorf("registering class %s: %w", c.Name, err)
		}
	}
	return nil
}

// AddObject creates an object of a registered class.
func (r *Runtime) AddObject(classID uint16) (uint8, error) {
	id, err := r.table.AddObject(classID)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("object added", "object", id, "class", classID)
	return id, nil
}

// Registry returns the class registry.
func (r *Runtime) Registry() *wkpf.ClassRegistry { return r.registry }

// Objects returns the object table.
func (r *Runtime) Objects() *wkpf.ObjectTable { return r.table }

// NodeID returns the identifier assigned by the gateway, if any.
func (r *Runtime) NodeID() (uint8, bool) {
	id := r.nodeID.Load()
	if id < 0 {
		return 0, false
	}
	return uint8(id), true //nolint:gosec // stored from a uint8
}

// Acknowledged is closed when the gateway acknowledges an announcement.
func (r *Runtime) Acknowledged() <-chan struct{} { return r.acked }

// Start seals the registry, attaches the transport and announces the
// device to the gateway. Announcements repeat until acknowledged.
func (r *Runtime) Start(ctx context.Context, t transport.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	r.registry.Seal()
	d, err := wkpf.NewDispatcher(r.registry, r.table, wkpf.DispatcherOptions{
		Name:      r.cfg.Name,
		OnMode:    r.handleMode,
		OnMessage: r.handleMessage,
		Logger:    r.logger,
	})
	if err != nil {
		return err
	}

	r.dispatcher = d
	r.transport = t
	r.started = true

	r.table.OnReport(r.report)
	t.SetHandler(r.handleDatagram)

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.announceLoop(loopCtx)

	r.logger.Info("device runtime started",
		"name", r.cfg.Name,
		"addr", t.LocalAddr(),
		"gateway", r.cfg.GatewayAddress,
		"classes", r.registry.Len(),
		"objects", r.table.Len(),
	)
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context, t transport.Transport) error {
	if err := r.Start(ctx, t); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Close()
}

// Close stops announcing and closes the transport.
func (r *Runtime) Close() error {
	r.mu.Lock()
	t := r.transport
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	if t == nil {
		return nil
	}
	if err := t.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return err
	}
	return nil
}

// handleDatagram runs on the transport's receive goroutine.
func (r *Runtime) handleDatagram(from string, data []byte) {
	reply := r.dispatcher.Handle(data)
	if reply == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()
	if err := r.transport.Send(ctx, from, reply); err != nil {
		r.logger.Warn("sending reply failed", "to", from, "error", err)
	}
}

func (r *Runtime) report(obj *wkpf.Object, index uint8, value any) {
	r.mu.Lock()
	d, t := r.dispatcher, r.transport
	r.mu.Unlock()
	if d == nil {
		return
	}

	frame, err := d.Update(obj, index, value)
	if err != nil {
		r.logger.Error("encoding property update failed", "object", obj.ID(), "property", index, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()
	if err := t.Send(ctx, r.cfg.GatewayAddress, frame); err != nil {
		r.logger.Warn("sending property update failed", "object", obj.ID(), "property", index, "error", err)
	}
}

func (r *Runtime) handleMode(mode wkpf.Mode) {
	r.logger.Info("mode control received", "mode", mode.String())
	if mode == wkpf.ModeReset {
		r.sendAnnounce()
	}
}

func (r *Runtime) handleMessage(msg wkpf.Message) {
	switch msg.Kind {
	case wkpf.KindNodeAnnounceAck:
		if msg.IsError() || len(msg.Payload) != 1 {
			r.logger.Warn("announce rejected", "code", msg.Code.String())
			return
		}
		r.nodeID.Store(int32(msg.Payload[0]))
		r.ackOnce.Do(func() { close(r.acked) })
		r.logger.Info("registered with gateway", "node_id", msg.Payload[0])
	default:
		r.logger.Debug("ignoring message", "kind", msg.Kind.String(), "seq", msg.Seq)
	}
}

func (r *Runtime) sendAnnounce() {
	frame, err := r.dispatcher.Announce(uint16(r.announce.Add(1))) //nolint:gosec // seq wraps at 16 bits
	if err != nil {
		r.logger.Error("encoding announce failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()
	if err := r.transport.Send(ctx, r.cfg.GatewayAddress, frame); err != nil {
		r.logger.Warn("sending announce failed", "gateway", r.cfg.GatewayAddress, "error", err)
	}
}

// announceLoop announces until acknowledged or cancelled.
func (r *Runtime) announceLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.AnnounceInterval)
	defer ticker.Stop()

	r.sendAnnounce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.acked:
			return
		case <-ticker.C:
			r.sendAnnounce()
		}
	}
}
