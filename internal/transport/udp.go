package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Default settings for the UDP transport.
const (
	// defaultReadTimeout bounds each blocking read so the loop can observe
	// shutdown.
	defaultReadTimeout = time.Second

	// defaultWriteTimeout is the timeout for a single datagram write.
	defaultWriteTimeout = 2 * time.Second

	// defaultQueueSize is the buffer size of the handler queue.
	defaultQueueSize = 256

	// defaultWorkers keeps handler delivery single-threaded.
	defaultWorkers = 1
)

// UDPConfig holds UDP transport configuration.
type UDPConfig struct {
	// ListenAddress is the local "ip:port" to bind. Port 0 picks a free port.
	ListenAddress string

	// ReadTimeout bounds each read. Default: 1 second.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write. Default: 2 seconds.
	WriteTimeout time.Duration

	// QueueSize is the handler queue length. Datagrams arriving while the
	// queue is full are dropped. Default: 256.
	QueueSize int

	// Workers is the number of goroutines invoking the handler. Default: 1.
	Workers int
}

type inbound struct {
	from string
	data []byte
}

// Ensure UDP implements Transport.
var _ Transport = (*UDP)(nil)

// UDP is a datagram transport over a UDP socket.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The handler is invoked by the worker pool; with the default single
//     worker it observes datagrams in arrival order.
type UDP struct {
	cfg  UDPConfig
	conn *net.UDPConn

	handler   Handler
	handlerMu sync.RWMutex

	queue chan inbound

	done *closeOnce
	wg   sync.WaitGroup

	log logSink

	datagramsTx      atomic.Uint64
	datagramsRx      atomic.Uint64
	datagramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	lastActivity     atomic.Int64
}

// ListenUDP binds a UDP socket and starts the receive loop.
//
// Parameters:
//   - cfg: Socket configuration
//
// Returns:
//   - *UDP: Transport ready for use
//   - error: ErrListenFailed if the address cannot be bound
func ListenUDP(cfg UDPConfig) (*UDP, error) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrListenFailed, cfg.ListenAddress, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListenFailed, err)
	}

	u := &UDP{
		cfg:   cfg,
		conn:  conn,
		queue: make(chan inbound, cfg.QueueSize),
		done:  newCloseOnce(),
	}
	u.lastActivity.Store(time.Now().Unix())

	for range cfg.Workers {
		u.wg.Add(1)
		go u.worker()
	}
	u.wg.Add(1)
	go u.receiveLoop()

	return u, nil
}

// receiveLoop reads datagrams until Close.
func (u *UDP) receiveLoop() {
	defer u.wg.Done()

	buf := make([]byte, MaxDatagramSize+1)
	for {
		if u.done.IsClosed() {
			return
		}

		if err := u.conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout)); err != nil {
			if u.done.IsClosed() {
				return
			}
			u.log.error("set read deadline failed", err)
		}

		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.done.IsClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			u.errorsTotal.Add(1)
			u.log.error("udp read failed", err)
			continue
		}

		u.datagramsRx.Add(1)
		u.lastActivity.Store(time.Now().Unix())

		if n > MaxDatagramSize {
			u.datagramsDropped.Add(1)
			u.log.debug("dropping oversize datagram", "from", addr.String(), "size", n)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case u.queue <- inbound{from: addr.String(), data: data}:
		default:
			u.datagramsDropped.Add(1)
			u.log.error("handler queue full, dropping datagram", nil, "from", addr.String())
		}
	}
}

// worker delivers queued datagrams to the handler.
func (u *UDP) worker() {
	defer u.wg.Done()

	for {
		select {
		case <-u.done.Done():
			return
		case in := <-u.queue:
			u.deliver(in)
		}
	}
}

func (u *UDP) deliver(in inbound) {
	u.handlerMu.RLock()
	h := u.handler
	u.handlerMu.RUnlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			u.errorsTotal.Add(1)
			u.log.error("datagram handler panic", fmt.Errorf("%v", r), "from", in.from)
		}
	}()
	h(in.from, in.data)
}

// Send writes one datagram to the "ip:port" destination.
func (u *UDP) Send(ctx context.Context, to string, data []byte) error {
	if u.done.IsClosed() {
		return ErrClosed
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	raddr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidAddress, to, err)
	}

	deadline := time.Now().Add(u.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	if _, err := u.conn.WriteToUDP(data, raddr); err != nil {
		u.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	u.datagramsTx.Add(1)
	u.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetHandler sets the inbound datagram handler.
func (u *UDP) SetHandler(h Handler) {
	u.handlerMu.Lock()
	u.handler = h
	u.handlerMu.Unlock()
}

// SetLogger sets the logger for this transport.
func (u *UDP) SetLogger(logger Logger) {
	u.log.set(logger)
}

// LocalAddr returns the bound "ip:port".
func (u *UDP) LocalAddr() string {
	return u.conn.LocalAddr().String()
}

// Stats returns current operational statistics.
func (u *UDP) Stats() Stats {
	return Stats{
		DatagramsTx:      u.datagramsTx.Load(),
		DatagramsRx:      u.datagramsRx.Load(),
		DatagramsDropped: u.datagramsDropped.Load(),
		ErrorsTotal:      u.errorsTotal.Load(),
		LastActivity:     time.Unix(u.lastActivity.Load(), 0),
	}
}

// Close stops the loops and closes the socket. Safe to call multiple times.
func (u *UDP) Close() error {
	u.done.Close()
	err := u.conn.Close()
	u.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	u.log.info("udp transport closed", "addr", u.LocalAddr())
	return nil
}
