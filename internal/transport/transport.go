package transport

import (
	"context"
	"sync"
	"time"
)

// MaxDatagramSize is the largest datagram any transport carries: a full
// WKPF header plus the maximum payload plus an error-code byte.
const MaxDatagramSize = 6 + 255 + 1

// Handler receives one inbound datagram. from is the sender address in the
// transport's own notation ("ip:port" for UDP).
type Handler func(from string, data []byte)

// Transport sends and receives datagrams. Implementations deliver inbound
// datagrams to the handler from a single goroutine unless configured
// otherwise, so handlers observe them in arrival order.
type Transport interface {
	// Send writes one datagram to the destination address.
	Send(ctx context.Context, to string, data []byte) error

	// SetHandler sets the inbound datagram handler.
	SetHandler(h Handler)

	// LocalAddr returns the local address in the transport's notation.
	LocalAddr() string

	// Stats returns operational statistics.
	Stats() Stats

	// Close stops the receive loop and releases the underlying resource.
	Close() error
}

// Stats holds operational statistics for a transport.
type Stats struct {
	DatagramsTx      uint64
	DatagramsRx      uint64
	DatagramsDropped uint64 // Dropped due to a full handler queue or oversize
	ErrorsTotal      uint64
	LastActivity     time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// logSink guards an optional logger.
type logSink struct {
	mu     sync.RWMutex
	logger Logger
}

func (s *logSink) set(l Logger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

func (s *logSink) get() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *logSink) debug(msg string, keysAndValues ...any) {
	if l := s.get(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *logSink) info(msg string, keysAndValues ...any) {
	if l := s.get(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *logSink) error(msg string, err error, keysAndValues ...any) {
	if l := s.get(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
