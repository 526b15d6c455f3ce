package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Controller console commands. Each is written as '$' followed by the
// command character.
const (
	CommandLearn byte = 'l'
	CommandReset byte = 'r'
	CommandAdd   byte = 'a'
	CommandStop  byte = 's'
)

// Line prefixes on the serial channel.
const (
	commandPrefix = '$'
	framePrefix   = '#'
)

// defaultBaudRate matches the controller firmware console.
const defaultBaudRate = 115200

// Nodes behind a serial link share one "host:port" address: the host is
// relayHostPrefix plus the device base name, the port is relayPort.
const (
	relayHostPrefix = "serial-"
	relayPort       = "1"
)

// SerialConfig holds serial port configuration.
type SerialConfig struct {
	// Device is the serial device path, e.g. /dev/ttyACM0.
	Device string

	// BaudRate defaults to 115200.
	BaudRate int
}

// StatusHandler receives plain-text status lines from the controller.
type StatusHandler func(line string)

// Ensure Serial implements Transport.
var _ Transport = (*Serial)(nil)

// Serial is a line-oriented transport to a directly attached controller.
//
// Each line on the channel is one of:
//
//	$<c>       console command (gateway → controller)
//	#<hex>     one datagram, hex encoded (both directions)
//	<text>     status line (controller → gateway), e.g. "ready", "found"
//
// Frames carry no node address, so every inbound frame is reported as
// coming from RelayAddr and Send ignores its destination. Route the link
// through a Mux to share a client with other transports.
//
// Thread Safety: All methods are safe for concurrent use. Handlers run on
// the single read loop goroutine.
type Serial struct {
	name  string
	relay string
	port  io.ReadWriteCloser

	writeMu sync.Mutex

	handler       Handler
	statusHandler StatusHandler
	handlerMu     sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	log logSink

	datagramsTx      atomic.Uint64
	datagramsRx      atomic.Uint64
	datagramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	lastActivity     atomic.Int64
}

// OpenSerial opens a serial device and starts reading lines.
//
// Returns:
//   - *Serial: Transport ready for use
//   - error: ErrOpenFailed if the device cannot be opened
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8, //nolint:mnd // 8N1
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Device, err)
	}
	return NewSerial(cfg.Device, port), nil
}

// NewSerial wraps an already open byte stream, such as a serial port or one
// end of a net.Pipe, and starts reading lines.
func NewSerial(name string, rw io.ReadWriteCloser) *Serial {
	s := &Serial{
		name:  name,
		relay: net.JoinHostPort(relayHostPrefix+path.Base(name), relayPort),
		port:  rw,
		done:  newCloseOnce(),
	}
	s.lastActivity.Store(time.Now().Unix())

	s.wg.Add(1)
	go s.readLoop()
	return s
}

// maxLineLength bounds one line: a hex frame with its prefix and CRLF.
const maxLineLength = 2*MaxDatagramSize + 3

// readLoop reads lines until the stream ends or Close is called. Lines
// longer than maxLineLength are discarded and counted as dropped.
func (s *Serial) readLoop() {
	defer s.wg.Done()

	reader := bufio.NewReaderSize(s.port, maxLineLength)
	oversize := false
	for {
		chunk, err := reader.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			if !oversize {
				s.datagramsDropped.Add(1)
				s.log.debug("discarding oversize serial line", "device", s.name)
			}
			oversize = true
			continue
		case err != nil:
			if !errors.Is(err, io.EOF) && !s.done.IsClosed() {
				s.errorsTotal.Add(1)
				s.log.error("serial read failed", err, "device", s.name)
			}
			return
		case oversize:
			// Tail of a discarded line.
			oversize = false
			continue
		}

		line := strings.TrimRight(string(chunk), "\r\n")
		if line == "" {
			continue
		}
		s.lastActivity.Store(time.Now().Unix())
		s.handleLine(line)
	}
}

func (s *Serial) handleLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			s.errorsTotal.Add(1)
			s.log.error("serial handler panic", fmt.Errorf("%v", r), "device", s.name)
		}
	}()

	switch line[0] {
	case framePrefix:
		data, err := hex.DecodeString(line[1:])
		if err != nil || len(data) > MaxDatagramSize {
			s.datagramsDropped.Add(1)
			s.log.debug("dropping bad serial frame", "device", s.name, "line", line)
			return
		}
		s.datagramsRx.Add(1)
		s.handlerMu.RLock()
		h := s.handler
		s.handlerMu.RUnlock()
		if h != nil {
			h(s.relay, data)
		}
	case commandPrefix:
		// Echoed console commands carry no status.
	default:
		s.handlerMu.RLock()
		h := s.statusHandler
		s.handlerMu.RUnlock()
		if h != nil {
			h(line)
		}
	}
}

// Send writes one datagram as a hex frame line. The destination is ignored:
// the controller routes frames itself.
func (s *Serial) Send(ctx context.Context, _ string, data []byte) error {
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	line := make([]byte, 0, 2+2*len(data)) //nolint:mnd // prefix, hex, newline
	line = append(line, framePrefix)
	line = hex.AppendEncode(line, data)
	line = append(line, '\n')

	if err := s.write(ctx, line); err != nil {
		return err
	}
	s.datagramsTx.Add(1)
	return nil
}

// Command writes a console command such as CommandLearn.
func (s *Serial) Command(ctx context.Context, c byte) error {
	return s.write(ctx, []byte{commandPrefix, c})
}

func (s *Serial) write(ctx context.Context, b []byte) error {
	if s.done.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.port.Write(b); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetHandler sets the handler for inbound datagram frames.
func (s *Serial) SetHandler(h Handler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// SetStatusHandler sets the handler for status lines.
func (s *Serial) SetStatusHandler(h StatusHandler) {
	s.handlerMu.Lock()
	s.statusHandler = h
	s.handlerMu.Unlock()
}

// SetLogger sets the logger for this transport.
func (s *Serial) SetLogger(logger Logger) {
	s.log.set(logger)
}

// LocalAddr returns the device name.
func (s *Serial) LocalAddr() string {
	return s.name
}

// RelayAddr returns the address inbound frames are reported from and
// under which nodes behind the link are registered.
func (s *Serial) RelayAddr() string {
	return s.relay
}

// Stats returns current operational statistics.
func (s *Serial) Stats() Stats {
	return Stats{
		DatagramsTx:      s.datagramsTx.Load(),
		DatagramsRx:      s.datagramsRx.Load(),
		DatagramsDropped: s.datagramsDropped.Load(),
		ErrorsTotal:      s.errorsTotal.Load(),
		LastActivity:     time.Unix(s.lastActivity.Load(), 0),
	}
}

// Close closes the stream and waits for the read loop. Safe to call
// multiple times.
func (s *Serial) Close() error {
	if s.done.IsClosed() {
		return nil
	}
	s.done.Close()
	err := s.port.Close()
	s.wg.Wait()
	s.log.info("serial transport closed", "device", s.name)
	return err
}
