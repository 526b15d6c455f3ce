// Package transporttest provides an in-process datagram network for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/transport"
)

// Network connects Memory endpoints by address.
type Network struct {
	mu        sync.RWMutex
	endpoints map[string]*Memory
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Memory)}
}

// Attach creates an endpoint listening on addr.
func (n *Network) Attach(addr string) *Memory {
	m := &Memory{
		network: n,
		addr:    addr,
		queue:   make(chan datagram, 64),
		done:    make(chan struct{}),
	}
	n.mu.Lock()
	n.endpoints[addr] = m
	n.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
	return m
}

func (n *Network) lookup(addr string) (*Memory, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	m, ok := n.endpoints[addr]
	return m, ok
}

type datagram struct {
	from string
	data []byte
}

// Ensure Memory implements transport.Transport.
var _ transport.Transport = (*Memory)(nil)

// Memory is an in-process endpoint. Datagrams to unknown addresses are
// silently lost, as with UDP. Handlers run on one goroutine per endpoint.
type Memory struct {
	network *Network
	addr    string
	queue   chan datagram

	mu      sync.RWMutex
	handler transport.Handler
	drop    func(data []byte) bool
	sent    [][]byte

	done     chan struct{}
	closeMu  sync.Once
	wg       sync.WaitGroup
	tx, rx   atomic.Uint64
	dropped  atomic.Uint64
	lastSeen atomic.Int64
}

func (m *Memory) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case d := <-m.queue:
			m.rx.Add(1)
			m.lastSeen.Store(time.Now().Unix())
			m.mu.RLock()
			h := m.handler
			m.mu.RUnlock()
			if h != nil {
				h(d.from, d.data)
			}
		}
	}
}

// Send delivers data to the endpoint at to.
func (m *Memory) Send(ctx context.Context, to string, data []byte) error {
	select {
	case <-m.done:
		return transport.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}

	frame := append([]byte(nil), data...)
	m.mu.Lock()
	m.sent = append(m.sent, frame)
	drop := m.drop
	m.mu.Unlock()
	m.tx.Add(1)

	if drop != nil && drop(frame) {
		m.dropped.Add(1)
		return nil
	}
	peer, ok := m.network.lookup(to)
	if !ok {
		m.dropped.Add(1)
		return nil
	}
	return peer.Inject(m.addr, frame)
}

// Inject delivers a datagram to this endpoint as if sent by from.
func (m *Memory) Inject(from string, data []byte) error {
	select {
	case <-m.done:
		return transport.ErrClosed
	case m.queue <- datagram{from: from, data: append([]byte(nil), data...)}:
		return nil
	}
}

// DropOutgoing installs a filter; datagrams for which it returns true are
// lost instead of delivered.
func (m *Memory) DropOutgoing(fn func(data []byte) bool) {
	m.mu.Lock()
	m.drop = fn
	m.mu.Unlock()
}

// Sent returns copies of all datagrams sent from this endpoint.
func (m *Memory) Sent() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// SetHandler sets the inbound handler.
func (m *Memory) SetHandler(h transport.Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// LocalAddr returns the endpoint address.
func (m *Memory) LocalAddr() string { return m.addr }

// Stats returns endpoint counters.
func (m *Memory) Stats() transport.Stats {
	return transport.Stats{
		DatagramsTx:      m.tx.Load(),
		DatagramsRx:      m.rx.Load(),
		DatagramsDropped: m.dropped.Load(),
		LastActivity:     time.Unix(m.lastSeen.Load(), 0),
	}
}

// Close detaches the endpoint.
func (m *Memory) Close() error {
	m.closeMu.Do(func() {
		m.network.mu.Lock()
		delete(m.network.endpoints, m.addr)
		m.network.mu.Unlock()
		close(m.done)
	})
	m.wg.Wait()
	return nil
}
