package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

// Ensure Mux implements Transport.
var _ Transport = (*Mux)(nil)

// Mux joins several transports behind one handler. Datagrams are sent
// through the transport routed for the destination host, or the primary
// transport when no route matches.
//
// Each member delivers to the shared handler from its own goroutine, so
// ordering holds per member only.
//
// Thread Safety: All methods are safe for concurrent use.
type Mux struct {
	primary Transport

	mu      sync.RWMutex
	routes  map[string]Transport
	handler Handler
}

// NewMux returns a Mux sending through primary by default.
func NewMux(primary Transport) *Mux {
	m := &Mux{
		primary: primary,
		routes:  make(map[string]Transport),
	}
	primary.SetHandler(m.dispatch)
	return m
}

// Route sends datagrams for host through t and delivers t's inbound
// datagrams to the shared handler.
func (m *Mux) Route(host string, t Transport) {
	m.mu.Lock()
	m.routes[host] = t
	m.mu.Unlock()
	t.SetHandler(m.dispatch)
}

// RouteSerial routes a serial link under the host of its relay address.
func (m *Mux) RouteSerial(s *Serial) {
	host, _, _ := net.SplitHostPort(s.RelayAddr()) //nolint:errcheck // built with JoinHostPort
	m.Route(host, s)
}

func (m *Mux) dispatch(from string, data []byte) {
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h != nil {
		h(from, data)
	}
}

func (m *Mux) pick(to string) Transport {
	host, _, err := net.SplitHostPort(to)
	if err != nil {
		return m.primary
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.routes[host]; ok {
		return t
	}
	return m.primary
}

// Send writes data through the transport routed for to.
func (m *Mux) Send(ctx context.Context, to string, data []byte) error {
	return m.pick(to).Send(ctx, to, data)
}

// SetHandler sets the handler shared by all members.
func (m *Mux) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// LocalAddr returns the primary transport's address.
func (m *Mux) LocalAddr() string {
	return m.primary.LocalAddr()
}

func (m *Mux) members() []Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transport, 0, 1+len(m.routes))
	out = append(out, m.primary)
	for _, t := range m.routes {
		out = append(out, t)
	}
	return out
}

// Stats sums member counters. LastActivity is the most recent of them.
func (m *Mux) Stats() Stats {
	var sum Stats
	for _, t := range m.members() {
		st := t.Stats()
		sum.DatagramsTx += st.DatagramsTx
		sum.DatagramsRx += st.DatagramsRx
		sum.DatagramsDropped += st.DatagramsDropped
		sum.ErrorsTotal += st.ErrorsTotal
		if st.LastActivity.After(sum.LastActivity) {
			sum.LastActivity = st.LastActivity
		}
	}
	return sum
}

// Close closes every member and joins their errors.
func (m *Mux) Close() error {
	var errs []error
	for _, t := range m.members() {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
