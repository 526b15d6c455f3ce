package gateway

import (
	"sync"

	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// pendingKey identifies an outstanding request: the response must come
// from the address the request was sent to, with the same sequence number.
type pendingKey struct {
	addr string
	seq  uint16
}

// pendingTable correlates outstanding requests with their responses.
//
// Each entry accepts at most one response. A response that arrives after
// its entry was resolved or timed out finds no entry and is discarded.
//
// Thread Safety: All methods are safe for concurrent use.
type pendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]chan wkpf.Message
	closed  bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[pendingKey]chan wkpf.Message)}
}

// add registers a request. It returns false if the key is already in use
// or the table is closed.
func (p *pendingTable) add(key pendingKey) (<-chan wkpf.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false
	}
	if _, exists := p.entries[key]; exists {
		return nil, false
	}
	ch := make(chan wkpf.Message, 1)
	p.entries[key] = ch
	return ch, true
}

// resolve delivers msg to the request registered under key and removes
// the entry. It returns false when no request is waiting, which makes
// duplicate and stale responses no-ops.
func (p *pendingTable) resolve(key pendingKey, msg wkpf.Message) bool {
	p.mu.Lock()
	ch, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

// remove drops an entry after a timeout or send failure.
func (p *pendingTable) remove(key pendingKey) {
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
}

// len returns the number of outstanding requests.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// close fails every outstanding request and rejects new ones.
func (p *pendingTable) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for key, ch := range p.entries {
		close(ch)
		delete(p.entries, key)
	}
}
