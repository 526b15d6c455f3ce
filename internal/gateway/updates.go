package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// defaultDedupWindow is how long a (node address, seq) pair is remembered.
const defaultDedupWindow = 30 * time.Second

// Update is a PROPERTY_UPDATE accepted by the gateway.
type Update struct {
	// Tag is the gateway's delivery-order tag: strictly increasing across
	// all accepted updates for the lifetime of the client.
	Tag uint64 `json:"tag"`

	// Node is the directory ID of the sender, or 0 if the sender is not
	// registered.
	Node uint8  `json:"node"`
	Addr string `json:"addr"`

	// Seq is the device's update counter.
	Seq uint16 `json:"seq"`

	Object   uint8          `json:"object"`
	Property uint8          `json:"property"`
	Type     wkpf.ValueType `json:"type"`
	Value    any            `json:"value"`

	Received time.Time `json:"received"`
}

// MarshalJSON encodes byte-list values as number arrays.
func (u Update) MarshalJSON() ([]byte, error) {
	type plain Update
	p := plain(u)
	p.Value = wkpf.JSONValue(u.Value)
	return json.Marshal(p)
}

// UpdateHandler receives accepted updates. Handlers run on the transport's
// receive goroutine and must not block.
type UpdateHandler func(Update)

// updateHub deduplicates updates, stamps delivery tags and fans out to
// subscribers.
type updateHub struct {
	window time.Duration
	logger Logger

	mu        sync.Mutex
	seen      map[pendingKey]time.Time
	lastPrune time.Time
	tag       uint64

	subMu  sync.RWMutex
	subs   map[int]UpdateHandler
	nextID int
}

func newUpdateHub(window time.Duration, logger Logger) *updateHub {
	return &updateHub{
		window: window,
		logger: logger,
		seen:   make(map[pendingKey]time.Time),
		subs:   make(map[int]UpdateHandler),
	}
}

// subscribe registers h and returns a function that removes it.
func (h *updateHub) subscribe(handler UpdateHandler) func() {
	h.subMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = handler
	h.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subs, id)
			h.subMu.Unlock()
		})
	}
}

// accept records u's (addr, seq) and stamps its tag. It returns false for
// a duplicate seen within the window.
func (h *updateHub) accept(u *Update) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := pendingKey{addr: u.Addr, seq: u.Seq}
	if at, ok := h.seen[key]; ok && u.Received.Sub(at) < h.window {
		return false
	}
	h.seen[key] = u.Received
	h.prune(u.Received)

	h.tag++
	u.Tag = h.tag
	return true
}

// forget drops every pair recorded for addr. A device that announces has
// restarted its update counter.
func (h *updateHub) forget(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.seen {
		if key.addr == addr {
			delete(h.seen, key)
		}
	}
}

// prune forgets pairs older than the window. Called with mu held.
func (h *updateHub) prune(now time.Time) {
	if now.Sub(h.lastPrune) < h.window/2 {
		return
	}
	h.lastPrune = now
	for key, at := range h.seen {
		if now.Sub(at) >= h.window {
			delete(h.seen, key)
		}
	}
}

// publish delivers u to every subscriber, isolating panics.
func (h *updateHub) publish(u Update) {
	h.subMu.RLock()
	handlers := make([]UpdateHandler, 0, len(h.subs))
	for _, s := range h.subs {
		handlers = append(handlers, s)
	}
	h.subMu.RUnlock()

	for _, handler := range handlers {
		h.deliver(handler, u)
	}
}

func (h *updateHub) deliver(handler UpdateHandler, u Update) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("update subscriber panic", "error", fmt.Sprintf("%v", r), "tag", u.Tag)
		}
	}()
	handler(u)
}
