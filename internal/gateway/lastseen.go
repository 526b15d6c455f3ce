package gateway

import (
	"context"
	"sync"
	"time"
)

// nodeBook maps sender addresses to node IDs and writes last-seen times in
// the background, so the receive goroutine only touches the directory on
// a cache miss.
//
// Touches are coalesced per node: a burst of updates from one node costs
// a single write carrying the latest time.
type nodeBook struct {
	directory Directory
	logger    Logger
	timeout   time.Duration

	mu       sync.Mutex
	ids      map[string]uint8
	seen     map[uint8]time.Time
	flushing bool
	wg       sync.WaitGroup
}

func newNodeBook(dir Directory, timeout time.Duration, logger Logger) *nodeBook {
	return &nodeBook{
		directory: dir,
		logger:    logger,
		timeout:   timeout,
		ids:       make(map[string]uint8),
		seen:      make(map[uint8]time.Time),
	}
}

// learn records that addr belongs to node id.
func (b *nodeBook) learn(addr string, id uint8) {
	b.mu.Lock()
	b.ids[addr] = id
	b.mu.Unlock()
}

// resolve returns the node registered at addr. Unknown senders are not
// cached: they may announce later.
func (b *nodeBook) resolve(addr string) (uint8, bool) {
	b.mu.Lock()
	id, ok := b.ids[addr]
	b.mu.Unlock()
	if ok {
		return id, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	n, err := b.directory.GetByAddress(ctx, addr)
	if err != nil {
		return 0, false
	}
	b.learn(addr, n.ID)
	return n.ID, true
}

// touch queues a last-seen write for id and starts the writer if idle.
func (b *nodeBook) touch(id uint8, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.seen[id]; !ok || at.After(prev) {
		b.seen[id] = at
	}
	if b.flushing {
		return
	}
	b.flushing = true
	b.wg.Add(1)
	go b.flush()
}

// flush writes queued touches until none remain.
func (b *nodeBook) flush() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(b.seen) == 0 {
			b.flushing = false
			b.mu.Unlock()
			return
		}
		batch := b.seen
		b.seen = make(map[uint8]time.Time)
		b.mu.Unlock()

		for id, at := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			if err := b.directory.Touch(ctx, id, at); err != nil {
				b.logger.Warn("recording last seen failed", "node", id, "error", err)
			}
			cancel()
		}
	}
}

// wait blocks until queued touches are written.
func (b *nodeBook) wait() {
	b.wg.Wait()
}
