package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
)

// defaultQueueSize bounds updates waiting for the sink worker.
const defaultQueueSize = 256

// Sink receives accepted updates off the receive path.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Forward delivers one update. It may block; the Fanout worker is the
	// only caller.
	Forward(ctx context.Context, u gateway.Update) error
}

// UpdateSource is satisfied by *gateway.Client.
type UpdateSource interface {
	Subscribe(h gateway.UpdateHandler) func()
}

// PublishRecorder counts sink deliveries. Satisfied by *metrics.Gateway.
type PublishRecorder interface {
	RecordPublish(sink string, err error)
}

// FanoutOptions holds configuration for creating a Fanout.
type FanoutOptions struct {
	// Sinks receive every accepted update in order.
	Sinks []Sink

	// QueueSize bounds buffered updates. Default: 256.
	QueueSize int

	// Recorder is optional.
	Recorder PublishRecorder

	// Logger is optional.
	Logger Logger
}

// FanoutStats holds delivery counters.
type FanoutStats struct {
	Forwarded uint64 `json:"forwarded"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Fanout queues accepted updates and delivers them to every sink from a
// single worker goroutine.
//
// Thread Safety: All methods are safe for concurrent use.
type Fanout struct {
	sinks    []Sink
	queue    chan gateway.Update
	recorder PublishRecorder
	logger   Logger

	forwarded, failed, dropped atomic.Uint64

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
	started     atomic.Bool
}

// NewFanout creates a Fanout. Call Start to begin delivery.
func NewFanout(opts FanoutOptions) *Fanout {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Fanout{
		sinks:    opts.Sinks,
		queue:    make(chan gateway.Update, size),
		recorder: opts.Recorder,
		logger:   orNoop(opts.Logger),
		done:     make(chan struct{}),
	}
}

// Start subscribes to src and starts the delivery worker. Calling Start
// more than once has no effect.
func (f *Fanout) Start(ctx context.Context, src UpdateSource) {
	f.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(ctx)
		f.cancel = cancel

		f.wg.Add(1)
		go f.worker(workerCtx)

		f.unsubscribe = src.Subscribe(f.enqueue)
		f.started.Store(true)

		names := make([]string, len(f.sinks))
		for i, s := range f.sinks {
			names[i] = s.Name()
		}
		f.logger.Info("update fan-out started", "sinks", names, "queue", cap(f.queue))
	})
}

// Stop unsubscribes, delivers what is already queued, and waits for the
// worker to exit. Safe to call multiple times.
func (f *Fanout) Stop() {
	f.stopOnce.Do(func() {
		if !f.started.Load() {
			return
		}
		f.unsubscribe()
		close(f.done)
		f.wg.Wait()
		f.cancel()
	})
}

// Stats returns delivery counters.
func (f *Fanout) Stats() FanoutStats {
	return FanoutStats{
		Forwarded: f.forwarded.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
	}
}

// enqueue runs on the transport's receive goroutine and never blocks.
func (f *Fanout) enqueue(u gateway.Update) {
	select {
	case f.queue <- u:
	default:
		f.dropped.Add(1)
		f.logger.Warn("update queue full, dropping update",
			"node", u.Node,
			"object", u.Object,
			"property", u.Property,
			"tag", u.Tag)
	}
}

func (f *Fanout) worker(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case u := <-f.queue:
			f.deliver(ctx, u)
		case <-f.done:
			for {
				select {
				case u := <-f.queue:
					f.deliver(ctx, u)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, u gateway.Update) {
	for _, s := range f.sinks {
		err := s.Forward(ctx, u)
		if f.recorder != nil {
			f.recorder.RecordPublish(s.Name(), err)
		}
		if err != nil {
			f.failed.Add(1)
			f.logger.Warn("sink forward failed",
				"sink", s.Name(),
				"tag", u.Tag,
				"error", err)
			continue
		}
		f.forwarded.Add(1)
	}
}
