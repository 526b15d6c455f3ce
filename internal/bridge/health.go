package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource provides gateway counters. Satisfied by *gateway.Client.
type StatsSource interface {
	Stats() gateway.Stats
}

// HealthReporterConfig configures a HealthReporter. Interval defaults to
// 30 seconds.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Stats     StatsSource
	Logger    Logger
}

// HealthReporter publishes a retained HealthMessage on
// wukong/system/health at a fixed interval.
//
// A report is degraded when the broker is unreachable, or when node
// requests timed out or inbound datagrams were dropped since the
// previous report.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time
	logger  Logger

	mu   sync.Mutex
	seen gateway.Stats // counters at the previous report

	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:     cfg,
		started: time.Now(),
		logger:  orNoop(cfg.Logger),
	}
}

// Start publishes the current health, then repeats every interval until
// ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.stopped = make(chan struct{})

	go func() {
		defer close(h.stopped)
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the reporting loop and publishes a final stopping status.
// Safe to call more than once, and without Start.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
			<-h.stopped
		}
		//nolint:errcheck // best effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "gateway starting")
}

// PublishNow evaluates and publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.evaluate()
	return h.publish(status, reason)
}

func (h *HealthReporter) evaluate() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Stats == nil {
		return HealthHealthy, ""
	}

	now := h.cfg.Stats.Stats()
	h.mu.Lock()
	prev := h.seen
	h.seen = now
	h.mu.Unlock()

	switch {
	case now.Timeouts > prev.Timeouts:
		return HealthDegraded, "node requests timing out"
	case now.DatagramsDropped > prev.DatagramsDropped:
		return HealthDegraded, "inbound datagrams dropped"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	var stats gateway.Stats
	if h.cfg.Stats != nil {
		stats = h.cfg.Stats.Stats()
	}
	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, stats, h.started)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.SystemHealth(), payload, 1, true)
}
