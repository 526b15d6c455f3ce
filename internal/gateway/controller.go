package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/transport"
)

// Console is the command channel of a directly attached controller.
// *transport.Serial implements it.
type Console interface {
	Command(ctx context.Context, c byte) error
	SetStatusHandler(h transport.StatusHandler)
}

// Controller drives the local controller's learn/add mode over its
// console and tracks the status lines it prints.
//
// Mode commands are fire-and-forget. Readiness is observed with
// WaitForStatus, which wakes on every status line instead of polling.
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	console Console
	logger  Logger

	mu      sync.Mutex
	status  string
	updated time.Time
	changed chan struct{}
}

// NewController attaches to console and starts tracking status lines.
func NewController(console Console, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Controller{
		console: console,
		logger:  logger,
		changed: make(chan struct{}),
	}
	console.SetStatusHandler(c.handleStatus)
	return c
}

// handleStatus records a status line and wakes all waiters.
func (c *Controller) handleStatus(line string) {
	c.mu.Lock()
	c.status = line
	c.updated = time.Now()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	c.logger.Debug("controller status", "status", line)
}

// EnterAddMode puts the controller into add (learn) mode.
func (c *Controller) EnterAddMode(ctx context.Context) error {
	return c.command(ctx, transport.CommandAdd, "add")
}

// StopMode leaves add mode.
func (c *Controller) StopMode(ctx context.Context) error {
	return c.command(ctx, transport.CommandStop, "stop")
}

// Reset resets the controller.
func (c *Controller) Reset(ctx context.Context) error {
	return c.command(ctx, transport.CommandReset, "reset")
}

// Learn asks the controller to learn the next node.
func (c *Controller) Learn(ctx context.Context) error {
	return c.command(ctx, transport.CommandLearn, "learn")
}

func (c *Controller) command(ctx context.Context, cmd byte, name string) error {
	if err := c.console.Command(ctx, cmd); err != nil {
		return fmt.Errorf("controller %s: %w", name, err)
	}
	c.logger.Info("controller command sent", "command", name)
	return nil
}

// CurrentStatus returns the most recent status line and when it arrived.
func (c *Controller) CurrentStatus() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.updated
}

// WaitForStatus waits until the current status contains substr.
//
// It returns true as soon as a matching status is current (including one
// that was already current on entry), and false when timeout elapses or
// ctx is cancelled first.
func (c *Controller) WaitForStatus(ctx context.Context, substr string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		found := strings.Contains(c.status, substr)
		changed := c.changed
		c.mu.Unlock()

		if found {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
