package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wukong-iot/wkpf-gateway/internal/node"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// refreshConcurrency bounds parallel inventory queries.
const refreshConcurrency = 8

// GetClassList queries the classes a node hosts and updates the cache.
func (c *Client) GetClassList(ctx context.Context, nodeID uint8) ([]uint16, error) {
	addr, err := c.resolve(ctx, nodeID, 0)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, nodeID, addr, wkpf.Message{Kind: wkpf.KindClassListRequest})
	if err != nil {
		return nil, err
	}
	classes, err := wkpf.DecodeClassList(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: class list: %w", ErrUnexpectedReply, err)
	}
	return classes, nil
}

// GetObjectList queries the objects a node hosts.
func (c *Client) GetObjectList(ctx context.Context, nodeID uint8) ([]wkpf.ObjectEntry, error) {
	addr, err := c.resolve(ctx, nodeID, 0)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, nodeID, addr, wkpf.Message{Kind: wkpf.KindObjectListRequest})
	if err != nil {
		return nil, err
	}
	objects, err := wkpf.DecodeObjectList(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: object list: %w", ErrUnexpectedReply, err)
	}
	return objects, nil
}

// GetNodeInfo refreshes a node's class and object inventory over the wire
// and returns the updated directory entry.
func (c *Client) GetNodeInfo(ctx context.Context, nodeID uint8) (*node.Node, error) {
	if err := c.refreshInventory(ctx, nodeID); err != nil {
		return nil, err
	}
	return c.lookup(ctx, nodeID)
}

// refreshInventory queries both lists and stores them.
func (c *Client) refreshInventory(ctx context.Context, nodeID uint8) error {
	classes, err := c.GetClassList(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("class list of node %d: %w", nodeID, err)
	}
	objects, err := c.GetObjectList(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("object list of node %d: %w", nodeID, err)
	}
	if err := c.directory.SetInventory(ctx, nodeID, classes, objects); err != nil {
		return fmt.Errorf("storing inventory of node %d: %w", nodeID, err)
	}
	return nil
}

// GetAllNodeInfos returns every node in the directory.
//
// With force set, the client first browses for advertised devices (when a
// Browser is configured) and registers them, then refreshes every node's
// inventory over the wire. Without force, only nodes whose inventory cache
// is empty are queried. A node that does not answer keeps its cached
// inventory; its error is logged, not returned.
func (c *Client) GetAllNodeInfos(ctx context.Context, force bool) ([]node.Node, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if force && c.browser != nil {
		c.browse(ctx)
	}

	nodes, err := c.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, n := range nodes {
		if !force && n.HasInventory() {
			continue
		}
		id := n.ID
		g.Go(func() error {
			if err := c.refreshInventory(gctx, id); err != nil {
				c.logger.Warn("node inventory refresh failed", "node", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	nodes, err = c.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, nil
}

// browse registers every device found by mDNS within the browse window.
func (c *Client) browse(ctx context.Context) {
	services, err := c.browser.Browse(ctx, c.cfg.BrowseWindow)
	if err != nil {
		c.logger.Warn("mdns browse failed", "error", err)
		return
	}
	now := time.Now()
	for _, svc := range services {
		addr, ok := svc.Address()
		if !ok {
			continue
		}
		n, err := c.directory.Register(ctx, svc.Info.Name, addr, now)
		if err != nil {
			c.logger.Warn("registering discovered node failed", "instance", svc.Info.Instance, "addr", addr, "error", err)
			continue
		}
		c.book.learn(addr, n.ID)
		c.logger.Info("node discovered", "node", n.ID, "addr", addr, "name", svc.Info.Name)
	}
}

// CountObjectsByClass counts cached objects of classID across all nodes.
func (c *Client) CountObjectsByClass(ctx context.Context, classID uint16) (int, error) {
	nodes, err := c.directory.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing nodes: %w", err)
	}
	count := 0
	for i := range nodes {
		count += nodes[i].CountObjects(classID)
	}
	return count, nil
}

// SetLocation assigns a logical location path to a node.
func (c *Client) SetLocation(ctx context.Context, nodeID uint8, location string) error {
	err := c.directory.SetLocation(ctx, nodeID, location)
	if errors.Is(err, node.ErrNodeNotFound) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	return err
}

// GetLocation returns a node's location path ("" when unset).
func (c *Client) GetLocation(ctx context.Context, nodeID uint8) (string, error) {
	n, err := c.lookup(ctx, nodeID)
	if err != nil {
		return "", err
	}
	return n.Location, nil
}

// Node returns the directory entry for a node.
func (c *Client) Node(ctx context.Context, nodeID uint8) (*node.Node, error) {
	return c.lookup(ctx, nodeID)
}

func (c *Client) lookup(ctx context.Context, nodeID uint8) (*node.Node, error) {
	n, err := c.directory.Get(ctx, nodeID)
	if errors.Is(err, node.ErrNodeNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	return n, err
}

// ─── Controller ────────────────────────────────────────────────────

// EnterAddMode puts the local controller into add mode.
func (c *Client) EnterAddMode(ctx context.Context) error {
	if c.controller == nil {
		return ErrControllerUnavailable
	}
	return c.controller.EnterAddMode(ctx)
}

// StopMode takes the local controller out of add mode.
func (c *Client) StopMode(ctx context.Context) error {
	if c.controller == nil {
		return ErrControllerUnavailable
	}
	return c.controller.StopMode(ctx)
}

// ResetController resets the local controller.
func (c *Client) ResetController(ctx context.Context) error {
	if c.controller == nil {
		return ErrControllerUnavailable
	}
	return c.controller.Reset(ctx)
}

// LearnNode asks the local controller to learn the next node.
func (c *Client) LearnNode(ctx context.Context) error {
	if c.controller == nil {
		return ErrControllerUnavailable
	}
	return c.controller.Learn(ctx)
}

// CurrentStatus returns the controller's latest status line.
func (c *Client) CurrentStatus() (string, error) {
	if c.controller == nil {
		return "", ErrControllerUnavailable
	}
	status, _ := c.controller.CurrentStatus()
	return status, nil
}

// WaitForStatus waits for a controller status containing substr. See
// Controller.WaitForStatus.
func (c *Client) WaitForStatus(ctx context.Context, substr string, timeout time.Duration) (bool, error) {
	if c.controller == nil {
		return false, ErrControllerUnavailable
	}
	return c.controller.WaitForStatus(ctx, substr, timeout), nil
}
