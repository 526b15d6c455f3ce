package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/config"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelPropertyUpdate carries accepted PROPERTY_UPDATE notifications.
const ChannelPropertyUpdate = "property.update"

// knownChannels lists the channels a client may subscribe to.
var knownChannels = map[string]bool{
	ChannelPropertyUpdate: true,
}

// wsSendBufferSize is the per-client outbound queue length. Messages for a
// client whose queue is full are dropped.
const wsSendBufferSize = 256

// WSMessage is the envelope for every message in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
// Nodes narrows property updates to the listed node IDs; an empty list
// means every node.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Nodes    []uint8  `json:"nodes,omitempty"`
}

// Hub tracks WebSocket clients and delivers events to the ones subscribed.
// It is also a bridge fan-out sink for property updates.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub. Run must be called to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", c.subject)
}

// Unregister removes a client and stops its writer.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to channel,
// regardless of node filters.
func (h *Hub) Broadcast(channel string, payload any) {
	h.publish(channel, 0, payload)
}

// Name implements the bridge Sink interface.
func (h *Hub) Name() string { return "websocket" }

// Forward implements the bridge Sink interface. The update reaches clients
// subscribed to property.update whose node filter admits u.Node.
func (h *Hub) Forward(_ context.Context, u gateway.Update) error {
	h.publish(ChannelPropertyUpdate, u.Node, u)
	return nil
}

// publish encodes one event and queues it on matching clients. Node 0
// bypasses node filters.
func (h *Hub) publish(channel string, node uint8, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	recipients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel, node) {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range recipients {
		if !c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket clients too slow, events dropped", "channel", channel, "dropped", dropped)
	}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string // token subject from the ticket; empty when auth is disabled

	pingInterval time.Duration
	pongWait     time.Duration

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
	nodes    map[uint8]struct{}
}

func newWSClient(h *Hub, conn *websocket.Conn, subject string) *WSClient {
	return &WSClient{
		hub:          h,
		conn:         conn,
		subject:      subject,
		pingInterval: time.Duration(h.cfg.PingInterval) * time.Second,
		pongWait:     time.Duration(h.cfg.PongTimeout) * time.Second,
		send:         make(chan []byte, wsSendBufferSize),
		done:         make(chan struct{}),
		channels:     make(map[string]struct{}),
		nodes:        make(map[uint8]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection. With auth enabled a single-use
// ticket from POST /auth/ws-ticket is required in the ticket query.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var entry ticketEntry
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.redeem(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "websocket hub not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, entry.subject)
	s.hub.Register(client)
	go client.writeLoop()
	go client.readLoop(int64(s.wsCfg.MaxMessageSize))
}

// shutdown stops the writer and closes the connection. Safe to call more
// than once.
func (c *WSClient) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue queues data for the writer. It reports false if the client's
// queue is full; after shutdown data is discarded.
func (c *WSClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// wants reports whether the client subscribed to channel and, for node
// specific events, whether its node filter admits node.
func (c *WSClient) wants(channel string, node uint8) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if node == 0 || len(c.nodes) == 0 {
		return true
	}
	_, ok := c.nodes[node]
	return ok
}

func (c *WSClient) extendDeadline() {
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
}

// readLoop handles client messages until the connection fails. Any client
// message extends the read deadline, as do pongs.
func (c *WSClient) readLoop(limit int64) {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(limit)
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.extendDeadline()
		c.handleMessage(data)
	}
}

// writeLoop drains the send queue and pings at the configured interval.
func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			//nolint:errcheck // connection is going away
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *WSClient) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.pongWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		sub, err := decodeSubscription(msg.Payload)
		if err != nil {
			c.reply(msg.ID, WSTypeError, errorPayload(err.Error()))
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(sub)
			c.hub.logger.Info("websocket client subscribed",
				"channels", sub.Channels, "nodes", sub.Nodes, "subject", c.subject)
			c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "nodes": sub.Nodes})
			return
		}
		c.unsubscribe(sub)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// decodeSubscription re-decodes a generic payload and checks channel names.
func decodeSubscription(payload any) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(payload)
	if err != nil {
		return sub, fmt.Errorf("invalid payload")
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, fmt.Errorf("invalid subscription payload")
	}
	if len(sub.Channels) == 0 {
		return sub, fmt.Errorf("channels are required")
	}
	for _, ch := range sub.Channels {
		if !knownChannels[ch] {
			return sub, fmt.Errorf("unknown channel %q", ch)
		}
	}
	for _, n := range sub.Nodes {
		if n == 0 {
			return sub, fmt.Errorf("node IDs start at 1")
		}
	}
	return sub, nil
}

// subscribe adds channels and widens the node filter. Subscribing without
// nodes clears the filter.
func (c *WSClient) subscribe(sub WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range sub.Channels {
		c.channels[ch] = struct{}{}
	}
	if len(sub.Nodes) == 0 {
		clear(c.nodes)
		return
	}
	for _, n := range sub.Nodes {
		c.nodes[n] = struct{}{}
	}
}

// unsubscribe removes channels, or only the listed nodes when Nodes is set.
func (c *WSClient) unsubscribe(sub WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(sub.Nodes) > 0 {
		for _, n := range sub.Nodes {
			delete(c.nodes, n)
		}
		return
	}
	for _, ch := range sub.Channels {
		delete(c.channels, ch)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
