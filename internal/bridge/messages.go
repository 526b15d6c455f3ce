package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/mqtt"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// StateMessage is published whenever a property update is accepted.
// Topic: wukong/state/{node}/{object}/{property}
// QoS: configured, Retained: Yes
type StateMessage struct {
	Node     uint8          `json:"node"`
	Object   uint8          `json:"object"`
	Property uint8          `json:"property"`
	Type     wkpf.ValueType `json:"type"`
	Value    any            `json:"value"`

	// Tag is the gateway's delivery tag; consumers can use it to discard
	// out-of-order retained state.
	Tag uint64 `json:"tag"`

	// Seq is the device's update counter.
	Seq  uint16 `json:"seq"`
	Addr string `json:"addr"`

	Timestamp time.Time `json:"timestamp"`
}

// NewStateMessage builds the state payload for an accepted update.
func NewStateMessage(u gateway.Update) StateMessage {
	return StateMessage{
		Node:      u.Node,
		Object:    u.Object,
		Property:  u.Property,
		Type:      u.Type,
		Value:     wkpf.JSONValue(u.Value),
		Tag:       u.Tag,
		Seq:       u.Seq,
		Addr:      u.Addr,
		Timestamp: u.Received.UTC(),
	}
}

// CommandMessage requests a property write.
// Topic: wukong/command/{node}/{object}/{property}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. One is generated
	// when empty.
	ID string `json:"id"`

	// Type is the property's value type name (e.g. "byte_list", "short").
	Type string `json:"type"`

	// Value is the JSON value; it is coerced to Type before encoding.
	Value any `json:"value"`

	// Port overrides the node's registered port when non-zero.
	Port int `json:"port,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the device stored the value.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected locally or by the device.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeInvalidValue   = "INVALID_VALUE"
	ErrCodeUnknownNode    = "UNKNOWN_NODE"
	ErrCodeRejected       = "REJECTED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeBridgeError    = "BRIDGE_ERROR"
)

// AckMessage acknowledges a command.
// Topic: wukong/ack/{node}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Node      uint8     `json:"node"`
	Object    uint8     `json:"object"`
	Property  uint8     `json:"property"`
	Status    AckStatus `json:"status"`

	// Value is the value the device stored, set on accepted acks.
	Value any `json:"value,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// WireCode is the device's error code name for REJECTED acks.
	WireCode string `json:"wire_code,omitempty"`
}

// HealthStatus represents the operational status of the gateway bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's status.
// Topic: wukong/system/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string             `json:"bridge"`
	Timestamp     time.Time          `json:"timestamp"`
	Status        HealthStatus       `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Statistics    *GatewayStatistics `json:"statistics,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// GatewayStatistics are the comm client counters included in health
// messages.
type GatewayStatistics struct {
	Pending          int    `json:"pending"`
	Requests         uint64 `json:"requests"`
	Timeouts         uint64 `json:"timeouts"`
	UpdatesAccepted  uint64 `json:"updates_accepted"`
	UpdatesDuplicate uint64 `json:"updates_duplicate"`
	DatagramsDropped uint64 `json:"datagrams_dropped"`
	NodesAnnounced   uint64 `json:"nodes_announced"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats gateway.Stats, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Statistics: &GatewayStatistics{
			Pending:          stats.Pending,
			Requests:         stats.Requests,
			Timeouts:         stats.Timeouts,
			UpdatesAccepted:  stats.UpdatesAccepted,
			UpdatesDuplicate: stats.UpdatesDuplicate,
			DatagramsDropped: stats.DatagramsDropped,
			NodesAnnounced:   stats.NodesAnnounced,
		},
	}
}

// commandTopicParts is wukong/command/{node}/{object}/{property}.
const commandTopicParts = 5

// ParseCommandTopic extracts the property address from a command topic.
func ParseCommandTopic(topic string) (node, object, property uint8, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[0] != mqtt.TopicPrefix || parts[1] != "command" {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	var ids [3]uint8
	for i, s := range parts[2:] {
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: segment %q", ErrInvalidTopic, topic, s)
		}
		ids[i] = uint8(n)
	}
	return ids[0], ids[1], ids[2], nil
}

// UpdateSubject returns the NATS subject for a property update.
//
// Example: wukong.update.3.1.0
func UpdateSubject(prefix string, node, object, property uint8) string {
	return fmt.Sprintf("%s.update.%d.%d.%d", prefix, node, object, property)
}
