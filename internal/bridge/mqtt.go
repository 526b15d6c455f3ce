package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wukong-iot/wkpf-gateway/internal/audit"
	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/mqtt"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// defaultCommandTimeout bounds one command, including any retries the
// gateway client makes.
const defaultCommandTimeout = 5 * time.Second

// MQTTClient is the subset of *mqtt.Client used by the bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Commander executes property writes. Satisfied by *gateway.Client.
type Commander interface {
	SetProperty(ctx context.Context, nodeID uint8, port int, objectID, property uint8, t wkpf.ValueType, value any) (gateway.Value, error)
	Stats() gateway.Stats
}

// MQTTBridgeOptions holds configuration for creating an MQTT bridge.
type MQTTBridgeOptions struct {
	// Client is the connected MQTT client.
	Client MQTTClient

	// Gateway executes commands and provides health statistics.
	Gateway Commander

	// QoS for state and ack messages. Health is always QoS 1.
	QoS byte

	// CommandTimeout bounds each command. Default: 5s.
	CommandTimeout time.Duration

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// BridgeID identifies this gateway in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Audit records executed commands. Optional.
	Audit audit.Recorder

	// Logger is optional structured logger.
	Logger Logger
}

// MQTTBridge publishes property state to MQTT, executes property commands
// received from MQTT, and reports health.
//
// It is a Sink; add it to a Fanout to receive updates.
//
// Thread Safety: All methods are safe for concurrent use.
type MQTTBridge struct {
	mqtt           MQTTClient
	gateway        Commander
	qos            byte
	commandTimeout time.Duration
	health         *HealthReporter
	audit          audit.Recorder
	logger         Logger

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
}

// NewMQTTBridge creates a new bridge instance.
// Call Start to subscribe to commands and begin health reporting.
func NewMQTTBridge(opts MQTTBridgeOptions) (*MQTTBridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrMissingDependency)
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrMissingDependency)
	}
	if opts.QoS > 2 { //nolint:mnd // MQTT QoS levels are 0-2
		return nil, mqtt.ErrInvalidQoS
	}

	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = "wkgateway"
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := orNoop(opts.Logger)

	return &MQTTBridge{
		mqtt:           opts.Client,
		gateway:        opts.Gateway,
		qos:            opts.QoS,
		commandTimeout: timeout,
		audit:          opts.Audit,
		logger:         logger,
		ctx:            ctx,
		ctxCancel:      cancel,
		health: NewHealthReporter(HealthReporterConfig{
			BridgeID:  bridgeID,
			Version:   opts.Version,
			Interval:  opts.HealthInterval,
			Publisher: opts.Client,
			Stats:     opts.Gateway,
			Logger:    logger,
		}),
	}, nil
}

// Start subscribes to command topics and starts health reporting.
func (b *MQTTBridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	topic := mqtt.Topics{}.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)
	return nil
}

// Stop aborts in-flight commands and stops health reporting.
func (b *MQTTBridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.logger.Info("mqtt bridge stopped")
	})
}

// Name implements Sink.
func (b *MQTTBridge) Name() string { return "mqtt" }

// Forward implements Sink by publishing retained state.
func (b *MQTTBridge) Forward(_ context.Context, u gateway.Update) error {
	payload, err := json.Marshal(NewStateMessage(u))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return b.mqtt.Publish(mqtt.Topics{}.State(u.Node, u.Object, u.Property), payload, b.qos, true)
}

// handleCommand executes one property command and publishes its ack.
// Commands that cannot be parsed are acknowledged as failed when the
// topic identifies a node.
func (b *MQTTBridge) handleCommand(topic string, payload []byte) error {
	node, object, property, err := ParseCommandTopic(topic)
	if err != nil {
		return err
	}

	ack := AckMessage{Node: node, Object: object, Property: property}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		ack.fail(ErrCodeInvalidCommand, fmt.Sprintf("parse command: %v", err))
		b.publishAck(ack)
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	ack.CommandID = cmd.ID

	valueType, err := wkpf.ParseValueType(cmd.Type)
	if err != nil {
		ack.fail(ErrCodeInvalidCommand, err.Error())
		b.publishAck(ack)
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"node", node,
		"object", object,
		"property", property,
		"type", valueType,
		"source", cmd.Source)

	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	stored, err := b.gateway.SetProperty(ctx, node, cmd.Port, object, property, valueType, cmd.Value)
	b.record(cmd, node, object, property, err)
	if err != nil {
		classifyFailure(&ack, err)
		b.publishAck(ack)
		b.logger.Warn("command failed",
			"command_id", cmd.ID,
			"status", ack.Status,
			"error", err)
		return nil
	}

	ack.Status = AckAccepted
	ack.Value = wkpf.JSONValue(stored.Value)
	b.publishAck(ack)
	return nil
}

// record stores an audit entry for an executed command.
func (b *MQTTBridge) record(cmd CommandMessage, node, object, property uint8, cmdErr error) {
	if b.audit == nil {
		return
	}
	e := audit.Entry{
		Action:  audit.ActionSetProperty,
		Node:    node,
		Source:  audit.SourceMQTT,
		Subject: cmd.Source,
		Details: map[string]any{
			"command_id": cmd.ID,
			"object":     object,
			"property":   property,
			"type":       cmd.Type,
			"value":      cmd.Value,
		},
	}
	e.SetResult(cmdErr)
	if err := b.audit.Create(context.WithoutCancel(b.ctx), &e); err != nil {
		b.logger.Warn("failed to record audit entry", "command_id", cmd.ID, "error", err)
	}
}

func (a *AckMessage) fail(code, message string) {
	a.Status = AckFailed
	a.Error = &AckError{Code: code, Message: message}
}

// classifyFailure maps a SetProperty error to an ack status and code.
func classifyFailure(ack *AckMessage, err error) {
	var remote *gateway.RemoteError
	switch {
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		ack.Status = AckTimeout
		ack.Error = &AckError{Code: ErrCodeTimeout, Message: err.Error()}
	case errors.As(err, &remote):
		ack.fail(ErrCodeRejected, err.Error())
		ack.Error.WireCode = remote.Code.String()
	case errors.Is(err, gateway.ErrUnknownNode):
		ack.fail(ErrCodeUnknownNode, err.Error())
	case errors.Is(err, wkpf.ErrTypeMismatch), errors.Is(err, wkpf.ErrPayloadTooLarge):
		ack.fail(ErrCodeInvalidValue, err.Error())
	default:
		ack.fail(ErrCodeBridgeError, err.Error())
	}
}

func (b *MQTTBridge) publishAck(ack AckMessage) {
	ack.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Ack(ack.Node), payload, b.qos, false); err != nil {
		b.logger.Error("failed to publish ack", "error", err)
	}
}
