package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wukong-iot/wkpf-gateway/internal/audit"
	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/mqtt"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	handlers   map[string]mqtt.MessageHandler
	connected  bool
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) failPublish(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// Deliver simulates a message arriving on a subscription pattern.
func (m *MockMQTTClient) Deliver(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + pattern)
	}
	return handler(topic, payload)
}

// PublishedOn returns messages published on topic.
func (m *MockMQTTClient) PublishedOn(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// fakeCommander implements Commander for testing.
type fakeCommander struct {
	mu    sync.Mutex
	calls []setCall
	set   func(setCall) (gateway.Value, error)
	stats gateway.Stats
}

type setCall struct {
	Node, Object, Property uint8
	Port                   int
	Type                   wkpf.ValueType
	Value                  any
}

func (f *fakeCommander) SetProperty(_ context.Context, nodeID uint8, port int, objectID, property uint8, t wkpf.ValueType, value any) (gateway.Value, error) {
	call := setCall{Node: nodeID, Object: objectID, Property: property, Port: port, Type: t, Value: value}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	set := f.set
	f.mu.Unlock()
	if set == nil {
		return gateway.Value{Type: t, Value: value}, nil
	}
	return set(call)
}

func (f *fakeCommander) Stats() gateway.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeCommander) setStats(s gateway.Stats) {
	f.mu.Lock()
	f.stats = s
	f.mu.Unlock()
}

func newTestBridge(t *testing.T, gw *fakeCommander) (*MQTTBridge, *MockMQTTClient) {
	t.Helper()
	client := NewMockMQTTClient()
	b, err := NewMQTTBridge(MQTTBridgeOptions{
		Client:         client,
		Gateway:        gw,
		QoS:            1,
		HealthInterval: time.Hour,
		Version:        "test",
	})
	if err != nil {
		t.Fatalf("NewMQTTBridge: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client
}

func lastAck(t *testing.T, client *MockMQTTClient, node uint8) AckMessage {
	t.Helper()
	acks := client.PublishedOn(mqtt.Topics{}.Ack(node))
	if len(acks) == 0 {
		t.Fatalf("no ack published for node %d", node)
	}
	last := acks[len(acks)-1]
	if last.Retained {
		t.Error("acks must not be retained")
	}
	var ack AckMessage
	if err := json.Unmarshal(last.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

// ─── Construction ───────────────────────────────────────────────────

func TestNewMQTTBridgeValidation(t *testing.T) {
	tests := []struct {
		name string
		opts MQTTBridgeOptions
		want error
	}{
		{"missing client", MQTTBridgeOptions{Gateway: &fakeCommander{}}, ErrMissingDependency},
		{"missing gateway", MQTTBridgeOptions{Client: NewMockMQTTClient()}, ErrMissingDependency},
		{"bad qos", MQTTBridgeOptions{Client: NewMockMQTTClient(), Gateway: &fakeCommander{}, QoS: 3}, mqtt.ErrInvalidQoS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMQTTBridge(tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStartSubscribesAndPublishesHealth(t *testing.T) {
	_, client := newTestBridge(t, &fakeCommander{})

	if err := client.Deliver("wukong/command/+/+/+", "wukong/command/1/1/0", []byte(`{"type":"byte","value":1}`)); err != nil {
		t.Fatalf("command subscription missing: %v", err)
	}

	health := client.PublishedOn("wukong/system/health")
	if len(health) == 0 {
		t.Fatal("no health published")
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if first.Status != HealthStarting {
		t.Errorf("first health status = %q, want starting", first.Status)
	}
	if !health[0].Retained {
		t.Error("health must be retained")
	}
}

// ─── State publishing ───────────────────────────────────────────────

func TestForwardPublishesRetainedState(t *testing.T) {
	b, client := newTestBridge(t, &fakeCommander{})

	u := gateway.Update{
		Tag: 12, Node: 3, Addr: "10.0.0.5:3000", Seq: 40,
		Object: 1, Property: 0,
		Type: wkpf.TypeByteList, Value: []uint8{3, 7, 9},
		Received: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := b.Forward(context.Background(), u); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	msgs := client.PublishedOn("wukong/state/3/1/0")
	if len(msgs) != 1 {
		t.Fatalf("published %d state messages, want 1", len(msgs))
	}
	if !msgs[0].Retained || msgs[0].QoS != 1 {
		t.Errorf("retained=%v qos=%d, want retained qos 1", msgs[0].Retained, msgs[0].QoS)
	}

	var got map[string]any
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "byte_list" {
		t.Errorf("type = %v, want byte_list", got["type"])
	}
	if !reflect.DeepEqual(got["value"], []any{3.0, 7.0, 9.0}) {
		t.Errorf("value = %v, want [3 7 9]", got["value"])
	}
	if got["tag"] != 12.0 || got["seq"] != 40.0 {
		t.Errorf("tag/seq = %v/%v, want 12/40", got["tag"], got["seq"])
	}
}

func TestForwardReturnsPublishError(t *testing.T) {
	b, client := newTestBridge(t, &fakeCommander{})
	client.failPublish(mqtt.ErrNotConnected)

	err := b.Forward(context.Background(), gateway.Update{Type: wkpf.TypeByte, Value: uint8(1)})
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

// ─── Commands ───────────────────────────────────────────────────────

func TestCommandAccepted(t *testing.T) {
	gw := &fakeCommander{
		set: func(c setCall) (gateway.Value, error) {
			v, err := wkpf.Coerce(c.Value, c.Type)
			return gateway.Value{Type: c.Type, Value: v}, err
		},
	}
	_, client := newTestBridge(t, gw)

	payload := []byte(`{"id":"cmd-1","type":"byte_list","value":[3,7,9],"port":3001}`)
	if err := client.Deliver(mqtt.Topics{}.AllCommands(), "wukong/command/3/1/0", payload); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(gw.calls) != 1 {
		t.Fatalf("SetProperty calls = %d, want 1", len(gw.calls))
	}
	call := gw.calls[0]
	if call.Node != 3 || call.Object != 1 || call.Property != 0 || call.Port != 3001 || call.Type != wkpf.TypeByteList {
		t.Errorf("call = %+v", call)
	}

	ack := lastAck(t, client, 3)
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want cmd-1 accepted", ack)
	}
	if !reflect.DeepEqual(ack.Value, []any{3.0, 7.0, 9.0}) {
		t.Errorf("ack value = %v, want [3 7 9]", ack.Value)
	}
	if ack.Error != nil {
		t.Errorf("unexpected ack error: %+v", ack.Error)
	}
}

func TestCommandGeneratesID(t *testing.T) {
	_, client := newTestBridge(t, &fakeCommander{})

	if err := client.Deliver(mqtt.Topics{}.AllCommands(), "wukong/command/2/1/0", []byte(`{"type":"short","value":-5}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	ack := lastAck(t, client, 2)
	if _, err := uuid.Parse(ack.CommandID); err != nil {
		t.Errorf("command id %q is not a UUID: %v", ack.CommandID, err)
	}
}

func TestCommandFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   AckStatus
		code     string
		wireCode string
	}{
		{"timeout", gateway.ErrTimeout, AckTimeout, ErrCodeTimeout, ""},
		{"rejected", &gateway.RemoteError{Node: 3, Object: 1, Code: wkpf.CodeAccessDenied}, AckFailed, ErrCodeRejected, "access_denied"},
		{"rejected type", &gateway.RemoteError{Node: 3, Object: 1, Code: wkpf.CodeTypeMismatch}, AckFailed, ErrCodeRejected, "type_mismatch"},
		{"unknown node", gateway.ErrUnknownNode, AckFailed, ErrCodeUnknownNode, ""},
		{"too large", wkpf.ErrPayloadTooLarge, AckFailed, ErrCodeInvalidValue, ""},
		{"other", errors.New("socket closed"), AckFailed, ErrCodeBridgeError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeCommander{set: func(setCall) (gateway.Value, error) { return gateway.Value{}, tt.err }}
			_, client := newTestBridge(t, gw)

			err := client.Deliver(mqtt.Topics{}.AllCommands(), "wukong/command/3/1/0", []byte(`{"id":"c","type":"byte","value":1}`))
			if err != nil {
				t.Fatalf("handler: %v", err)
			}

			ack := lastAck(t, client, 3)
			if ack.Status != tt.status {
				t.Errorf("status = %q, want %q", ack.Status, tt.status)
			}
			if ack.Error == nil {
				t.Fatal("ack error missing")
			}
			if ack.Error.Code != tt.code {
				t.Errorf("code = %q, want %q", ack.Error.Code, tt.code)
			}
			if ack.Error.WireCode != tt.wireCode {
				t.Errorf("wire code = %q, want %q", ack.Error.WireCode, tt.wireCode)
			}
		})
	}
}

func TestCommandInvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"id":"c","type":"float","value":1.5}`},
		{"missing type", `{"id":"c","value":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeCommander{}
			_, client := newTestBridge(t, gw)

			err := client.Deliver(mqtt.Topics{}.AllCommands(), "wukong/command/4/1/0", []byte(tt.payload))
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("err = %v, want ErrInvalidCommand", err)
			}
			if len(gw.calls) != 0 {
				t.Error("SetProperty must not be called")
			}
			ack := lastAck(t, client, 4)
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
				t.Errorf("ack = %+v, want failed INVALID_COMMAND", ack)
			}
		})
	}
}

func TestCommandBadTopicNotAcked(t *testing.T) {
	gw := &fakeCommander{}
	_, client := newTestBridge(t, gw)

	err := client.Deliver(mqtt.Topics{}.AllCommands(), "wukong/command/300/1/0", []byte(`{"type":"byte","value":1}`))
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("err = %v, want ErrInvalidTopic", err)
	}
	if len(gw.calls) != 0 {
		t.Error("SetProperty must not be called")
	}
}

func TestStopPublishesStopping(t *testing.T) {
	b, client := newTestBridge(t, &fakeCommander{})
	b.Stop()
	b.Stop()

	health := client.PublishedOn("wukong/system/health")
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %q, want stopping", last.Status)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *memoryAudit) Create(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func TestCommandsAreAudited(t *testing.T) {
	gw := &fakeCommander{
		set: func(c setCall) (gateway.Value, error) {
			if c.Node == 9 {
				return gateway.Value{}, gateway.ErrUnknownNode
			}
			return gateway.Value{Type: c.Type, Value: c.Value}, nil
		},
	}
	rec := &memoryAudit{}
	client := NewMockMQTTClient()
	b, err := NewMQTTBridge(MQTTBridgeOptions{
		Client:         client,
		Gateway:        gw,
		HealthInterval: time.Hour,
		Audit:          rec,
	})
	if err != nil {
		t.Fatalf("NewMQTTBridge: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)

	all := mqtt.Topics{}.AllCommands()
	//nolint:errcheck // outcomes are checked through the audit entries
	client.Deliver(all, "wukong/command/3/1/0", []byte(`{"id":"c1","type":"short","value":5,"source":"dashboard"}`))
	//nolint:errcheck // outcomes are checked through the audit entries
	client.Deliver(all, "wukong/command/9/1/0", []byte(`{"id":"c2","type":"short","value":5}`))
	//nolint:errcheck // unparseable commands never reach the device
	client.Deliver(all, "wukong/command/3/1/0", []byte(`not json`))

	if len(rec.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(rec.entries))
	}
	ok, failed := rec.entries[0], rec.entries[1]
	if ok.Action != audit.ActionSetProperty || ok.Source != audit.SourceMQTT || ok.Node != 3 ||
		ok.Subject != "dashboard" || ok.Outcome != audit.OutcomeOK || ok.Details["command_id"] != "c1" {
		t.Errorf("accepted entry = %+v", ok)
	}
	if failed.Node != 9 || failed.Outcome != audit.OutcomeError || failed.Error == "" {
		t.Errorf("failed entry = %+v", failed)
	}
}
