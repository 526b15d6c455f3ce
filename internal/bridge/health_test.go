package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
)

func lastHealth(t *testing.T, client *MockMQTTClient) HealthMessage {
	t.Helper()
	msgs := client.PublishedOn("wukong/system/health")
	if len(msgs) == 0 {
		t.Fatal("no health published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHealthReporterStatus(t *testing.T) {
	client := NewMockMQTTClient()
	gw := &fakeCommander{}
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "gw-1",
		Version:   "1.2.3",
		Publisher: client,
		Stats:     gw,
	})

	steps := []struct {
		name      string
		connected bool
		timeouts  uint64
		dropped   uint64
		want      HealthStatus
		reason    string
	}{
		{"healthy", true, 0, 0, HealthHealthy, ""},
		{"new timeouts", true, 2, 0, HealthDegraded, "node requests timing out"},
		{"no new timeouts", true, 2, 0, HealthHealthy, ""},
		{"datagrams dropped", true, 2, 5, HealthDegraded, "inbound datagrams dropped"},
		{"drops settled", true, 2, 5, HealthHealthy, ""},
		{"broker down", false, 2, 5, HealthDegraded, "MQTT disconnected"},
	}
	for _, step := range steps {
		client.setConnected(step.connected)
		gw.setStats(gateway.Stats{
			Timeouts:         step.timeouts,
			DatagramsDropped: step.dropped,
			Requests:         10,
			UpdatesAccepted:  4,
		})

		if err := h.PublishNow(); err != nil {
			t.Fatalf("%s: PublishNow: %v", step.name, err)
		}
		msg := lastHealth(t, client)
		if msg.Status != step.want || msg.Reason != step.reason {
			t.Errorf("%s: status=%q reason=%q, want %q %q", step.name, msg.Status, msg.Reason, step.want, step.reason)
		}
		if msg.Bridge != "gw-1" || msg.Version != "1.2.3" {
			t.Errorf("%s: bridge/version = %q/%q", step.name, msg.Bridge, msg.Version)
		}
		if msg.Statistics == nil || msg.Statistics.Requests != 10 || msg.Statistics.UpdatesAccepted != 4 {
			t.Errorf("%s: statistics = %+v", step.name, msg.Statistics)
		}
	}
}

func TestHealthReporterLoopPublishesAndStops(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "gw-1",
		Interval:  10 * time.Millisecond,
		Publisher: client,
	})

	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(client.PublishedOn("wukong/system/health")) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("health loop did not publish periodically")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Stop()
	h.Stop()

	if got := lastHealth(t, client).Status; got != HealthStopping {
		t.Errorf("final status = %q, want stopping", got)
	}
}

func TestHealthReporterWithoutPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow without publisher: %v", err)
	}
	h.Stop()
}

func TestHealthReporterStopsWithContext(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Interval: time.Hour, Publisher: client})

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}
