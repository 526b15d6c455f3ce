package gateway

import (
	"bufio"
	"context"
	"encoding/hex"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/transport"
	"github.com/wukong-iot/wkpf-gateway/internal/transport/transporttest"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// relayBench is a client whose transport muxes an in-memory UDP endpoint
// with a serial link. The far end of the link plays the controller.
type relayBench struct {
	client *Client
	link   *transport.Serial
	far    net.Conn
	frames chan wkpf.Message
}

func newRelayBench(t *testing.T) *relayBench {
	t.Helper()

	near, far := net.Pipe()
	link := transport.NewSerial("/dev/ttyACM0", near)
	endpoint := transporttest.NewNetwork().Attach(gatewayAddr)

	mux := transport.NewMux(endpoint)
	mux.RouteSerial(link)

	client, err := NewClient(ClientOptions{
		Config:    Config{RequestTimeout: time.Second},
		Transport: mux,
		Directory: openDirectory(t),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close() //nolint:errcheck // Test cleanup
		far.Close()
		mux.Close() //nolint:errcheck // Test cleanup
	})

	b := &relayBench{client: client, link: link, far: far, frames: make(chan wkpf.Message, 8)}
	go func() {
		r := bufio.NewReader(far)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			hexFrame, ok := strings.CutPrefix(strings.TrimSpace(line), "#")
			if !ok {
				continue
			}
			data, err := hex.DecodeString(hexFrame)
			if err != nil {
				continue
			}
			if msg, err := wkpf.ParseMessage(data); err == nil {
				b.frames <- msg
			}
		}
	}()
	return b
}

// relay writes msg as a frame from the controller.
func (b *relayBench) relay(t *testing.T, msg wkpf.Message) {
	t.Helper()
	frame, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if _, err := b.far.Write([]byte("#" + hex.EncodeToString(frame) + "\n")); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func (b *relayBench) next(t *testing.T, want wkpf.Kind) wkpf.Message {
	t.Helper()
	select {
	case msg := <-b.frames:
		if msg.Kind != want {
			t.Fatalf("controller received %s, want %s", msg.Kind, want)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("controller received no %s", want)
		return wkpf.Message{}
	}
}

func TestSerialRelayedNode(t *testing.T) {
	b := newRelayBench(t)
	ctx := context.Background()

	announce, err := wkpf.Announce{ClassCount: 1, ObjectCount: 1, Name: "relayed"}.MarshalBinary()
	if err != nil {
		t.Fatalf("Announce.MarshalBinary() error = %v", err)
	}
	b.relay(t, wkpf.Message{Seq: 7, Kind: wkpf.KindNodeAnnounce, Payload: announce})

	ack := b.next(t, wkpf.KindNodeAnnounceAck)
	if ack.Seq != 7 || len(ack.Payload) != 1 || ack.Payload[0] != 1 {
		t.Fatalf("announce ack = %+v, want seq 7 node 1", ack)
	}
	n, err := b.client.Node(ctx, 1)
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if n.Address() != b.link.RelayAddr() || n.Name != "relayed" {
		t.Errorf("node = %+v, want %s", n, b.link.RelayAddr())
	}

	type result struct {
		v   Value
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := b.client.GetProperty(ctx, 1, 0, 1, 0)
		done <- result{v, err}
	}()

	req := b.next(t, wkpf.KindGetRequest)
	payload, err := wkpf.EncodeTyped(int16(42), wkpf.TypeShort)
	if err != nil {
		t.Fatalf("EncodeTyped() error = %v", err)
	}
	b.relay(t, wkpf.Message{Seq: req.Seq, Kind: wkpf.KindGetResponse, Object: req.Object, Property: req.Property, Payload: payload})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("GetProperty() error = %v", r.err)
		}
		if r.v.Type != wkpf.TypeShort || r.v.Value != int16(42) {
			t.Errorf("GetProperty() = %+v, want short 42", r.v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetProperty() did not return")
	}
	if s := b.client.Stats(); s.ResponsesStale != 0 {
		t.Errorf("ResponsesStale = %d, want 0", s.ResponsesStale)
	}
}

func TestSerialRelayedUpdate(t *testing.T) {
	b := newRelayBench(t)

	got := make(chan Update, 1)
	b.client.Subscribe(func(u Update) { got <- u })

	payload, _ := wkpf.EncodeTyped(true, wkpf.TypeBoolean)
	b.relay(t, wkpf.Message{Seq: 1, Kind: wkpf.KindPropertyUpdate, Object: 2, Property: 1, Payload: payload})

	select {
	case u := <-got:
		if u.Addr != b.link.RelayAddr() || u.Value != true {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relayed update not delivered")
	}
}
