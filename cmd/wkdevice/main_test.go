package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ─── Arguments ─────────────────────────────────────────────────────

func TestParseAddresses(t *testing.T) {
	tests := []struct {
		name        string
		gateway     string
		listen      string
		port        int
		wantGateway string
		wantErr     bool
	}{
		{"valid", "10.0.0.1", "10.0.0.5:3000", 5775, "10.0.0.1:5775", false},
		{"custom gateway port", "10.0.0.1", "10.0.0.5:3000", 6000, "10.0.0.1:6000", false},
		{"ipv6", "::1", "[::1]:3000", 5775, "[::1]:5775", false},
		{"gateway hostname", "gateway.local", "10.0.0.5:3000", 5775, "", true},
		{"listen without port", "10.0.0.1", "10.0.0.5", 5775, "", true},
		{"listen hostname", "10.0.0.1", "device:3000", 5775, "", true},
		{"listen port zero", "10.0.0.1", "10.0.0.5:0", 5775, "", true},
		{"listen port text", "10.0.0.1", "10.0.0.5:http", 5775, "", true},
		{"gateway port out of range", "10.0.0.1", "10.0.0.5:3000", 70000, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, listen, err := parseAddresses(tt.gateway, tt.listen, tt.port)
			if tt.wantErr {
				if !errors.Is(err, errUsage) {
					t.Errorf("error = %v, want errUsage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAddresses() error = %v", err)
			}
			if gw != tt.wantGateway || listen != tt.listen {
				t.Errorf("got (%q, %q), want (%q, %q)", gw, listen, tt.wantGateway, tt.listen)
			}
		})
	}
}

func TestRootCommandRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"one argument", []string{"10.0.0.1"}},
		{"three arguments", []string{"10.0.0.1", "10.0.0.5:3000", "extra"}},
		{"malformed listen address", []string{"10.0.0.1", "nonsense"}},
		{"malformed gateway", []string{"not-an-ip", "10.0.0.5:3000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if !errors.Is(err, errUsage) {
				t.Fatalf("Execute() error = %v, want errUsage", err)
			}
			if !strings.Contains(out.String(), "Usage:") {
				t.Errorf("usage not printed: %q", out.String())
			}
		})
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"classes", "advertise", "log-level", "name", "gateway-port", "iface"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s missing", name)
		}
	}
}

// ─── Running ───────────────────────────────────────────────────────

func TestRunAnnouncesToGateway(t *testing.T) {
	gw, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, options{
			gatewayAddr: gw.LocalAddr().String(),
			listenAddr:  "127.0.0.1:0",
			name:        "test-device",
			logLevel:    "error",
			announce:    100 * time.Millisecond,
		})
	}()

	//nolint:errcheck // test deadline
	gw.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 512)
	n, from, err := gw.ReadFrom(buf)
	if err != nil {
		cancel()
		t.Fatalf("no announcement received: %v", err)
	}
	if n == 0 || from == nil {
		t.Errorf("empty announcement from %v", from)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRunInvalidClassLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.yaml")
	if err := os.WriteFile(path, []byte("classes: [{id: 1}]"), 0o600); err != nil {
		t.Fatalf("write library: %v", err)
	}

	err := run(context.Background(), options{
		gatewayAddr: "127.0.0.1:5775",
		listenAddr:  "127.0.0.1:0",
		name:        "test-device",
		classes:     path,
		logLevel:    "error",
	})
	if err == nil {
		t.Fatal("run() should fail for a class without a name")
	}
}

func TestRunMissingClassLibrary(t *testing.T) {
	err := run(context.Background(), options{
		gatewayAddr: "127.0.0.1:5775",
		listenAddr:  "127.0.0.1:0",
		classes:     filepath.Join(t.TempDir(), "missing.yaml"),
		logLevel:    "error",
	})
	if err == nil {
		t.Fatal("run() should fail when the class library is missing")
	}
}
