package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes a gateway config whose external backends are all
// disabled and returns its path.
func writeConfig(t *testing.T, dir, dbPath string, apiEnabled bool) string {
	t.Helper()
	content := fmt.Sprintf(`
gateway:
  id: test-gateway
  listen_address: "127.0.0.1:0"
  request_timeout: 500ms
controller:
  enabled: true
  device: %q
discovery:
  enabled: false
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
nats:
  enabled: false
influxdb:
  enabled: false
api:
  enabled: %t
  host: "127.0.0.1"
  port: 18475
trace:
  enabled: true
  path: %q
logging:
  level: error
  format: text
  output: stderr
`, filepath.Join(dir, "no-such-tty"), dbPath, apiEnabled, filepath.Join(dir, "wire.trace"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configPathEnv, "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv(configPathEnv, "/etc/wkgateway.yaml")
	if got := getConfigPath(); got != "/etc/wkgateway.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestRunInvalidConfigPath(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the config file is missing")
	}
}

func TestRunUnusableDatabasePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	// The database directory would have to be created beneath a file.
	t.Setenv(configPathEnv, writeConfig(t, dir, filepath.Join(blocker, "sub", "gw.db"), false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the database cannot be created")
	}
}

func TestRunStartsAndStops(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(configPathEnv, writeConfig(t, dir, filepath.Join(dir, "data", "gw.db"), true))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	// Startup failures return quickly; a healthy gateway keeps running.
	select {
	case err := <-errCh:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(filepath.Join(dir, "data", "gw.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "wire.trace")); err != nil {
		t.Errorf("wire trace not created: %v", err)
	}
}
