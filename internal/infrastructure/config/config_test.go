package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	return cfg
}

// ─── Load ──────────────────────────────────────────────────────────

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
gateway:
  id: "bench-gw"
  listen_address: "127.0.0.1:6000"
  request_timeout: 750ms
  retry:
    max_retries: 2
    initial_backoff: 100ms
    multiplier: 2
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
nats:
  enabled: true
  url: "nats://nats.local:4222"
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)
	t.Chdir(t.TempDir())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "bench-gw" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "bench-gw")
	}
	if cfg.Gateway.RequestTimeout != 750*time.Millisecond {
		t.Errorf("Gateway.RequestTimeout = %v, want 750ms", cfg.Gateway.RequestTimeout)
	}
	if cfg.Gateway.Retry.MaxRetries != 2 || cfg.Gateway.Retry.InitialBackoff != 100*time.Millisecond {
		t.Errorf("Gateway.Retry = %+v", cfg.Gateway.Retry)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://nats.local:4222" {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
	// Defaults survive for keys the file omits.
	if cfg.Gateway.DedupWindow != 30*time.Second {
		t.Errorf("Gateway.DedupWindow = %v, want default 30s", cfg.Gateway.DedupWindow)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
gateway:
  id: ""
`)
	t.Chdir(t.TempDir())

	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty gateway.id, got nil")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := writeConfig(t, "gateway:\n  id: from-file\n")

	dir := t.TempDir()
	env := "WKGATEWAY_GATEWAY_ID=from-dotenv\nWKGATEWAY_DATABASE_PATH=/from/dotenv.db\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	// An explicit environment variable wins over .env.
	t.Setenv("WKGATEWAY_DATABASE_PATH", "/from/env.db")
	// godotenv writes into the process environment; restore afterwards.
	t.Setenv("WKGATEWAY_GATEWAY_ID", "")
	os.Unsetenv("WKGATEWAY_GATEWAY_ID") //nolint:errcheck // restored by t.Setenv cleanup

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.ID != "from-dotenv" {
		t.Errorf("Gateway.ID = %q, want from-dotenv", cfg.Gateway.ID)
	}
	if cfg.Database.Path != "/from/env.db" {
		t.Errorf("Database.Path = %q, want /from/env.db", cfg.Database.Path)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("LoadDotEnv(missing) = %v, want nil", err)
	}
}

// ─── Validate ──────────────────────────────────────────────────────

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"auth disabled", func(c *Config) { c.Security.JWT.Secret = "" }, ""},
		{"missing gateway ID", func(c *Config) { c.Gateway.ID = "" }, "gateway.id"},
		{"missing listen address", func(c *Config) { c.Gateway.ListenAddress = "" }, "gateway.listen_address"},
		{"negative timeout", func(c *Config) { c.Gateway.RequestTimeout = -time.Second }, "durations"},
		{"negative retries", func(c *Config) { c.Gateway.Retry.MaxRetries = -1 }, "max_retries"},
		{"controller without device", func(c *Config) {
			c.Controller.Enabled = true
			c.Controller.Device = ""
		}, "controller.device"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"nats without url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URL = ""
		}, "nats.url"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"port ignored when API disabled", func(c *Config) {
			c.API.Enabled = false
			c.API.Port = 0
		}, ""},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, "security.jwt.secret"},
		{"trace without path", func(c *Config) {
			c.Trace.Enabled = true
			c.Trace.Path = ""
		}, "trace.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"gateway.id", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestAPITimeoutDurations(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
	if got := timeouts.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}
	if got := timeouts.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v, want 1m", got)
	}
}

// ─── Environment ───────────────────────────────────────────────────

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("WKGATEWAY_DATABASE_PATH", "/custom/path.db")
	t.Setenv("WKGATEWAY_MQTT_HOST", "mqtt.example.com")
	t.Setenv("WKGATEWAY_MQTT_PORT", "8883")
	t.Setenv("WKGATEWAY_MQTT_USERNAME", "testuser")
	t.Setenv("WKGATEWAY_MQTT_PASSWORD", "testpass")
	t.Setenv("WKGATEWAY_API_HOST", "192.168.1.1")
	t.Setenv("WKGATEWAY_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("WKGATEWAY_JWT_SECRET", "jwt-secret")
	t.Setenv("WKGATEWAY_NATS_ENABLED", "true")
	t.Setenv("WKGATEWAY_CONTROLLER_DEVICE", "/dev/ttyUSB1")
	t.Setenv("WKGATEWAY_GATEWAY_REQUEST_TIMEOUT", "750ms")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"NATS.Enabled", cfg.NATS.Enabled, true},
		{"Controller.Device", cfg.Controller.Device, "/dev/ttyUSB1"},
		{"Gateway.RequestTimeout", cfg.Gateway.RequestTimeout, 750 * time.Millisecond},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"WKGATEWAY_API_PORT", "eighty"},
		{"WKGATEWAY_MQTT_ENABLED", "sometimes"},
		{"WKGATEWAY_MQTT_COMMAND_TIMEOUT", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if err := applyEnvOverrides(defaultConfig()); err == nil {
				t.Errorf("applyEnvOverrides with %s=%q = nil, want error", tt.key, tt.value)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.ID == "" {
		t.Error("defaultConfig should have non-empty Gateway.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.Gateway.Retry.MaxRetries != 0 {
		t.Errorf("defaultConfig Gateway.Retry.MaxRetries = %d, want 0", cfg.Gateway.Retry.MaxRetries)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.NATS.SubjectPrefix != "wukong" {
		t.Errorf("defaultConfig NATS.SubjectPrefix = %q, want wukong", cfg.NATS.SubjectPrefix)
	}
}
