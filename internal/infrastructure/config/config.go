package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "WKGATEWAY_"

const minJWTSecretLength = 32

// Load builds the configuration in layers: defaults, the YAML file at
// path, a .env file in the working directory if present, and finally
// WKGATEWAY_SECTION_KEY environment variables such as
// WKGATEWAY_DATABASE_PATH. The result is validated.
//
// Variables already in the environment win over .env entries.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// defaultConfig is the configuration before the file is read.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:             "wkgateway",
			ListenAddress:  "0.0.0.0:5775",
			RequestTimeout: 2 * time.Second,
			DedupWindow:    30 * time.Second,
			QueueSize:      256,
			Workers:        1,
		},
		Controller: ControllerConfig{
			Device:   "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Discovery: DiscoveryConfig{
			Enabled:      true,
			BrowseWindow: 3 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/wkgateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "wkgateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			CommandTimeout: 5 * time.Second,
			HealthInterval: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "wkgateway",
			SubjectPrefix: "wukong",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "wukong",
			Bucket:        "wkpf",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 150,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Trace: TraceConfig{
			Path: "./data/wire.trace",
		},
	}
}

// envOverride binds one WKGATEWAY_ variable to a config field.
type envOverride struct {
	key   string
	apply func(string) error
}

func envString(key string, dst *string) envOverride {
	return envOverride{key, func(v string) error {
		*dst = v
		return nil
	}}
}

func envInt(key string, dst *int) envOverride {
	return envOverride{key, func(v string) (err error) {
		*dst, err = strconv.Atoi(v)
		return err
	}}
}

func envBool(key string, dst *bool) envOverride {
	return envOverride{key, func(v string) (err error) {
		*dst, err = strconv.ParseBool(v)
		return err
	}}
}

func envDuration(key string, dst *time.Duration) envOverride {
	return envOverride{key, func(v string) (err error) {
		*dst, err = time.ParseDuration(v)
		return err
	}}
}

// applyEnvOverrides applies every set, non-empty WKGATEWAY_ variable. A
// value that does not parse is an error naming the variable.
func applyEnvOverrides(cfg *Config) error {
	overrides := []envOverride{
		envString("GATEWAY_ID", &cfg.Gateway.ID),
		envString("GATEWAY_LISTEN_ADDRESS", &cfg.Gateway.ListenAddress),
		envDuration("GATEWAY_REQUEST_TIMEOUT", &cfg.Gateway.RequestTimeout),
		envInt("GATEWAY_MAX_RETRIES", &cfg.Gateway.Retry.MaxRetries),

		envBool("CONTROLLER_ENABLED", &cfg.Controller.Enabled),
		envString("CONTROLLER_DEVICE", &cfg.Controller.Device),
		envBool("DISCOVERY_ENABLED", &cfg.Discovery.Enabled),
		envString("DATABASE_PATH", &cfg.Database.Path),

		envBool("MQTT_ENABLED", &cfg.MQTT.Enabled),
		envString("MQTT_HOST", &cfg.MQTT.Broker.Host),
		envInt("MQTT_PORT", &cfg.MQTT.Broker.Port),
		envString("MQTT_USERNAME", &cfg.MQTT.Auth.Username),
		envString("MQTT_PASSWORD", &cfg.MQTT.Auth.Password),
		envDuration("MQTT_COMMAND_TIMEOUT", &cfg.MQTT.CommandTimeout),

		envBool("NATS_ENABLED", &cfg.NATS.Enabled),
		envString("NATS_URL", &cfg.NATS.URL),
		envString("NATS_USERNAME", &cfg.NATS.Username),
		envString("NATS_PASSWORD", &cfg.NATS.Password),

		envBool("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled),
		envString("INFLUXDB_URL", &cfg.InfluxDB.URL),
		envString("INFLUXDB_TOKEN", &cfg.InfluxDB.Token),

		envString("API_HOST", &cfg.API.Host),
		envInt("API_PORT", &cfg.API.Port),
		envString("JWT_SECRET", &cfg.Security.JWT.Secret),

		envString("LOG_LEVEL", &cfg.Logging.Level),
		envBool("TRACE_ENABLED", &cfg.Trace.Enabled),
		envString("TRACE_PATH", &cfg.Trace.Path),
	}

	for _, o := range overrides {
		v := os.Getenv(EnvPrefix + o.key)
		if v == "" {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.key, err)
		}
	}
	return nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	require(c.Gateway.ID != "", "gateway.id is required")
	require(c.Gateway.ListenAddress != "", "gateway.listen_address is required")
	require(c.Gateway.RequestTimeout >= 0 && c.Gateway.DedupWindow >= 0,
		"gateway durations must not be negative")
	require(c.Gateway.Retry.MaxRetries >= 0, "gateway.retry.max_retries must not be negative")
	require(!c.Controller.Enabled || c.Controller.Device != "",
		"controller.device is required when the controller is enabled")
	require(c.Database.Path != "", "database.path is required")
	require(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	require(!c.NATS.Enabled || c.NATS.URL != "", "nats.url is required when NATS is enabled")
	require(!c.InfluxDB.Enabled || (c.InfluxDB.URL != "" && c.InfluxDB.Bucket != ""),
		"influxdb.url and influxdb.bucket are required when InfluxDB is enabled")
	require(!c.API.Enabled || (c.API.Port >= 1 && c.API.Port <= 65535),
		"api.port must be between 1 and 65535")
	require(c.Security.JWT.Secret == "" || len(c.Security.JWT.Secret) >= minJWTSecretLength,
		"security.jwt.secret must be at least 32 characters")
	require(!c.Trace.Enabled || c.Trace.Path != "", "trace.path is required when tracing is enabled")

	return errors.Join(errs...)
}
