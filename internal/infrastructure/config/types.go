package config

import "time"

// Config is the gateway configuration: defaults, then the YAML file,
// then WKGATEWAY_ environment overrides.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Controller ControllerConfig `yaml:"controller"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	NATS       NATSConfig       `yaml:"nats"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Trace      TraceConfig      `yaml:"trace"`
}

// GatewayConfig configures the comm client and its UDP transport.
type GatewayConfig struct {
	// ID identifies this gateway in health messages and MQTT client IDs.
	ID string `yaml:"id"`

	// ListenAddress is the local UDP "ip:port" nodes send to.
	ListenAddress string `yaml:"listen_address"`

	// RequestTimeout is the deadline of each GET/SET attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DedupWindow is how long a (node, seq) update pair is remembered.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// QueueSize and Workers size the UDP receive queue and handler pool.
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls resends after a request timeout. MaxRetries 0
// sends each request once.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ControllerConfig configures the local controller on a serial line.
type ControllerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
}

// DiscoveryConfig configures mDNS node discovery.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interface restricts mDNS to one network interface. Empty means all.
	Interface string `yaml:"interface"`

	// BrowseWindow bounds each browse during a forced refresh.
	BrowseWindow time.Duration `yaml:"browse_window"`
}

// DatabaseConfig locates the SQLite node directory. BusyTimeout is in
// seconds.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig configures the broker connection and the MQTT bridge.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// CommandTimeout bounds each property command received over MQTT.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// HealthInterval is how often bridge health is published.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// MQTTBrokerConfig is where the broker lives. TLS switches the scheme to
// ssl://.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// NATSConfig configures the NATS update publisher.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

// InfluxDBConfig configures property history. FlushInterval is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout returns Read as a duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns Write as a duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns Idle as a duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// CORSConfig lists allowed origins, methods and headers. Empty lists
// fall back to permissive defaults.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig sizes client messages and sets the keepalive, in
// seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds the HS256 secret. An empty secret disables API auth.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// TraceConfig configures the CBOR wire trace.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
