// wkgateway is the WuKong property gateway.
//
// It listens for WKPF datagrams from devices, keeps the node directory in
// SQLite, drives the attached controller, and forwards every property
// update to MQTT, NATS, InfluxDB and WebSocket clients. Property reads and
// writes are served over HTTP and MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/wukong-iot/wkpf-gateway/migrations"

	"github.com/wukong-iot/wkpf-gateway/internal/api"
	"github.com/wukong-iot/wkpf-gateway/internal/audit"
	"github.com/wukong-iot/wkpf-gateway/internal/bridge"
	"github.com/wukong-iot/wkpf-gateway/internal/discovery"
	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/config"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/database"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/influxdb"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/logging"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/mqtt"
	"github.com/wukong-iot/wkpf-gateway/internal/metrics"
	"github.com/wukong-iot/wkpf-gateway/internal/node"
	"github.com/wukong-iot/wkpf-gateway/internal/transport"
)

// Set at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "WKGATEWAY_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the gateway and blocks until ctx is cancelled. Deferred
// shutdown runs in reverse start order: fan-out first, database last.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting wkgateway", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	nodes := node.NewSQLiteRepository(db.DB)
	auditLog := audit.NewSQLiteRepository(db.DB)
	registry := metrics.NewRegistry()

	tr, closeTransport, err := openTransport(cfg, registry, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	controller, link, closeController := openController(cfg.Controller, registry, log)
	defer closeController()
	if link != nil {
		mux := transport.NewMux(tr)
		mux.RouteSerial(link)
		tr = mux
		log.Info("relaying controller frames", "addr", link.RelayAddr())
	}

	gwOpts := gateway.ClientOptions{
		Config: gateway.Config{
			RequestTimeout: cfg.Gateway.RequestTimeout,
			Retry:          gateway.RetryPolicy(cfg.Gateway.Retry),
			DedupWindow:    cfg.Gateway.DedupWindow,
			BrowseWindow:   cfg.Discovery.BrowseWindow,
		},
		Transport:  tr,
		Directory:  nodes,
		Controller: controller,
		Metrics:    registry.Gateway,
		Logger:     log.With("component", "gateway"),
	}
	if cfg.Discovery.Enabled {
		browser, browseErr := discovery.NewBrowser(cfg.Discovery.Interface)
		if browseErr != nil {
			log.Warn("mDNS discovery unavailable", "error", browseErr)
		} else {
			gwOpts.Browser = browser
		}
	}

	gw, err := gateway.NewClient(gwOpts)
	if err != nil {
		return fmt.Errorf("creating gateway client: %w", err)
	}
	defer gw.Close() //nolint:errcheck // shutdown path

	var sinks []bridge.Sink

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer mqttClient.Close() //nolint:errcheck // shutdown path
		mqttClient.SetLogger(log.With("component", "mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge, bridgeErr := bridge.NewMQTTBridge(bridge.MQTTBridgeOptions{
			Client:         mqttClient,
			Gateway:        gw,
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
			CommandTimeout: cfg.MQTT.CommandTimeout,
			HealthInterval: cfg.MQTT.HealthInterval,
			BridgeID:       cfg.Gateway.ID,
			Version:        version,
			Audit:          auditLog,
			Logger:         log.With("component", "bridge", "sink", "mqtt"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer mqttBridge.Stop()
		sinks = append(sinks, mqttBridge)
	}

	if cfg.NATS.Enabled {
		nc, natsErr := bridge.ConnectNATS(cfg.NATS, log.With("component", "nats"))
		if natsErr != nil {
			return fmt.Errorf("connecting to NATS: %w", natsErr)
		}
		defer nc.Close()
		publisher, pubErr := bridge.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
		if pubErr != nil {
			return fmt.Errorf("creating NATS publisher: %w", pubErr)
		}
		log.Info("NATS connected", "url", nc.ConnectedUrl(), "prefix", cfg.NATS.SubjectPrefix)
		sinks = append(sinks, publisher)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer influxClient.Close() //nolint:errcheck // shutdown path
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder, recErr := bridge.NewHistoryRecorder(influxClient)
		if recErr != nil {
			return fmt.Errorf("creating history recorder: %w", recErr)
		}
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, recorder)
	}

	if cfg.API.Enabled {
		hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
		go hub.Run(ctx)
		sinks = append(sinks, hub)

		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Gateway:  gw,
			Hub:      hub,
			Metrics:  registry.Handler(),
			Audit:    auditLog,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer srv.Close() //nolint:errcheck // shutdown path
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled: no JWT secret configured")
		}
	}

	fanout := bridge.NewFanout(bridge.FanoutOptions{
		Sinks:     sinks,
		QueueSize: cfg.Gateway.QueueSize,
		Recorder:  registry.Gateway,
		Logger:    log.With("component", "fanout"),
	})
	fanout.Start(ctx, gw)
	defer fanout.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("gateway ready", "listen", tr.LocalAddr(), "sinks", len(sinks))
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openTransport binds the UDP listener and wraps it with the wire tracer
// when tracing is enabled.
func openTransport(cfg *config.Config, registry *metrics.Registry, log *logging.Logger) (transport.Transport, func(), error) {
	udp, err := transport.ListenUDP(transport.UDPConfig{
		ListenAddress: cfg.Gateway.ListenAddress,
		QueueSize:     cfg.Gateway.QueueSize,
		Workers:       cfg.Gateway.Workers,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("listening for datagrams: %w", err)
	}
	udp.SetLogger(log.With("component", "transport", "transport", "udp"))

	if err := registry.RegisterTransport("udp", udp); err != nil {
		udp.Close() //nolint:errcheck // error path
		return nil, nil, fmt.Errorf("registering transport metrics: %w", err)
	}
	log.Info("datagram listener bound", "addr", udp.LocalAddr())

	if !cfg.Trace.Enabled {
		return udp, func() { udp.Close() }, nil //nolint:errcheck // shutdown path
	}

	tracer, err := transport.OpenTraceFile(cfg.Trace.Path)
	if err != nil {
		udp.Close() //nolint:errcheck // error path
		return nil, nil, fmt.Errorf("opening wire trace: %w", err)
	}
	log.Info("wire trace enabled", "path", cfg.Trace.Path)

	closeAll := func() {
		udp.Close()    //nolint:errcheck // shutdown path
		tracer.Close() //nolint:errcheck // shutdown path
	}
	return transport.WithTrace(udp, tracer), closeAll, nil
}

// openController attaches the serial controller console. The link also
// carries frames for nodes behind the controller. A missing device is not
// fatal: controller endpoints then report unavailable.
func openController(cfg config.ControllerConfig, registry *metrics.Registry, log *logging.Logger) (*gateway.Controller, *transport.Serial, func()) {
	if !cfg.Enabled {
		return nil, nil, func() {}
	}

	serial, err := transport.OpenSerial(transport.SerialConfig{
		Device:   cfg.Device,
		BaudRate: cfg.BaudRate,
	})
	if err != nil {
		log.Warn("controller console unavailable", "device", cfg.Device, "error", err)
		return nil, nil, func() {}
	}
	serial.SetLogger(log.With("component", "transport", "transport", "serial"))
	if err := registry.RegisterTransport("serial", serial); err != nil {
		log.Warn("serial metrics not registered", "error", err)
	}
	log.Info("controller console attached", "device", cfg.Device, "baud", cfg.BaudRate)

	controller := gateway.NewController(serial, log.With("component", "controller"))
	return controller, serial, func() { serial.Close() } //nolint:errcheck // shutdown path
}

func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the connected backends. Disabled backends are nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
