package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/audit"
	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/config"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/logging"
	"github.com/wukong-iot/wkpf-gateway/internal/node"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the set of comm client operations the API exposes.
// Satisfied by *gateway.Client.
type Gateway interface {
	GetAllNodeInfos(ctx context.Context, force bool) ([]node.Node, error)
	GetNodeInfo(ctx context.Context, nodeID uint8) (*node.Node, error)
	Node(ctx context.Context, nodeID uint8) (*node.Node, error)
	GetClassList(ctx context.Context, nodeID uint8) ([]uint16, error)
	GetObjectList(ctx context.Context, nodeID uint8) ([]wkpf.ObjectEntry, error)
	SetLocation(ctx context.Context, nodeID uint8, location string) error
	GetLocation(ctx context.Context, nodeID uint8) (string, error)

	GetProperty(ctx context.Context, nodeID uint8, port int, objectID, property uint8) (gateway.Value, error)
	SetProperty(ctx context.Context, nodeID uint8, port int, objectID, property uint8, t wkpf.ValueType, value any) (gateway.Value, error)
	SendMode(ctx context.Context, nodeID uint8, mode wkpf.Mode) error

	EnterAddMode(ctx context.Context) error
	StopMode(ctx context.Context) error
	ResetController(ctx context.Context) error
	LearnNode(ctx context.Context) error
	CurrentStatus() (string, error)
	WaitForStatus(ctx context.Context, substr string, timeout time.Duration) (bool, error)

	Stats() gateway.Stats
}

// Deps holds the dependencies of the API server. Logger and Gateway are
// required.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Gateway  Gateway
	Hub      *Hub             // shared with the bridge fan-out; created by Start when nil
	Metrics  http.Handler     // served on /metrics; 503 when nil
	Audit    audit.Repository // command audit trail; optional
	Version  string
}

// Server is the gateway's HTTP API: JSON routes under /api/v1, the
// WebSocket hub, and /metrics.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	gateway   Gateway
	metrics   http.Handler
	audit     audit.Repository
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc
}

// New creates a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Gateway == nil:
		return nil, errors.New("api: gateway is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		gateway:   deps.Gateway,
		metrics:   deps.Metrics,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.Hub,
		tickets:   newTicketStore(),
	}, nil
}

// Start binds the listen address and serves in the background. A bind
// failure is returned; later serve errors are logged. ctx bounds the
// hub and ticket cleanup, not the listener.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", addr, err)
	}
	s.listener = ln

	var bg context.Context
	bg, s.cancel = context.WithCancel(ctx)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(bg)
	}
	go s.cleanTicketsLoop(bg)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", true)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server listening", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops background work and waits up to 10 seconds for in-flight
// requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has bound the listener.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

// authEnabled reports whether bearer tokens are required.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}
