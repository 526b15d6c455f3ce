package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/infrastructure/config"
)

// defaultSubjectPrefix is the first token of every update subject.
const defaultSubjectPrefix = "wukong"

// NATSConn is the subset of *nats.Conn used by the publisher.
type NATSConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes accepted updates as JSON state messages on
// {prefix}.update.{node}.{object}.{property}.
type NATSPublisher struct {
	conn   NATSConn
	prefix string
}

// NewNATSPublisher creates a publisher. An empty prefix means "wukong".
func NewNATSPublisher(conn NATSConn, prefix string) (*NATSPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: NATS connection is required", ErrMissingDependency)
	}
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Name implements Sink.
func (p *NATSPublisher) Name() string { return "nats" }

// Forward implements Sink.
func (p *NATSPublisher) Forward(_ context.Context, u gateway.Update) error {
	data, err := json.Marshal(NewStateMessage(u))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	subject := UpdateSubject(p.prefix, u.Node, u.Object, u.Property)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ConnectNATS opens a NATS connection with reconnect handling and
// connection-event logging.
func ConnectNATS(cfg config.NATSConfig, logger Logger) (*nats.Conn, error) {
	logger = orNoop(logger)

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats async error", "error", err)
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNATSConnect, err)
	}
	return nc, nil
}
