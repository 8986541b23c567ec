package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"angelone_tickstream/models"
)

type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ConnectWait   time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every enriched record as JSON on
// <prefix>.<exchange>.<token>.
type NATSPublisher struct {
	nc        conn
	raw       *nats.Conn
	prefix    string
	log       *zap.SugaredLogger
	connected atomic.Bool
}

func NewNATSPublisher(cfg Config, log *zap.SugaredLogger) (*NATSPublisher, error) {
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	p := &NATSPublisher{prefix: cfg.SubjectPrefix, log: log.Named("nats")}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectWait),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(nc *nats.Conn) {
			p.log.Warnw("NATS connection closed")
			p.connected.Store(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			p.log.Warnw("NATS disconnected, attempting reconnect", "error", err)
			p.connected.Store(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.log.Infow("NATS reconnected", "url", nc.ConnectedUrl())
			p.connected.Store(true)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	p.nc = nc
	p.raw = nc
	p.connected.Store(nc.IsConnected())
	p.log.Infow("NATS publisher ready", "url", cfg.URL, "subject_prefix", cfg.SubjectPrefix)
	return p, nil
}

// Subject is where a record for token on exchange is published.
func Subject(prefix string, exchange models.ExchangeType, token string) string {
	parts := []string{strings.ToLower(exchange.String()), token}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

func (p *NATSPublisher) Save(rec *models.TickRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}
	subject := Subject(p.prefix, rec.Exchange, rec.Tick.Token)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Connected() bool { return p.connected.Load() }

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.raw == nil {
		return nil
	}
	err := p.raw.Drain()
	p.connected.Store(false)
	return err
}
