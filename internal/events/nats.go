package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
)

const DefaultSubject = "gate.scans"

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends each log as JSON on a single subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
	closer  func()
}

type NATSConfig struct {
	URL     string
	Token   string
	Subject string
	Name    string
}

// ConnectNATS dials the server. The client reconnects on its own; publishes
// made while disconnected are buffered by the client library.
func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	name := cfg.Name
	if name == "" {
		name = "gatekeeper"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	p := NewNATSPublisher(nc, cfg.Subject)
	p.closer = func() { _ = nc.Drain() }
	return p, nil
}

func NewNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Subject() string { return p.subject }

func (p *NATSPublisher) Publish(_ context.Context, log types.ScanLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal scan log: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains the connection if this publisher opened it.
func (p *NATSPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
