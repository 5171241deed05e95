package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsTransport mirrors every Bus event onto a NATS JetStream subject,
// "rigs.events.<type>", so a second rigsd replica (or an external consumer)
// can subscribe without going through the HTTP/websocket API.
type NatsTransport struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// NatsConfig configures the NATS transport.
type NatsConfig struct {
	URL        string
	StreamName string
	Timeout    time.Duration
}

// NewNatsTransport connects to NATS and ensures the JetStream stream exists.
func NewNatsTransport(cfg NatsConfig) (*NatsTransport, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "RIGS"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("eventbus: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("eventbus: nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: jetstream context: %w", err)
	}

	t := &NatsTransport{conn: nc, js: js, streamName: cfg.StreamName}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *NatsTransport) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:      t.streamName,
		Subjects:  []string{"rigs.events.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if _, err := t.js.StreamInfo(t.streamName); err != nil {
		if _, err := t.js.AddStream(cfg); err != nil {
			return fmt.Errorf("eventbus: create stream: %w", err)
		}
		return nil
	}
	if _, err := t.js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("eventbus: update stream: %w", err)
	}
	return nil
}

// Publish implements Transport.
func (t *NatsTransport) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	subject := fmt.Sprintf("rigs.events.%s", event.Type)
	if _, err := t.js.Publish(subject, data); err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", subject, err)
	}
	return nil
}

// Close disconnects from NATS.
func (t *NatsTransport) Close() {
	t.conn.Close()
}
