package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"dailyroll/pkg/platform/circuit"
	"dailyroll/pkg/platform/sentinel"
)

// NATSPublisher writes events to a JetStream stream. The subject is the
// prefix followed by the event type, e.g. dailyroll.attendance.checked_in.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	prefix  string
	breaker *circuit.Breaker
	logger  *slog.Logger
	timeout time.Duration
}

// NewNATS connects to url and creates or updates the stream that captures
// every subject under prefix.
func NewNATS(ctx context.Context, url, stream, prefix string, logger *slog.Logger, opts ...SinkOption) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("nats publisher: no url configured")
	}
	prefix = strings.TrimSuffix(prefix, ".")

	conn, err := nats.Connect(url,
		nats.Name("dailyroll"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats publisher: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats publisher: jetstream: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:        stream,
		Description: "dailyroll attendance events",
		Subjects:    []string{prefix + ".>"},
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats publisher: stream %s: %w", stream, err)
	}

	o := buildSinkOptions("nats", opts)
	return &NATSPublisher{
		conn:    conn,
		js:      js,
		prefix:  prefix,
		breaker: o.breaker,
		logger:  logger,
		timeout: o.timeout,
	}, nil
}

// Subject returns the subject event is published on.
func (p *NATSPublisher) Subject(event Event) string {
	return p.prefix + "." + string(event.Type)
}

// Publish waits for the JetStream ack. The message id makes a redelivered
// event idempotent within the stream's duplicate window.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msgID := fmt.Sprintf("%s/%s/%s/%d", event.Type, event.Date, event.Identity, event.OccurredAt)
	if _, err := p.js.Publish(ctx, p.Subject(event), payload, jetstream.WithMsgID(msgID)); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.Warn("event publisher circuit opened", "breaker", p.breaker.Name(), "error", err)
		}
		return fmt.Errorf("publish %s: %w: %w", event.Type, sentinel.ErrUnavailable, err)
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.Info("event publisher circuit closed", "breaker", p.breaker.Name())
	}
	return nil
}

// Ping reports whether the connection is up and, like the Kafka sink, closes
// an open breaker once it is.
func (p *NATSPublisher) Ping(context.Context) error {
	if status := p.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s: %w", status, sentinel.ErrUnavailable)
	}
	resetOpenBreaker(p.breaker, p.logger)
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
