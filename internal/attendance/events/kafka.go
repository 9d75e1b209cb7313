package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"dailyroll/pkg/platform/circuit"
	"dailyroll/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned while the broker is considered down.
var ErrCircuitOpen = fmt.Errorf("event publisher circuit open: %w", sentinel.ErrUnavailable)

// KafkaPublisher produces events as JSON records keyed by ledger date, so one
// day's changes land on one partition in commit order.
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	breaker *circuit.Breaker
	logger  *slog.Logger
	timeout time.Duration
}

// NewKafka connects to brokers and makes sure topic exists.
func NewKafka(ctx context.Context, brokers []string, topic string, logger *slog.Logger, opts ...SinkOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: create client: %w", err)
	}
	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	o := buildSinkOptions("kafka", opts)
	return &KafkaPublisher{
		client:  client,
		topic:   topic,
		breaker: o.breaker,
		logger:  logger,
		timeout: o.timeout,
	}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 1, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka publisher: create topic %s: %w", topic, err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka publisher: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces event synchronously. While the breaker is open it fails
// fast with ErrCircuitOpen.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Date),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.Warn("event publisher circuit opened", "breaker", p.breaker.Name(), "topic", p.topic, "error", err)
		}
		return fmt.Errorf("produce %s: %w: %w", event.Type, sentinel.ErrUnavailable, err)
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.Info("event publisher circuit closed", "breaker", p.breaker.Name(), "topic", p.topic)
	}
	return nil
}

// Ping checks broker reachability. A successful ping closes an open breaker
// so delivery resumes without waiting out the cooldown.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w: %w", sentinel.ErrUnavailable, err)
	}
	resetOpenBreaker(p.breaker, p.logger)
	return nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
