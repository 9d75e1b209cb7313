package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dailyroll/pkg/platform/circuit"
)

const (
	defaultProduceTimeout   = 2 * time.Second
	defaultFailureThreshold = 3
	defaultBreakerCooldown  = 15 * time.Second
)

type sinkOptions struct {
	breaker *circuit.Breaker
	timeout time.Duration
}

// SinkOption configures a broker-backed publisher.
type SinkOption func(*sinkOptions)

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) SinkOption {
	return func(o *sinkOptions) {
		if b != nil {
			o.breaker = b
		}
	}
}

// WithProduceTimeout bounds one synchronous publish.
func WithProduceTimeout(d time.Duration) SinkOption {
	return func(o *sinkOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildSinkOptions(name string, opts []SinkOption) sinkOptions {
	o := sinkOptions{timeout: defaultProduceTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.breaker == nil {
		o.breaker = circuit.New(name,
			circuit.WithFailureThreshold(defaultFailureThreshold),
			circuit.WithCooldown(defaultBreakerCooldown),
		)
	}
	return o
}

func resetOpenBreaker(b *circuit.Breaker, logger *slog.Logger) {
	if !b.IsOpen() {
		return
	}
	b.Reset()
	logger.Info("event publisher circuit closed after successful ping", "breaker", b.Name())
}

// Pinger is implemented by publishers that can check their broker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks every broker behind p. Publishers without a broker are healthy.
func Ping(ctx context.Context, p Publisher) error {
	switch v := p.(type) {
	case Fanout:
		var errs []error
		for _, sink := range v {
			if err := Ping(ctx, sink); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case Pinger:
		return v.Ping(ctx)
	default:
		return nil
	}
}
