package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 1024

// Async decouples request latency from the downstream publisher. Publish
// enqueues without blocking; Run delivers in order on one goroutine. When the
// queue is full the new event is dropped and counted.
type Async struct {
	next    Publisher
	inbox   chan Event
	logger  *slog.Logger
	dropped atomic.Int64
	onFail  func()

	mu      sync.RWMutex
	stopped bool
}

// NewAsync wraps next with a bounded queue. onFail, if set, runs once per
// event that was dropped or failed delivery.
func NewAsync(next Publisher, size int, logger *slog.Logger, onFail func()) *Async {
	if size <= 0 {
		size = defaultQueueSize
	}
	if onFail == nil {
		onFail = func() {}
	}
	return &Async{next: next, inbox: make(chan Event, size), logger: logger, onFail: onFail}
}

// Publish enqueues event. It never returns an error for a full queue since
// the caller cannot act on it; see Dropped.
func (a *Async) Publish(_ context.Context, event Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		a.dropped.Add(1)
		a.onFail()
		return nil
	}
	select {
	case a.inbox <- event:
	default:
		a.dropped.Add(1)
		a.onFail()
	}
	return nil
}

// Dropped is the number of events discarded because the queue was full or
// Run had already returned.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Run delivers queued events until ctx is done, then drains what is left
// within drainTimeout. Events published after Run returns are dropped.
func (a *Async) Run(ctx context.Context, drainTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.stopped = true
			a.mu.Unlock()
			a.drain(drainTimeout)
			a.abandonLeftovers()
			return nil
		case event := <-a.inbox:
			a.deliver(ctx, event)
		}
	}
}

func (a *Async) drain(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		select {
		case event := <-a.inbox:
			a.deliver(ctx, event)
		default:
			return
		}
		if ctx.Err() != nil {
			if n := len(a.inbox); n > 0 {
				a.logger.Warn("abandoned queued attendance events", "count", n)
			}
			return
		}
	}
}

// abandonLeftovers counts events the drain deadline left behind.
func (a *Async) abandonLeftovers() {
	for {
		select {
		case <-a.inbox:
			a.dropped.Add(1)
			a.onFail()
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, event Event) {
	if err := a.next.Publish(ctx, event); err != nil {
		a.onFail()
		a.logger.WarnContext(ctx, "failed to deliver attendance event",
			"request_id", event.RequestID,
			"type", event.Type,
			"error", err,
		)
	}
}

// Ping checks the publisher behind the queue.
func (a *Async) Ping(ctx context.Context) error {
	return Ping(ctx, a.next)
}
