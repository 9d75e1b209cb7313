// Package events publishes attendance changes after they are committed.
// Publishing is best effort: the ledger is the source of truth and a failed
// publish never rolls back a check-in.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Type names the kind of committed change.
type Type string

const (
	TypeCheckedIn Type = "attendance.checked_in"
	TypeCancelled Type = "attendance.check_in_cancelled"
)

// Event describes one committed ledger change.
type Event struct {
	Type        Type   `json:"type"`
	Date        string `json:"date"`
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	OccurredAt  int64  `json:"occurredAt"`
	RequestID   string `json:"requestId,omitempty"`
}

// Publisher delivers events downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a logger at debug level.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.DebugContext(ctx, "attendance event",
		"type", event.Type,
		"date", event.Date,
		"identity", event.Identity,
		"request_id", event.RequestID,
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// FailWith makes subsequent Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
