// Package ledger implements the day-keyed attendance ledger on several media.
//
// Every implementation offers the same two entry points, Load and Mutate, and
// guarantees that concurrent Mutate calls for one date key are serialized: no
// two commits are ever computed from the same snapshot. Rollover is lazy; the
// first access with a new date key materializes an empty ledger for it.
package ledger

import (
	"context"
	"fmt"
	"time"

	"dailyroll/internal/attendance/models"
	"dailyroll/pkg/platform/sentinel"
)

// Backend names used in metrics and logs.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMySQL    = "mysql"
)

const defaultTxTimeout = 5 * time.Second

// Observer receives store-level signals. Implementations must be safe for
// concurrent use.
type Observer interface {
	LedgerRolledOver(backend, date string)
	StoreOperation(backend, op string, elapsed time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) LedgerRolledOver(string, string) {}

func (noopObserver) StoreOperation(string, string, time.Duration, error) {}

type options struct {
	observer  Observer
	txTimeout time.Duration
}

// Option configures any ledger store.
type Option func(*options)

// WithObserver reports rollovers and operation timings to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithTxTimeout bounds one Load or Mutate when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.txTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{observer: noopObserver{}, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// withTimeout applies the transaction timeout unless ctx already has a deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

// applyTransform runs fn against a copy of current and checks the committed
// ledger still belongs to today.
func applyTransform(fn models.Transform, current *models.DailyLedger, today string) (models.Outcome, error) {
	out := fn(current.Clone())
	if out.Aborted() {
		return out, nil
	}
	next := out.Ledger()
	if next == nil {
		return models.Outcome{}, fmt.Errorf("transform committed no ledger for %q: %w", today, sentinel.ErrInvalidState)
	}
	if next.Date != today {
		return models.Outcome{}, fmt.Errorf("transform produced ledger for %q, want %q: %w", next.Date, today, sentinel.ErrInvalidState)
	}
	if next.Attendees == nil {
		next.Attendees = []models.AttendanceRecord{}
	}
	return models.Commit(next.Clone()), nil
}
