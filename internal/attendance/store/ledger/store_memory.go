package ledger

import (
	"context"
	"sync"
	"time"

	"dailyroll/internal/attendance/models"
)

// InMemoryStore keeps the single current ledger in process memory.
// All read-modify-write cycles run under one mutex; there is only ever one
// live date key, so finer-grained locking would buy nothing.
type InMemoryStore struct {
	mu      sync.Mutex
	current *models.DailyLedger
	opts    options
}

// NewInMemory creates an empty in-memory ledger store.
func NewInMemory(opts ...Option) *InMemoryStore {
	return &InMemoryStore{opts: buildOptions(opts)}
}

// Load returns today's ledger, rolling over a stale one.
func (s *InMemoryStore) Load(ctx context.Context, today string) (ledger *models.DailyLedger, err error) {
	start := time.Now()
	defer func() { s.opts.observer.StoreOperation(BackendMemory, "load", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, unavailable("load ledger", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(today)
	return s.current.Clone(), nil
}

// Mutate applies fn to today's ledger atomically.
func (s *InMemoryStore) Mutate(ctx context.Context, today string, fn models.Transform) (out models.Outcome, err error) {
	start := time.Now()
	defer func() { s.opts.observer.StoreOperation(BackendMemory, "mutate", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return models.Outcome{}, unavailable("mutate ledger", err)
	}

	ctx, cancel := withTimeout(ctx, s.opts.txTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	// The caller may have given up while we waited for the lock.
	if err := ctx.Err(); err != nil {
		return models.Outcome{}, unavailable("mutate ledger", err)
	}

	s.rolloverLocked(today)
	out, err = applyTransform(fn, s.current, today)
	if err != nil || out.Aborted() {
		return out, err
	}
	s.current = out.Ledger().Clone()
	return out, nil
}

// rolloverLocked replaces a missing or stale ledger. Must hold s.mu.
func (s *InMemoryStore) rolloverLocked(today string) {
	if s.current.IsFor(today) {
		return
	}
	s.current = models.NewLedger(today)
	s.opts.observer.LedgerRolledOver(BackendMemory, today)
}
