package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dailyroll/internal/attendance/models"
	"dailyroll/pkg/platform/sentinel"
)

const (
	defaultRedisPrefix     = "dailyroll"
	defaultRedisTTL        = 48 * time.Hour
	defaultRedisMaxRetries = 16
)

// RedisStore keeps one JSON ledger per date key. Read-modify-write is an
// optimistic WATCH/MULTI/EXEC cycle; a concurrent commit aborts EXEC and the
// cycle reruns against the fresh value. Keys expire, so past days disappear
// without explicit deletes.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
	opts       options
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces ledger keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets how long a day's ledger key outlives its last write.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxRetries bounds optimistic retries per mutation.
func WithMaxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithStoreOptions applies the common store options.
func WithStoreOptions(opts ...Option) RedisOption {
	return func(s *RedisStore) {
		s.opts = buildOptions(opts)
	}
}

// NewRedis constructs a Redis-backed ledger store.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		prefix:     defaultRedisPrefix,
		ttl:        defaultRedisTTL,
		maxRetries: defaultRedisMaxRetries,
		opts:       buildOptions(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(date string) string {
	return s.prefix + ":ledger:" + date
}

// Load returns today's ledger, writing an empty one if the key is absent.
func (s *RedisStore) Load(ctx context.Context, today string) (ledger *models.DailyLedger, err error) {
	start := time.Now()
	defer func() { s.opts.observer.StoreOperation(BackendRedis, "load", time.Since(start), err) }()

	ledger, _, err = s.run(ctx, today, nil)
	return ledger, err
}

// Mutate applies fn under WATCH, retrying on write conflicts.
func (s *RedisStore) Mutate(ctx context.Context, today string, fn models.Transform) (out models.Outcome, err error) {
	start := time.Now()
	defer func() { s.opts.observer.StoreOperation(BackendRedis, "mutate", time.Since(start), err) }()

	_, out, err = s.run(ctx, today, fn)
	return out, err
}

// run executes one optimistic cycle per attempt. A nil fn only materializes.
func (s *RedisStore) run(ctx context.Context, today string, fn models.Transform) (*models.DailyLedger, models.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.Outcome{}, unavailable("redis ledger", err)
	}
	ctx, cancel := withTimeout(ctx, s.opts.txTimeout)
	defer cancel()

	key := s.key(today)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var (
			current *models.DailyLedger
			out     models.Outcome
			created bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var err error
			current, created, err = s.read(ctx, tx, key, today)
			if err != nil {
				return err
			}
			toWrite := current
			if fn != nil {
				out, err = applyTransform(fn, current, today)
				if err != nil {
					return err
				}
				if !out.Aborted() {
					toWrite = out.Ledger()
				}
			}
			if toWrite == current && !created {
				return nil
			}
			payload, err := json.Marshal(toWrite)
			if err != nil {
				return fmt.Errorf("encode ledger: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			if created {
				s.opts.observer.LedgerRolledOver(BackendRedis, today)
			}
			if !out.Aborted() && out.Ledger() != nil {
				current = out.Ledger()
			}
			return current, out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, models.Outcome{}, err
		default:
			return nil, models.Outcome{}, unavailable("redis ledger", err)
		}
	}
	return nil, models.Outcome{}, fmt.Errorf("redis ledger: %d attempts lost to concurrent writers: %w: %w",
		s.maxRetries, sentinel.ErrUnavailable, sentinel.ErrConflict)
}

func (s *RedisStore) read(ctx context.Context, tx *redis.Tx, key, today string) (*models.DailyLedger, bool, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewLedger(today), true, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored models.DailyLedger
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("decode ledger %s: %w: %w", today, sentinel.ErrInvalidState, err)
	}
	if !stored.IsFor(today) {
		return models.NewLedger(today), true, nil
	}
	if stored.Attendees == nil {
		stored.Attendees = []models.AttendanceRecord{}
	}
	return &stored, false, nil
}
