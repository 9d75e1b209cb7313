package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dailyroll/internal/attendance/models"
	"dailyroll/pkg/platform/sentinel"
)

// dialect holds the per-driver statements for the daily_ledgers table.
type dialect struct {
	backend string
	schema  string
	// materialize inserts an empty row for the date if none exists.
	materialize string
	// selectForUpdate reads the row and, where supported, locks it.
	selectForUpdate string
	selectPlain     string
	update          string
	// prune removes every row except the given date.
	prune string
	// updateArgs orders (date, payload, updatedAt) for update. Nil keeps that order.
	updateArgs func(date, payload string, updatedAt int64) []any
	// retryable reports lock conflicts (deadlock, serialization) worth rerunning.
	retryable func(err error) bool
	txOptions *sql.TxOptions
}

const maxSQLAttempts = 3

// sqlStore is the read-transform-write cycle shared by the SQL backends.
// Each call runs in its own transaction; serialization comes from row locks
// (postgres, mysql) or an immediate write lock on BEGIN (sqlite).
type sqlStore struct {
	db   *sql.DB
	d    dialect
	opts options
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *sqlStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.schema); err != nil {
		return fmt.Errorf("create %s ledger schema: %w", s.d.backend, err)
	}
	return nil
}

// Load returns today's ledger, materializing it when absent.
func (s *sqlStore) Load(ctx context.Context, today string) (ledger *models.DailyLedger, err error) {
	start := time.Now()
	defer func() { s.opts.observer.StoreOperation(s.d.backend, "load", time.Since(start), err) }()

	var rolled bool
	err = s.withRetry(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			current, created, txErr := s.read(ctx, tx, today, s.d.selectPlain)
			ledger, rolled = current, created
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}
	s.notifyRollover(rolled, today)
	return ledger, nil
}

// Mutate applies fn to today's ledger inside one transaction.
func (s *sqlStore) Mutate(ctx context.Context, today string, fn models.Transform) (out models.Outcome, err error) {
	start := time.Now()
	defer func() { s.opts.observer.StoreOperation(s.d.backend, "mutate", time.Since(start), err) }()

	var rolled bool
	err = s.withRetry(func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			current, created, txErr := s.read(ctx, tx, today, s.d.selectForUpdate)
			if txErr != nil {
				return txErr
			}
			rolled = created
			out, txErr = applyTransform(fn, current, today)
			if txErr != nil || out.Aborted() {
				// An abort still commits the materialized row so rollover sticks.
				return txErr
			}
			payload, txErr := json.Marshal(out.Ledger().Attendees)
			if txErr != nil {
				return fmt.Errorf("encode ledger: %w", txErr)
			}
			args := s.updateArgs(today, string(payload), time.Now().UTC().UnixMilli())
			if _, txErr = tx.ExecContext(ctx, s.d.update, args...); txErr != nil {
				return unavailable("update ledger", txErr)
			}
			return nil
		})
	})
	if err != nil {
		return models.Outcome{}, err
	}
	s.notifyRollover(rolled, today)
	return out, nil
}

func (s *sqlStore) updateArgs(date, payload string, updatedAt int64) []any {
	if s.d.updateArgs != nil {
		return s.d.updateArgs(date, payload, updatedAt)
	}
	return []any{date, payload, updatedAt}
}

// withRetry reruns fn when the dialect flags its error as a lock conflict.
func (s *sqlStore) withRetry(fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || s.d.retryable == nil || attempt >= maxSQLAttempts || !s.d.retryable(err) {
			return err
		}
	}
}

func (s *sqlStore) notifyRollover(rolled bool, today string) {
	if rolled {
		s.opts.observer.LedgerRolledOver(s.d.backend, today)
	}
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return unavailable("begin ledger tx", err)
	}
	ctx, cancel := withTimeout(ctx, s.opts.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, s.d.txOptions)
	if err != nil {
		return unavailable("begin ledger tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit ledger tx", err)
	}
	return nil
}

// read materializes today's row if needed, prunes older days on rollover and
// returns the decoded ledger. created reports whether this call started the day.
func (s *sqlStore) read(ctx context.Context, tx *sql.Tx, today, query string) (ledger *models.DailyLedger, created bool, err error) {
	res, err := tx.ExecContext(ctx, s.d.materialize, today, time.Now().UTC().UnixMilli())
	if err != nil {
		return nil, false, unavailable("materialize ledger", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		created = true
		if _, err := tx.ExecContext(ctx, s.d.prune, today); err != nil {
			return nil, false, unavailable("prune stale ledgers", err)
		}
	}

	var raw string
	if err := tx.QueryRowContext(ctx, query, today).Scan(&raw); err != nil {
		return nil, false, unavailable("read ledger", err)
	}
	ledger = models.NewLedger(today)
	if err := json.Unmarshal([]byte(raw), &ledger.Attendees); err != nil {
		return nil, false, fmt.Errorf("decode ledger %s: %w: %w", today, sentinel.ErrInvalidState, err)
	}
	if ledger.Attendees == nil {
		ledger.Attendees = []models.AttendanceRecord{}
	}
	return ledger, created, nil
}
