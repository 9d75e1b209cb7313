package ledger

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var postgresDialect = dialect{
	backend: BackendPostgres,
	schema: `CREATE TABLE IF NOT EXISTS daily_ledgers (
		ledger_date TEXT PRIMARY KEY,
		attendees   JSONB NOT NULL DEFAULT '[]'::jsonb,
		updated_at  BIGINT NOT NULL
	)`,
	materialize: `INSERT INTO daily_ledgers (ledger_date, attendees, updated_at)
		VALUES ($1, '[]'::jsonb, $2)
		ON CONFLICT (ledger_date) DO NOTHING`,
	selectForUpdate: `SELECT attendees::text FROM daily_ledgers WHERE ledger_date = $1 FOR UPDATE`,
	selectPlain:     `SELECT attendees::text FROM daily_ledgers WHERE ledger_date = $1`,
	update:          `UPDATE daily_ledgers SET attendees = $2::jsonb, updated_at = $3 WHERE ledger_date = $1`,
	prune:           `DELETE FROM daily_ledgers WHERE ledger_date <> $1`,
	retryable:       isPostgresLockConflict,
}

// isPostgresLockConflict matches deadlock_detected and serialization_failure.
func isPostgresLockConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40P01" || pqErr.Code == "40001"
}

// PostgresStore persists the ledger in PostgreSQL. Concurrent mutations of
// today's row serialize on its row lock (SELECT ... FOR UPDATE); concurrent
// rollovers serialize on the primary key.
type PostgresStore struct {
	sqlStore
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, d: postgresDialect, opts: buildOptions(opts)}}
}
