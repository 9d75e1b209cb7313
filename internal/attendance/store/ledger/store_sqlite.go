package ledger

import (
	"database/sql"
)

var sqliteDialect = dialect{
	backend: BackendSQLite,
	schema: `CREATE TABLE IF NOT EXISTS daily_ledgers (
		ledger_date TEXT PRIMARY KEY,
		attendees   TEXT NOT NULL DEFAULT '[]',
		updated_at  INTEGER NOT NULL
	)`,
	materialize: `INSERT INTO daily_ledgers (ledger_date, attendees, updated_at)
		VALUES (?, '[]', ?)
		ON CONFLICT (ledger_date) DO NOTHING`,
	selectForUpdate: `SELECT attendees FROM daily_ledgers WHERE ledger_date = ?`,
	selectPlain:     `SELECT attendees FROM daily_ledgers WHERE ledger_date = ?`,
	update:          `UPDATE daily_ledgers SET attendees = ?2, updated_at = ?3 WHERE ledger_date = ?1`,
	prune:           `DELETE FROM daily_ledgers WHERE ledger_date <> ?`,
}

// SQLiteStore persists the ledger in a SQLite file. The connection must be
// opened with an immediate transaction lock (see platform/sqlite) so every
// transaction holds the write lock from BEGIN, which serializes mutations.
type SQLiteStore struct {
	sqlStore
}

// NewSQLite constructs a SQLite-backed ledger store.
func NewSQLite(db *sql.DB, opts ...Option) *SQLiteStore {
	return &SQLiteStore{sqlStore{db: db, d: sqliteDialect, opts: buildOptions(opts)}}
}
