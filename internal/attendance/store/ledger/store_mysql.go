package ledger

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

var mysqlDialect = dialect{
	backend: BackendMySQL,
	schema: `CREATE TABLE IF NOT EXISTS daily_ledgers (
		ledger_date CHAR(10) NOT NULL PRIMARY KEY,
		attendees   JSON NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	// Without CLIENT_FOUND_ROWS a no-op duplicate update reports zero rows,
	// so RowsAffected is 1 only when the day is created.
	materialize: `INSERT INTO daily_ledgers (ledger_date, attendees, updated_at)
		VALUES (?, JSON_ARRAY(), ?)
		ON DUPLICATE KEY UPDATE ledger_date = ledger_date`,
	selectForUpdate: `SELECT CAST(attendees AS CHAR) FROM daily_ledgers WHERE ledger_date = ? FOR UPDATE`,
	selectPlain:     `SELECT CAST(attendees AS CHAR) FROM daily_ledgers WHERE ledger_date = ?`,
	update:          `UPDATE daily_ledgers SET attendees = ?, updated_at = ? WHERE ledger_date = ?`,
	prune:           `DELETE FROM daily_ledgers WHERE ledger_date <> ?`,
	updateArgs: func(date, payload string, updatedAt int64) []any {
		return []any{payload, updatedAt, date}
	},
	retryable: isMySQLLockConflict,
	// Read committed avoids gap locks on the prune range scan.
	txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
}

func isMySQLLockConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
}

// MySQLStore persists the ledger in MySQL (InnoDB). Mutations serialize on
// today's row lock; a deadlock between concurrent rollovers is retried.
type MySQLStore struct {
	sqlStore
}

// NewMySQL constructs a MySQL-backed ledger store.
func NewMySQL(db *sql.DB, opts ...Option) *MySQLStore {
	return &MySQLStore{sqlStore{db: db, d: mysqlDialect, opts: buildOptions(opts)}}
}
