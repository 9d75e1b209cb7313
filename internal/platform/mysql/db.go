// Package mysql opens the MySQL connection pool.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"dailyroll/internal/platform/config"
)

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// The ledger relies on affected-row counts, not matched-row counts.
	dsn.ClientFoundRows = false
	if dsn.Loc == nil {
		dsn.Loc = time.UTC
	}

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(3 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping failed: %w", err)
	}
	return db, nil
}
