//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"dailyroll/internal/platform/config"
	"dailyroll/internal/platform/mysql"
)

// MySQLContainer wraps a testcontainers MySQL instance.
type MySQLContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewMySQLContainer starts a new MySQL 8 container.
func NewMySQLContainer(t *testing.T) *MySQLContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("dailyroll"),
		tcmysql.WithUsername("dailyroll"),
		tcmysql.WithPassword("dailyroll"),
	)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get mysql connection string: %v", err)
	}

	db, err := mysql.Open(ctx, config.MySQLConfig{DSN: dsn, MaxOpenConns: 20, MaxIdleConns: 5})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open mysql: %v", err)
	}

	return &MySQLContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the named tables one at a time.
func (m *MySQLContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := m.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			return err
		}
	}
	return nil
}
