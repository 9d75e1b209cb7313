package backend

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailyroll/internal/attendance/models"
	"dailyroll/internal/platform/config"
)

func TestOpenMemory(t *testing.T) {
	cfg := &config.Config{Ledger: config.Ledger{Backend: config.BackendMemory, TxTimeout: time.Second}}

	be, err := Open(context.Background(), cfg, nil, slog.Default())
	require.NoError(t, err)
	defer func() { require.NoError(t, be.Close()) }()

	require.NoError(t, be.Health(context.Background()))
	ledger, err := be.Store.Load(context.Background(), "2025-03-01")
	require.NoError(t, err)
	assert.Empty(t, ledger.Attendees)
}

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	cfg := &config.Config{
		Ledger: config.Ledger{Backend: config.BackendSQLite, TxTimeout: time.Second},
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")},
	}
	ctx := context.Background()

	be, err := Open(ctx, cfg, nil, slog.Default())
	require.NoError(t, err)
	defer func() { require.NoError(t, be.Close()) }()

	out, err := be.Store.Mutate(ctx, "2025-03-01", func(l *models.DailyLedger) models.Outcome {
		l.Attendees = append(l.Attendees, models.AttendanceRecord{Identity: "u1", DisplayName: "Alice", CheckedInAt: 1})
		return models.Commit(l)
	})
	require.NoError(t, err)
	assert.False(t, out.Aborted())
	require.NoError(t, be.Health(ctx))
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := &config.Config{Ledger: config.Ledger{Backend: "etcd"}}

	_, err := Open(context.Background(), cfg, nil, slog.Default())
	assert.ErrorContains(t, err, "unknown ledger backend")
}
