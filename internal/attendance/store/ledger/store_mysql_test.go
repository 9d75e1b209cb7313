//go:build integration

package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"dailyroll/internal/attendance/store/ledger"
	"dailyroll/pkg/testutil/containers"
)

type MySQLStoreSuite struct {
	ContractSuite
	mysql *containers.MySQLContainer
}

func TestMySQLStoreSuite(t *testing.T) {
	s := new(MySQLStoreSuite)
	s.mysql = containers.GetManager().GetMySQL(t)
	s.newStore = func() Store {
		t := s.T()
		store := ledger.NewMySQL(s.mysql.DB, ledger.WithObserver(s.observer))
		require.NoError(t, store.EnsureSchema(context.Background()))
		require.NoError(t, s.mysql.TruncateTables(context.Background(), "daily_ledgers"))
		return store
	}
	suite.Run(t, s)
}

func (s *MySQLStoreSuite) TestRolloverPrunesOldRows() {
	_, err := s.store.Mutate(s.ctx, day1, appendRecord("u1", "Alice", 1))
	s.Require().NoError(err)
	_, err = s.store.Load(s.ctx, day2)
	s.Require().NoError(err)

	var rows int
	s.Require().NoError(s.mysql.DB.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM daily_ledgers`).Scan(&rows))
	s.Equal(1, rows)
}

func (s *MySQLStoreSuite) TestSecondLoadDoesNotRollOverAgain() {
	_, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	_, err = s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Equal(1, s.observer.rolloversFor(day1))
}
