package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"dailyroll/internal/attendance/models"
	"dailyroll/pkg/platform/sentinel"
)

const (
	day1 = "2025-03-01"
	day2 = "2025-03-02"
)

// Store is the surface every ledger backend shares.
type Store interface {
	Load(ctx context.Context, today string) (*models.DailyLedger, error)
	Mutate(ctx context.Context, today string, fn models.Transform) (models.Outcome, error)
}

// countingObserver records rollovers per date.
type countingObserver struct {
	mu        sync.Mutex
	rollovers map[string]int
	ops       atomic.Int64
}

func newCountingObserver() *countingObserver {
	return &countingObserver{rollovers: make(map[string]int)}
}

func (o *countingObserver) LedgerRolledOver(_ string, date string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollovers[date]++
}

func (o *countingObserver) StoreOperation(string, string, time.Duration, error) {
	o.ops.Add(1)
}

func (o *countingObserver) rolloversFor(date string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rollovers[date]
}

func appendRecord(identity, name string, at int64) models.Transform {
	return func(current *models.DailyLedger) models.Outcome {
		current.Attendees = append(current.Attendees, models.AttendanceRecord{
			Identity:    identity,
			DisplayName: name,
			CheckedInAt: at,
		})
		return models.Commit(current)
	}
}

func abortWith(reason models.AbortReason) models.Transform {
	return func(*models.DailyLedger) models.Outcome {
		return models.Abort(reason)
	}
}

// ContractSuite exercises the atomicity and rollover guarantees that every
// backend must provide. Backend suites embed it and set newStore.
type ContractSuite struct {
	suite.Suite
	ctx      context.Context
	observer *countingObserver
	newStore func() Store
	store    Store
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.observer = newCountingObserver()
	s.Require().NotNil(s.newStore, "backend suite must set newStore")
	s.store = s.newStore()
}

func (s *ContractSuite) TestLoadMaterializesEmptyLedger() {
	ledger, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Equal(day1, ledger.Date)
	s.Empty(ledger.Attendees)
	s.NotNil(ledger.Attendees)
}

func (s *ContractSuite) TestCommitIsVisibleToLaterLoads() {
	out, err := s.store.Mutate(s.ctx, day1, appendRecord("u1", "Alice", 1000))
	s.Require().NoError(err)
	s.Require().False(out.Aborted())
	s.Len(out.Ledger().Attendees, 1)

	ledger, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Require().Len(ledger.Attendees, 1)
	s.Equal(models.AttendanceRecord{Identity: "u1", DisplayName: "Alice", CheckedInAt: 1000}, ledger.Attendees[0])
}

func (s *ContractSuite) TestAbortPersistsNothing() {
	_, err := s.store.Mutate(s.ctx, day1, appendRecord("u1", "Alice", 1000))
	s.Require().NoError(err)

	out, err := s.store.Mutate(s.ctx, day1, func(current *models.DailyLedger) models.Outcome {
		// Scribbling on the copy before aborting must not leak.
		current.Attendees = append(current.Attendees, models.AttendanceRecord{Identity: "ghost"})
		return models.Abort(models.ReasonDuplicateIdentity)
	})
	s.Require().NoError(err)
	s.True(out.Aborted())
	s.Equal(models.ReasonDuplicateIdentity, out.Reason())

	ledger, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Len(ledger.Attendees, 1)
}

func (s *ContractSuite) TestAbortOnFreshDayStillMaterializes() {
	out, err := s.store.Mutate(s.ctx, day1, abortWith(models.ReasonNotCheckedIn))
	s.Require().NoError(err)
	s.True(out.Aborted())

	ledger, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Equal(day1, ledger.Date)
	s.Empty(ledger.Attendees)
}

func (s *ContractSuite) TestRolloverDiscardsYesterday() {
	_, err := s.store.Mutate(s.ctx, day1, appendRecord("x", "X", 1000))
	s.Require().NoError(err)

	ledger, err := s.store.Load(s.ctx, day2)
	s.Require().NoError(err)
	s.Equal(day2, ledger.Date)
	s.Empty(ledger.Attendees)

	out, err := s.store.Mutate(s.ctx, day2, appendRecord("y", "Y", 2000))
	s.Require().NoError(err)
	s.Require().False(out.Aborted())
	s.Equal(day2, out.Ledger().Date)
	s.Require().Len(out.Ledger().Attendees, 1)
	s.Equal("y", out.Ledger().Attendees[0].Identity)
}

func (s *ContractSuite) TestTransformForWrongDateIsRejected() {
	_, err := s.store.Mutate(s.ctx, day1, func(*models.DailyLedger) models.Outcome {
		return models.Commit(models.NewLedger(day2))
	})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *ContractSuite) TestNilCommitIsRejected() {
	_, err := s.store.Mutate(s.ctx, day1, func(*models.DailyLedger) models.Outcome {
		return models.Commit(nil)
	})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	got, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Empty(got.Attendees)
}

func (s *ContractSuite) TestCancelledContextIsUnavailable() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.store.Mutate(ctx, day1, appendRecord("u1", "Alice", 1))
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.ErrorIs(err, context.Canceled)

	_, err = s.store.Load(ctx, day1)
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *ContractSuite) TestConcurrentMutationsLoseNoUpdates() {
	const writers = 25
	g, ctx := errgroup.WithContext(s.ctx)
	for i := range writers {
		g.Go(func() error {
			out, err := s.store.Mutate(ctx, day1, appendRecord(fmt.Sprintf("u%d", i), fmt.Sprintf("n%d", i), int64(i)))
			if err != nil {
				return err
			}
			if out.Aborted() {
				return errors.New("unexpected abort")
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	ledger, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Len(ledger.Attendees, writers)
}

func (s *ContractSuite) TestConcurrentUniquenessCheckAdmitsOne() {
	// Every writer tries to claim the same identity; the serialized
	// read-modify-write must admit exactly one.
	const writers = 20
	var committed atomic.Int32
	g, ctx := errgroup.WithContext(s.ctx)
	for i := range writers {
		g.Go(func() error {
			out, err := s.store.Mutate(ctx, day1, func(current *models.DailyLedger) models.Outcome {
				if current.FindIdentity("same") >= 0 {
					return models.Abort(models.ReasonDuplicateIdentity)
				}
				current.Attendees = append(current.Attendees, models.AttendanceRecord{
					Identity: "same", DisplayName: fmt.Sprintf("n%d", i), CheckedInAt: int64(i),
				})
				return models.Commit(current)
			})
			if err != nil {
				return err
			}
			if !out.Aborted() {
				committed.Add(1)
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), committed.Load())

	ledger, err := s.store.Load(s.ctx, day1)
	s.Require().NoError(err)
	s.Len(ledger.Attendees, 1)
}

func (s *ContractSuite) TestConcurrentRolloverYieldsOneLedger() {
	_, err := s.store.Mutate(s.ctx, day1, appendRecord("old", "Old", 1))
	s.Require().NoError(err)

	const writers = 10
	g, ctx := errgroup.WithContext(s.ctx)
	for i := range writers {
		g.Go(func() error {
			_, err := s.store.Mutate(ctx, day2, appendRecord(fmt.Sprintf("u%d", i), fmt.Sprintf("n%d", i), int64(i)))
			return err
		})
	}
	s.Require().NoError(g.Wait())

	ledger, err := s.store.Load(s.ctx, day2)
	s.Require().NoError(err)
	s.Len(ledger.Attendees, writers)
	s.Equal(-1, ledger.FindIdentity("old"))
	s.LessOrEqual(s.observer.rolloversFor(day2), 1)
}
