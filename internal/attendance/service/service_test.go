package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"dailyroll/internal/attendance/events"
	"dailyroll/internal/attendance/metrics"
	"dailyroll/internal/attendance/models"
	"dailyroll/internal/attendance/service/mocks"
	"dailyroll/internal/attendance/store/ledger"
	dErrors "dailyroll/pkg/domain-errors"
	"dailyroll/pkg/platform/sentinel"
	"dailyroll/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

var day1Noon = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	store    *ledger.InMemoryStore
	recorder *events.Recorder
	metrics  *metrics.Metrics
	service  *Service
	clock    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = ledger.NewInMemory()
	s.recorder = &events.Recorder{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.clock = day1Noon
	s.service = s.newService(s.store)
}

func (s *ServiceSuite) newService(store Store) *Service {
	svc, err := New(store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithPublisher(s.recorder),
		WithLocation(time.UTC),
	)
	s.Require().NoError(err)
	return svc
}

// ctx returns a request context at the suite clock and advances it.
func (s *ServiceSuite) ctx() context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.clock)
	s.clock = s.clock.Add(time.Second)
	return ctx
}

func (s *ServiceSuite) checkIn(identity, name string) *Result {
	res, err := s.service.CheckIn(s.ctx(), identity, name)
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) names(records []models.AttendanceRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.DisplayName
	}
	return out
}

func (s *ServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ServiceSuite) TestCheckIn() {
	s.Run("commit echoes sorted attendees and publishes", func() {
		res := s.checkIn("u1", "  Alice ")
		s.True(res.Success)
		s.Empty(res.Reason)
		s.Require().Len(res.Attendees, 1)
		s.Equal("Alice", res.Attendees[0].DisplayName)
		s.Equal(day1Noon.UnixMilli(), res.Attendees[0].CheckedInAt)

		published := s.recorder.Events()
		s.Require().Len(published, 1)
		s.Equal(events.TypeCheckedIn, published[0].Type)
		s.Equal("2025-03-01", published[0].Date)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.CheckIns))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.LedgerSize))
	})

	s.Run("ten runes of multibyte text is a valid name", func() {
		res := s.checkIn("u2", "가나다라마바사아자차")
		s.True(res.Success)
	})
}

func (s *ServiceSuite) TestCheckInValidation() {
	cases := []struct {
		name     string
		identity string
		display  string
		reason   models.AbortReason
	}{
		{"empty name", "u1", "", models.ReasonInvalidName},
		{"whitespace name", "u1", "   \t", models.ReasonInvalidName},
		{"eleven characters", "u1", "abcdefghijk", models.ReasonInvalidName},
		{"eleven runes", "u1", "가나다라마바사아자차카", models.ReasonInvalidName},
		{"empty identity", "  ", "Bob", models.ReasonInvalidIdentity},
		{"oversized identity", strings.Repeat("x", MaxIdentityLength+1), "Bob", models.ReasonInvalidIdentity},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			res := s.checkIn(tc.identity, tc.display)
			s.False(res.Success)
			s.Equal(tc.reason, res.Reason)
			s.Equal(tc.reason.Message(), res.Message)
			s.Nil(res.Attendees)
		})
	}

	list, err := s.service.FetchToday(s.ctx())
	s.Require().NoError(err)
	s.Empty(list)
	s.Empty(s.recorder.Events())
	s.Equal(4.0, testutil.ToFloat64(s.metrics.Rejections.WithLabelValues(string(models.ReasonInvalidName))))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Rejections.WithLabelValues(string(models.ReasonInvalidIdentity))))
}

func (s *ServiceSuite) TestDuplicateIdentityRejected() {
	s.True(s.checkIn("u1", "Alice").Success)

	res := s.checkIn("u1", "Alice2")
	s.False(res.Success)
	s.Equal(models.ReasonDuplicateIdentity, res.Reason)

	list, err := s.service.FetchToday(s.ctx())
	s.Require().NoError(err)
	s.Len(list, 1)
	s.Len(s.recorder.Events(), 1)
}

func (s *ServiceSuite) TestDuplicateNameIsCaseInsensitive() {
	s.True(s.checkIn("u1", "Bob").Success)

	res := s.checkIn("u2", "bob")
	s.False(res.Success)
	s.Equal(models.ReasonDuplicateName, res.Reason)
	s.Equal("nickname is already taken today, please choose another", res.Message)

	list, err := s.service.FetchToday(s.ctx())
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("u1", list[0].Identity)
}

func (s *ServiceSuite) TestIdentityCheckPrecedesNameCheck() {
	s.True(s.checkIn("u1", "Bob").Success)
	s.Equal(models.ReasonDuplicateIdentity, s.checkIn("u1", "BOB").Reason)
}

func (s *ServiceSuite) TestCancelThenRejoin() {
	s.True(s.checkIn("u1", "A").Success)

	res, err := s.service.CancelCheckIn(s.ctx(), "u1")
	s.Require().NoError(err)
	s.True(res.Success)
	s.Empty(res.Attendees)

	s.True(s.checkIn("u1", "A").Success)

	list, err := s.service.FetchToday(s.ctx())
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("u1", list[0].Identity)

	published := s.recorder.Events()
	s.Require().Len(published, 3)
	s.Equal(events.TypeCancelled, published[1].Type)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Cancellations))
}

func (s *ServiceSuite) TestCancelWithoutCheckIn() {
	res, err := s.service.CancelCheckIn(s.ctx(), "nobody")
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal(models.ReasonNotCheckedIn, res.Reason)

	res, err = s.service.CancelCheckIn(s.ctx(), "")
	s.Require().NoError(err)
	s.Equal(models.ReasonInvalidIdentity, res.Reason)
}

func (s *ServiceSuite) TestCancelFreesName() {
	s.True(s.checkIn("u1", "Bob").Success)
	_, err := s.service.CancelCheckIn(s.ctx(), "u1")
	s.Require().NoError(err)
	s.True(s.checkIn("u2", "BOB").Success)
}

func (s *ServiceSuite) TestFetchTodayOrdersMostRecentFirst() {
	s.True(s.checkIn("id1", "A").Success)
	s.True(s.checkIn("id2", "B").Success)
	res := s.checkIn("id3", "C")
	s.Equal([]string{"C", "B", "A"}, s.names(res.Attendees))

	list, err := s.service.FetchToday(s.ctx())
	s.Require().NoError(err)
	s.Equal([]string{"C", "B", "A"}, s.names(list))
}

func (s *ServiceSuite) TestDayRollover() {
	s.True(s.checkIn("x", "X").Success)

	s.clock = day1Noon.Add(24 * time.Hour)
	list, err := s.service.FetchToday(s.ctx())
	s.Require().NoError(err)
	s.Empty(list)

	res := s.checkIn("y", "Y")
	s.True(res.Success)
	s.Equal([]string{"Y"}, s.names(res.Attendees))

	stats, err := s.service.Stats(s.ctx())
	s.Require().NoError(err)
	s.Equal("2025-03-02", stats.Date)
	s.Equal(1, stats.Count)
}

func (s *ServiceSuite) TestNameReusableNextDay() {
	s.True(s.checkIn("u1", "Bob").Success)
	s.clock = day1Noon.Add(24 * time.Hour)
	s.True(s.checkIn("u1", "Bob").Success)
}

func (s *ServiceSuite) TestDayKeyFollowsConfiguredZone() {
	svc, err := New(s.store, WithLocation(time.FixedZone("KST", 9*60*60)), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	// 20:00 UTC is already the next morning in UTC+9.
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC))
	stats, err := svc.Stats(ctx)
	s.Require().NoError(err)
	s.Equal("2025-03-02", stats.Date)
}

func (s *ServiceSuite) TestConcurrentDisjointCheckIns() {
	const n = 50
	g, _ := errgroup.WithContext(context.Background())
	ctx := requestcontext.WithTime(context.Background(), day1Noon)
	for i := range n {
		g.Go(func() error {
			res, err := s.service.CheckIn(ctx, fmt.Sprintf("u%d", i), fmt.Sprintf("n%d", i))
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("check-in %d rejected: %s", i, res.Reason)
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	list, err := s.service.FetchToday(ctx)
	s.Require().NoError(err)
	s.Len(list, n)
}

func (s *ServiceSuite) TestConcurrentSameNameAdmitsOne() {
	const n = 20
	g, _ := errgroup.WithContext(context.Background())
	ctx := requestcontext.WithTime(context.Background(), day1Noon)
	results := make([]*Result, n)
	for i := range n {
		g.Go(func() error {
			res, err := s.service.CheckIn(ctx, fmt.Sprintf("u%d", i), "Same")
			results[i] = res
			return err
		})
	}
	s.Require().NoError(g.Wait())

	wins := 0
	for _, res := range results {
		if res.Success {
			wins++
		} else {
			s.Equal(models.ReasonDuplicateName, res.Reason)
		}
	}
	s.Equal(1, wins)
}

func (s *ServiceSuite) TestPublishFailureDoesNotChangeResult() {
	s.recorder.FailWith(errors.New("broker down"))

	res := s.checkIn("u1", "Alice")
	s.True(res.Success)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventPublishFailures))
}

func (s *ServiceSuite) TestStoreFailures() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	svc := s.newService(store)

	s.Run("unavailable store", func() {
		storeErr := fmt.Errorf("read ledger: %w: %w", sentinel.ErrUnavailable, errors.New("connection refused"))
		store.EXPECT().Mutate(gomock.Any(), "2025-03-01", gomock.Any()).Return(models.Outcome{}, storeErr)

		res, err := svc.CheckIn(s.ctx(), "u1", "Alice")
		s.Nil(res)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.ErrorIs(err, sentinel.ErrUnavailable)
	})

	s.Run("deadline exceeded is a timeout", func() {
		storeErr := fmt.Errorf("commit: %w: %w", sentinel.ErrUnavailable, context.DeadlineExceeded)
		store.EXPECT().Mutate(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Outcome{}, storeErr)

		_, err := svc.CancelCheckIn(s.ctx(), "u1")
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("load failure", func() {
		store.EXPECT().Load(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable).Times(2)

		_, err := svc.FetchToday(s.ctx())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		_, err = svc.Stats(s.ctx())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("corrupt ledger is internal", func() {
		store.EXPECT().Load(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrInvalidState)

		_, err := svc.FetchToday(s.ctx())
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("validation never reaches the store", func() {
		res, err := svc.CheckIn(s.ctx(), "u1", "")
		s.Require().NoError(err)
		s.Equal(models.ReasonInvalidName, res.Reason)
	})
}

// spanRecorder keeps the names of spans started through it.
type spanRecorder struct {
	noop.Tracer
	mu    sync.Mutex
	names []string
}

func (r *spanRecorder) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func (s *ServiceSuite) TestSpansUseConfiguredTracer() {
	tracer := &spanRecorder{}
	svc, err := New(s.store, WithTracer(tracer), WithLocation(time.UTC))
	s.Require().NoError(err)

	_, err = svc.CheckIn(s.ctx(), "u1", "Alice")
	s.Require().NoError(err)
	_, err = svc.FetchToday(s.ctx())
	s.Require().NoError(err)

	s.Equal([]string{"attendance.CheckIn", "attendance.FetchToday"}, tracer.names)
}

func (s *ServiceSuite) TestCheckInLogsMobileDevice() {
	var buf bytes.Buffer
	svc, err := New(s.store,
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		WithLocation(time.UTC),
	)
	s.Require().NoError(err)

	const iphone = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	ctx := requestcontext.WithClientMetadata(s.ctx(), "10.0.0.1", iphone)
	res, err := svc.CheckIn(ctx, "u1", "Alice")
	s.Require().NoError(err)
	s.Require().True(res.Success)

	s.Contains(buf.String(), "mobile=true")
}
