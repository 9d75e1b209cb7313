package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dailyroll/internal/attendance/events"
	"dailyroll/internal/attendance/metrics"
	"dailyroll/internal/attendance/models"
	"dailyroll/internal/platform/device"
	dErrors "dailyroll/pkg/domain-errors"
	"dailyroll/pkg/platform/sentinel"
	"dailyroll/pkg/requestcontext"
)

const (
	MaxNameLength     = 10
	MaxIdentityLength = 128
)

// Store is the day-keyed ledger the service mutates.
type Store interface {
	Load(ctx context.Context, today string) (*models.DailyLedger, error)
	Mutate(ctx context.Context, today string, fn models.Transform) (models.Outcome, error)
}

// Result is the outcome of a check-in or cancel. A rejected request is a
// Result with Success false, never an error.
type Result struct {
	Success   bool
	Reason    models.AbortReason
	Message   string
	Attendees []models.AttendanceRecord
}

func committed(ledger *models.DailyLedger) *Result {
	return &Result{Success: true, Attendees: ledger.Sorted()}
}

func rejected(reason models.AbortReason) *Result {
	return &Result{Reason: reason, Message: reason.Message()}
}

// Service enforces the check-in rules on top of a ledger Store.
type Service struct {
	store     Store
	location  *time.Location
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	tracer    trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher sends committed changes to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.location = loc
	}
}

// WithTracer names the tracer spans are started on; the default is the
// global provider's "dailyroll/attendance".
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("dailyroll/attendance")
	}
	return s, nil
}

func (s *Service) today(ctx context.Context) (time.Time, string) {
	now := requestcontext.Now(ctx)
	return now, models.DateKey(now, s.location)
}

// FetchToday returns today's attendees, most recent first.
func (s *Service) FetchToday(ctx context.Context) ([]models.AttendanceRecord, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.FetchToday")
	defer span.End()

	_, today := s.today(ctx)
	ledger, err := s.store.Load(ctx, today)
	if err != nil {
		return nil, s.storeFailure(ctx, span, err, "failed to load today's ledger")
	}
	s.metrics.SetLedgerSize(len(ledger.Attendees))
	return ledger.Sorted(), nil
}

// Stats summarizes today's ledger.
func (s *Service) Stats(ctx context.Context) (*models.DailyStats, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.Stats")
	defer span.End()

	_, today := s.today(ctx)
	ledger, err := s.store.Load(ctx, today)
	if err != nil {
		return nil, s.storeFailure(ctx, span, err, "failed to load today's ledger")
	}
	s.metrics.SetLedgerSize(len(ledger.Attendees))
	return &models.DailyStats{
		Date:      ledger.Date,
		Count:     len(ledger.Attendees),
		Attendees: ledger.Sorted(),
	}, nil
}

// CheckIn adds identity to today's ledger under rawName.
func (s *Service) CheckIn(ctx context.Context, identity, rawName string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.CheckIn")
	defer span.End()

	identity = strings.TrimSpace(identity)
	name := strings.TrimSpace(rawName)
	if reason, ok := validateCheckIn(identity, name); !ok {
		return s.reject(ctx, span, reason, identity), nil
	}

	now, today := s.today(ctx)
	span.SetAttributes(attribute.String("attendance.date", today))

	out, err := s.store.Mutate(ctx, today, func(current *models.DailyLedger) models.Outcome {
		if current.FindIdentity(identity) >= 0 {
			return models.Abort(models.ReasonDuplicateIdentity)
		}
		if current.HasName(name) {
			return models.Abort(models.ReasonDuplicateName)
		}
		current.Attendees = append(current.Attendees, models.AttendanceRecord{
			Identity:    identity,
			DisplayName: name,
			CheckedInAt: now.UnixMilli(),
		})
		return models.Commit(current)
	})
	if err != nil {
		return nil, s.storeFailure(ctx, span, err, "failed to record check-in")
	}
	if out.Aborted() {
		return s.reject(ctx, span, out.Reason(), identity), nil
	}

	ledger := out.Ledger()
	ua := requestcontext.UserAgent(ctx)
	mobile := device.IsMobile(ua)
	span.SetAttributes(attribute.Bool("attendance.mobile", mobile))
	s.metrics.IncrementCheckIns()
	s.metrics.SetLedgerSize(len(ledger.Attendees))
	s.logger.InfoContext(ctx, "checked in",
		"request_id", requestcontext.RequestID(ctx),
		"date", today,
		"identity", identity,
		"device", device.ParseUserAgent(ua),
		"mobile", mobile,
		"attendees", len(ledger.Attendees),
	)
	s.publish(ctx, events.Event{
		Type:        events.TypeCheckedIn,
		Date:        today,
		Identity:    identity,
		DisplayName: name,
		OccurredAt:  now.UnixMilli(),
	})
	return committed(ledger), nil
}

// CancelCheckIn removes identity from today's ledger.
func (s *Service) CancelCheckIn(ctx context.Context, identity string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.CancelCheckIn")
	defer span.End()

	identity = strings.TrimSpace(identity)
	if !validIdentity(identity) {
		return s.reject(ctx, span, models.ReasonInvalidIdentity, identity), nil
	}

	now, today := s.today(ctx)
	span.SetAttributes(attribute.String("attendance.date", today))

	out, err := s.store.Mutate(ctx, today, func(current *models.DailyLedger) models.Outcome {
		i := current.FindIdentity(identity)
		if i < 0 {
			return models.Abort(models.ReasonNotCheckedIn)
		}
		current.Attendees = append(current.Attendees[:i], current.Attendees[i+1:]...)
		return models.Commit(current)
	})
	if err != nil {
		return nil, s.storeFailure(ctx, span, err, "failed to cancel check-in")
	}
	if out.Aborted() {
		return s.reject(ctx, span, out.Reason(), identity), nil
	}

	ledger := out.Ledger()
	s.metrics.IncrementCancellations()
	s.metrics.SetLedgerSize(len(ledger.Attendees))
	s.logger.InfoContext(ctx, "check-in cancelled",
		"request_id", requestcontext.RequestID(ctx),
		"date", today,
		"identity", identity,
		"attendees", len(ledger.Attendees),
	)
	s.publish(ctx, events.Event{
		Type:       events.TypeCancelled,
		Date:       today,
		Identity:   identity,
		OccurredAt: now.UnixMilli(),
	})
	return committed(ledger), nil
}

func validateCheckIn(identity, name string) (models.AbortReason, bool) {
	if !validIdentity(identity) {
		return models.ReasonInvalidIdentity, false
	}
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameLength {
		return models.ReasonInvalidName, false
	}
	return "", true
}

func validIdentity(identity string) bool {
	return identity != "" && len(identity) <= MaxIdentityLength
}

func (s *Service) reject(ctx context.Context, span trace.Span, reason models.AbortReason, identity string) *Result {
	span.SetAttributes(attribute.String("attendance.rejection", string(reason)))
	s.metrics.IncrementRejection(string(reason))
	s.logger.WarnContext(ctx, "attendance request rejected",
		"request_id", requestcontext.RequestID(ctx),
		"reason", reason,
		"identity", identity,
	)
	return rejected(reason)
}

// storeFailure converts a store error into a domain error. Deadline errors
// map to timeout: the mutation may or may not have committed.
func (s *Service) storeFailure(ctx context.Context, span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// publish is best effort; the ledger commit already happened.
func (s *Service) publish(ctx context.Context, event events.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.IncrementPublishFailures()
		s.logger.WarnContext(ctx, "failed to publish attendance event",
			"request_id", event.RequestID,
			"type", event.Type,
			"error", err,
		)
	}
}
