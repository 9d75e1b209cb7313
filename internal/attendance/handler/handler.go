package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dailyroll/internal/attendance/models"
	"dailyroll/internal/attendance/service"
	dErrors "dailyroll/pkg/domain-errors"
	"dailyroll/pkg/platform/httputil"
	"dailyroll/pkg/requestcontext"
)

// Service is the attendance surface the handlers need.
type Service interface {
	FetchToday(ctx context.Context) ([]models.AttendanceRecord, error)
	Stats(ctx context.Context) (*models.DailyStats, error)
	CheckIn(ctx context.Context, identity, rawName string) (*service.Result, error)
	CancelCheckIn(ctx context.Context, identity string) (*service.Result, error)
}

// Handler serves the attendance endpoints.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the attendance routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/attendance", func(r chi.Router) {
		r.Get("/today", h.HandleToday)
		r.Get("/today/stats", h.HandleStats)
		r.Post("/check-in", h.HandleCheckIn)
		r.Post("/cancel", h.HandleCancel)
	})
}

// HandleToday returns today's attendees, most recent first.
func (h *Handler) HandleToday(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attendees, err := h.svc.FetchToday(ctx)
	if err != nil {
		h.writeStoreFailure(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AttendeesResponse{Attendees: attendees})
}

// HandleStats returns today's date, attendee count and attendees.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		h.writeStoreFailure(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatsResponse(stats))
}

// HandleCheckIn adds the caller to today's ledger.
func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CheckInRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.svc.CheckIn(ctx, identityOrDevice(ctx, req.Identity), req.DisplayName)
	if err != nil {
		h.writeStoreFailure(ctx, w, err)
		return
	}
	h.writeResult(w, res)
}

// HandleCancel removes the caller from today's ledger.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.svc.CancelCheckIn(ctx, identityOrDevice(ctx, req.Identity))
	if err != nil {
		h.writeStoreFailure(ctx, w, err)
		return
	}
	h.writeResult(w, res)
}

// identityOrDevice falls back to the device id when the body names no identity.
func identityOrDevice(ctx context.Context, identity string) string {
	if identity != "" {
		return identity
	}
	return requestcontext.DeviceID(ctx)
}

func (h *Handler) writeResult(w http.ResponseWriter, res *service.Result) {
	if res.Success {
		httputil.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Attendees: res.Attendees})
		return
	}
	httputil.WriteJSON(w, statusForReason(res.Reason), FailureResponse{
		Success: false,
		Reason:  res.Reason,
		Message: res.Message,
	})
}

// writeStoreFailure renders infrastructure errors in the same failure shape
// as business rejections.
func (h *Handler) writeStoreFailure(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	if !dErrors.HasCode(err, dErrors.CodeUnavailable) && !dErrors.HasCode(err, dErrors.CodeTimeout) {
		status = http.StatusInternalServerError
	}
	h.logger.ErrorContext(ctx, "attendance request failed",
		"request_id", requestcontext.RequestID(ctx),
		"status", status,
		"error", err,
	)
	reason := models.ReasonStorageUnavailable
	httputil.WriteJSON(w, status, FailureResponse{
		Success: false,
		Reason:  reason,
		Message: reason.Message(),
	})
}

func statusForReason(reason models.AbortReason) int {
	switch reason {
	case models.ReasonInvalidName, models.ReasonInvalidIdentity:
		return http.StatusUnprocessableEntity
	case models.ReasonDuplicateIdentity, models.ReasonDuplicateName:
		return http.StatusConflict
	case models.ReasonNotCheckedIn:
		return http.StatusNotFound
	case models.ReasonStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
