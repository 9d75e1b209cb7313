package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dailyroll/internal/platform/metrics"
	"dailyroll/internal/platform/middleware"
	"dailyroll/pkg/platform/httputil"
	"dailyroll/pkg/platform/middleware/device"
	"dailyroll/pkg/platform/middleware/metadata"
	"dailyroll/pkg/platform/middleware/requestid"
	"dailyroll/pkg/platform/middleware/requesttime"
	"dailyroll/pkg/requestcontext"
)

// RouteRegistrar mounts a module's routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable. Health gates
// /healthz; EventsHealth only marks events as degraded since delivery is best effort.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router wires together.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Health         HealthCheck
	EventsHealth   HealthCheck
	RequestTimeout time.Duration
	Modules        []RouteRegistrar
}

// NewRouter builds the public HTTP surface. The middleware order matters:
// request id and time are set before logging so every log line carries them.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(device.Middleware)
	r.Use(middleware.Logger(d.Logger))
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}
	r.Use(middleware.LatencyMiddleware(d.Metrics))

	r.Get("/healthz", healthz(d.Logger, d.Health, d.EventsHealth))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	for _, m := range d.Modules {
		m.Register(r)
	}
	return r
}

func healthz(logger *slog.Logger, check, events HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if check != nil {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		body := map[string]string{"status": "ok"}
		if events != nil {
			body["events"] = "ok"
			if err := events(ctx); err != nil {
				logger.WarnContext(ctx, "event sink health check failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				body["events"] = "degraded"
			}
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	}
}
