package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide HTTP metrics.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// New creates and registers HTTP metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dailyroll_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyroll_http_requests_total",
			Help: "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
