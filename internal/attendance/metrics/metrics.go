package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the attendance module. It also
// satisfies ledger.Observer so stores can report into the same registry.
type Metrics struct {
	CheckIns      prometheus.Counter
	Cancellations prometheus.Counter
	// Rejections by abort reason
	Rejections *prometheus.CounterVec
	// Attendee count of the ledger last committed or loaded
	LedgerSize prometheus.Gauge
	Rollovers  *prometheus.CounterVec

	StoreOpDuration *prometheus.HistogramVec
	StoreOpErrors   *prometheus.CounterVec

	EventPublishFailures prometheus.Counter
}

// New registers the attendance metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckIns: f.NewCounter(prometheus.CounterOpts{
			Name: "dailyroll_checkins_total",
			Help: "Total committed check-ins",
		}),
		Cancellations: f.NewCounter(prometheus.CounterOpts{
			Name: "dailyroll_cancellations_total",
			Help: "Total committed cancellations",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyroll_rejections_total",
			Help: "Total rejected check-in and cancel requests by reason",
		}, []string{"reason"}),
		LedgerSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "dailyroll_ledger_size",
			Help: "Number of attendees on today's ledger",
		}),
		Rollovers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyroll_ledger_rollovers_total",
			Help: "Total ledgers materialized for a new day by backend",
		}, []string{"backend"}),
		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dailyroll_store_op_duration_seconds",
			Help:    "Duration of ledger store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"backend", "op"}),
		StoreOpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyroll_store_op_errors_total",
			Help: "Total failed ledger store operations",
		}, []string{"backend", "op"}),
		EventPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "dailyroll_event_publish_failures_total",
			Help: "Total attendance events that could not be published",
		}),
	}
}

func (m *Metrics) IncrementCheckIns() {
	if m != nil {
		m.CheckIns.Inc()
	}
}

func (m *Metrics) IncrementCancellations() {
	if m != nil {
		m.Cancellations.Inc()
	}
}

// IncrementRejection records a business rejection.
func (m *Metrics) IncrementRejection(reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(reason).Inc()
	}
}

// SetLedgerSize records the attendee count of today's ledger.
func (m *Metrics) SetLedgerSize(n int) {
	if m != nil {
		m.LedgerSize.Set(float64(n))
	}
}

func (m *Metrics) IncrementPublishFailures() {
	if m != nil {
		m.EventPublishFailures.Inc()
	}
}

// LedgerRolledOver implements ledger.Observer.
func (m *Metrics) LedgerRolledOver(backend, _ string) {
	if m != nil {
		m.Rollovers.WithLabelValues(backend).Inc()
		m.LedgerSize.Set(0)
	}
}

// StoreOperation implements ledger.Observer.
func (m *Metrics) StoreOperation(backend, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOpDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
	if err != nil {
		m.StoreOpErrors.WithLabelValues(backend, op).Inc()
	}
}
