package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the grid module.
type Metrics struct {
	UpdateLatency  prometheus.Histogram
	UpdateOutcomes *prometheus.CounterVec
	AuditAppends   prometheus.Counter
	ReadLatency    *prometheus.HistogramVec
}

// New creates a new Metrics instance with all grid metrics registered.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg, letting tests use a private
// registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsync_grid_update_duration_seconds",
			Help:    "Duration of scoped cell updates including the transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		UpdateOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_grid_update_outcomes_total",
			Help: "Cell update outcomes by result",
		}, []string{"outcome"}), // ok, field_not_editable, invalid_value, access_denied_or_not_found, store_failure, timeout
		AuditAppends: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_grid_audit_appends_total",
			Help: "Audit entries committed together with cell updates",
		}),
		ReadLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridsync_grid_read_duration_seconds",
			Help:    "Duration of scoped reads by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) ObserveUpdate(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpdateLatency.Observe(d.Seconds())
	m.UpdateOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementAuditAppends() {
	if m != nil {
		m.AuditAppends.Inc()
	}
}

func (m *Metrics) ObserveRead(operation string, d time.Duration) {
	if m != nil {
		m.ReadLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
