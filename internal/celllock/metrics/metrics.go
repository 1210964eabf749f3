package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for lock advisories.
type Metrics struct {
	Relays       *prometheus.CounterVec
	Malformed    prometheus.Counter
	LeasesHeld   prometheus.Gauge
	LeaseEndings *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Relays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_celllock_relays_total",
			Help: "Lock advisories relayed by message type",
		}, []string{"type"}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_celllock_malformed_total",
			Help: "Lock advisories ignored because they name no cell",
		}),
		LeasesHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridsync_celllock_leases",
			Help: "Cells currently advertised as being edited",
		}),
		LeaseEndings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_celllock_lease_endings_total",
			Help: "Leases ended by reason",
		}, []string{"reason"}), // unlocked, expired, disconnected
	}
}

func (m *Metrics) IncrementRelay(msgType string) {
	if m != nil {
		m.Relays.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) IncrementMalformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) SetLeases(n int) {
	if m != nil {
		m.LeasesHeld.Set(float64(n))
	}
}

func (m *Metrics) IncrementLeaseEnded(reason string) {
	if m != nil {
		m.LeaseEndings.WithLabelValues(reason).Inc()
	}
}
