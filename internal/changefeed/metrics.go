package changefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Produced    prometheus.Counter
	Skipped     prometheus.Counter
	CircuitOpen prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Produced: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_changefeed_produced_total",
			Help: "Change events acknowledged by the broker",
		}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_changefeed_skipped_total",
			Help: "Change events skipped while the circuit was open",
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridsync_changefeed_circuit_open",
			Help: "1 while the change feed circuit breaker is open",
		}),
	}
}

func (m *Metrics) incProduced() {
	if m != nil {
		m.Produced.Inc()
	}
}

func (m *Metrics) incSkipped() {
	if m != nil {
		m.Skipped.Inc()
	}
}

func (m *Metrics) setOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
