package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for connection presence and fan-out.
type Metrics struct {
	Connections      prometheus.Gauge
	Broadcasts       *prometheus.CounterVec
	Deliveries       prometheus.Counter
	Dropped          prometheus.Counter
	BackplaneErrors  *prometheus.CounterVec
	BackplaneRelayed prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridsync_presence_connections",
			Help: "Live realtime connections on this instance",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_presence_broadcasts_total",
			Help: "Group broadcasts by message type",
		}, []string{"type"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_presence_deliveries_total",
			Help: "Messages enqueued to connections",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_presence_dropped_total",
			Help: "Messages dropped because a connection send queue was full",
		}),
		BackplaneErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_presence_backplane_errors_total",
			Help: "Backplane failures by operation",
		}, []string{"operation"}), // publish, decode
		BackplaneRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_presence_backplane_relayed_total",
			Help: "Broadcasts received from other instances",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) ObserveBroadcast(msgType string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(msgType).Inc()
	m.Deliveries.Add(float64(delivered))
	m.Dropped.Add(float64(dropped))
}

func (m *Metrics) IncrementBackplaneError(operation string) {
	if m != nil {
		m.BackplaneErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncrementBackplaneRelayed() {
	if m != nil {
		m.BackplaneRelayed.Inc()
	}
}
