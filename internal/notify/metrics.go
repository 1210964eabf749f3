package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for post-commit notification.
type Metrics struct {
	Queued    prometheus.Counter
	Dropped   prometheus.Counter
	Delivered *prometheus.CounterVec
	Failures  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queued: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_notify_queued_total",
			Help: "Committed changes accepted for notification",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_notify_dropped_total",
			Help: "Committed changes dropped because the notification queue was full",
		}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_notify_delivered_total",
			Help: "Changes handed to a sink by sink",
		}, []string{"sink"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_notify_failures_total",
			Help: "Notification failures by sink",
		}, []string{"sink"}),
	}
}

func (m *Metrics) incQueued() {
	if m != nil {
		m.Queued.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) incDelivered(sink string) {
	if m != nil {
		m.Delivered.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) incFailure(sink string) {
	if m != nil {
		m.Failures.WithLabelValues(sink).Inc()
	}
}
