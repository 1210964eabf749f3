// Package notify propagates committed changes to realtime peers and other
// downstream sinks. Delivery is at most once and never blocks the writer.
package notify

import (
	"context"
	"log/slog"

	"gridsync/internal/grid/models"
)

const DefaultBuffer = 1024

// Sink receives each committed change once. A failed delivery is logged and
// counted, never retried.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, change models.Change) error
}

type Notifier struct {
	queue   chan models.Change
	sinks   []Sink
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Notifier)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func WithBuffer(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan models.Change, size)
		}
	}
}

func New(sinks []Sink, opts ...Option) *Notifier {
	n := &Notifier{
		queue:  make(chan models.Change, DefaultBuffer),
		sinks:  sinks,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Publish enqueues change without blocking. When the queue is full the change
// is dropped; the committed write is unaffected.
func (n *Notifier) Publish(ctx context.Context, change models.Change) {
	select {
	case n.queue <- change:
		n.metrics.incQueued()
	default:
		n.metrics.incDropped()
		n.logger.WarnContext(ctx, "notification failure: queue full",
			"request_id", change.RequestID,
			"row_id", change.RowID,
			"field", change.Field,
		)
	}
}

// Run delivers queued changes until ctx is done. Changes still queued at
// shutdown are discarded.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-n.queue:
			n.dispatch(ctx, change)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, change models.Change) {
	for _, s := range n.sinks {
		if err := s.Deliver(ctx, change); err != nil {
			n.metrics.incFailure(s.Name())
			n.logger.WarnContext(ctx, "notification failure",
				"sink", s.Name(),
				"request_id", change.RequestID,
				"row_id", change.RowID,
				"audit_id", change.AuditID,
				"error", err,
			)
			continue
		}
		n.metrics.incDelivered(s.Name())
	}
}
