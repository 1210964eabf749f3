// Package changefeed publishes committed cell changes to a Kafka topic for
// external reporting. It is a notify.Sink guarded by a circuit breaker: while
// the broker is unreachable changes are skipped rather than queued.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"gridsync/internal/grid/models"
	"gridsync/pkg/platform/circuit"
	"gridsync/pkg/platform/sentinel"
)

// Event is the record value written to the topic.
type Event struct {
	RowID      int64     `json:"row_id"`
	DistrictID int64     `json:"district_id"`
	Field      string    `json:"field"`
	OldValue   any       `json:"old_value"`
	NewValue   any       `json:"new_value"`
	ActorID    int64     `json:"actor_id"`
	ActorLogin string    `json:"actor_login"`
	AuditID    int64     `json:"audit_id"`
	At         time.Time `json:"at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// EventFromChange maps a committed change to its wire form.
func EventFromChange(c models.Change) Event {
	return Event{
		RowID:      c.RowID,
		DistrictID: c.DistrictID,
		Field:      c.Field,
		OldValue:   c.OldValue,
		NewValue:   c.Value,
		ActorID:    c.ActorID,
		ActorLogin: c.ActorLogin,
		AuditID:    c.AuditID,
		At:         c.At,
		RequestID:  c.RequestID,
	}
}

// RecordProducer is the subset of *kgo.Client the sink needs.
type RecordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Sink struct {
	producer RecordProducer
	topic    string
	breaker  *circuit.Breaker
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Sink)

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

func NewSink(producer RecordProducer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("changefeed"),
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Name() string { return "changefeed" }

// Deliver produces one record keyed by row id, so changes to a row stay in
// one partition and keep their commit order.
func (s *Sink) Deliver(ctx context.Context, c models.Change) error {
	if !s.breaker.Allow() {
		s.metrics.incSkipped()
		return fmt.Errorf("changefeed circuit open: %w", sentinel.ErrUnavailable)
	}

	value, err := json.Marshal(EventFromChange(c))
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(strconv.FormatInt(c.RowID, 10)),
		Value: value,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.metrics.setOpen(true)
			s.logger.WarnContext(ctx, "changefeed circuit opened", "topic", s.topic, "error", err)
		}
		return fmt.Errorf("produce change event: %w", err)
	}

	_, change := s.breaker.RecordSuccess()
	if change.Closed {
		s.metrics.setOpen(false)
		s.logger.InfoContext(ctx, "changefeed circuit closed", "topic", s.topic)
	}
	s.metrics.incProduced()
	return nil
}

// NewClient connects a producer for topic.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("changefeed: no brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
