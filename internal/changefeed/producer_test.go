package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"gridsync/internal/grid/models"
	"gridsync/pkg/platform/circuit"
	"gridsync/pkg/platform/sentinel"
)

type fakeProducer struct {
	mu      sync.Mutex
	err     error
	records []*kgo.Record
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func change() models.Change {
	return models.Change{
		RowID: 7, DistrictID: 3, Field: "amount", OldValue: 1000.0, Value: 2500.0,
		ActorID: 1, ActorLogin: "admin", AuditID: 11,
		At: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), RequestID: "req-1",
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDeliverProducesKeyedRecord(t *testing.T) {
	p := &fakeProducer{}
	m := NewMetricsWithRegisterer(prometheus.NewRegistry())
	s := NewSink(p, "gridsync.cell-changes", WithMetrics(m), WithLogger(discard()))

	require.NoError(t, s.Deliver(context.Background(), change()))
	require.Len(t, p.records, 1)
	assert.Equal(t, "gridsync.cell-changes", p.records[0].Topic)
	assert.Equal(t, "7", string(p.records[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(p.records[0].Value, &ev))
	assert.Equal(t, int64(7), ev.RowID)
	assert.Equal(t, int64(3), ev.DistrictID)
	assert.Equal(t, 1000.0, ev.OldValue)
	assert.Equal(t, 2500.0, ev.NewValue)
	assert.Equal(t, int64(11), ev.AuditID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Produced))
}

func TestBreakerOpensAndSkips(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker unreachable")}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	b := circuit.New("changefeed",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	m := NewMetricsWithRegisterer(prometheus.NewRegistry())
	s := NewSink(p, "t", WithBreaker(b), WithMetrics(m), WithLogger(discard()))
	ctx := context.Background()

	assert.Error(t, s.Deliver(ctx, change()))
	assert.Error(t, s.Deliver(ctx, change()))
	assert.True(t, b.IsOpen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen))

	err := s.Deliver(ctx, change())
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Skipped))

	// after the cooldown a trial call goes through and closes the circuit.
	now = now.Add(2 * time.Minute)
	p.err = nil
	require.NoError(t, s.Deliver(ctx, change()))
	assert.False(t, b.IsOpen())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitOpen))
}

func TestNewClientRequiresBrokers(t *testing.T) {
	_, err := NewClient(nil, "t")
	assert.Error(t, err)
}
