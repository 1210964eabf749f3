// Package backplane bridges presence broadcasts across instances over Redis
// pub/sub.
package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gridsync/internal/presence/metrics"
)

// Deliverer hands a relayed broadcast to local connections.
type Deliverer interface {
	DeliverLocal(groups []string, frame []byte) (delivered, dropped int)
}

type wireMessage struct {
	Origin string   `json:"origin"`
	Groups []string `json:"groups"`
	Frame  []byte   `json:"frame"`
}

// Redis publishes every local broadcast on one channel and replays broadcasts
// from other instances into the local registry. Messages carry the publishing
// instance id so an instance never delivers its own broadcast twice.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
	metrics *metrics.Metrics

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedis(client *redis.Client, channel string, logger *slog.Logger, m *metrics.Metrics) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
		metrics: m,
		ready:   make(chan struct{}),
	}
}

// Origin identifies this instance on the channel.
func (r *Redis) Origin() string { return r.origin }

// Ready is closed once the subscription is confirmed.
func (r *Redis) Ready() <-chan struct{} { return r.ready }

func (r *Redis) Publish(ctx context.Context, groups []string, frame []byte) error {
	payload, err := json.Marshal(wireMessage{Origin: r.origin, Groups: groups, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode backplane message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes and relays until ctx is done.
func (r *Redis) Run(ctx context.Context, local Deliverer) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.InfoContext(ctx, "presence backplane subscribed",
		"channel", r.channel,
		"origin", r.origin,
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.relay(ctx, local, msg.Payload)
		}
	}
}

const maxRetryDelay = 30 * time.Second

// Serve runs the subscription until ctx is done, resubscribing after failures.
// While Redis is unreachable broadcasts stay local to this instance.
func (r *Redis) Serve(ctx context.Context, local Deliverer, retryDelay time.Duration) error {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	delay := retryDelay
	for {
		err := r.Run(ctx, local)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.metrics.IncrementBackplaneError("subscribe")
			r.logger.WarnContext(ctx, "presence backplane unavailable, retrying",
				"channel", r.channel,
				"retry_in", delay,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (r *Redis) relay(ctx context.Context, local Deliverer, payload string) {
	var wm wireMessage
	if err := json.Unmarshal([]byte(payload), &wm); err != nil {
		r.metrics.IncrementBackplaneError("decode")
		r.logger.WarnContext(ctx, "backplane message dropped", "error", err)
		return
	}
	if wm.Origin == r.origin {
		return
	}
	local.DeliverLocal(wm.Groups, wm.Frame)
	r.metrics.IncrementBackplaneRelayed()
}
