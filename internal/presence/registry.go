// Package presence tracks which realtime connections belong to which routing
// group and fans messages out to them.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gridsync/internal/presence/metrics"
	"gridsync/internal/scope"
	pstrings "gridsync/pkg/platform/strings"
)

// Conn is one live connection. Send must not block: it enqueues the frame and
// reports false when the frame was dropped.
type Conn interface {
	ID() string
	Send(frame []byte) bool
	Info() ConnInfo
}

// ConnInfo describes a connection for the roster.
type ConnInfo struct {
	ID          string     `json:"id"`
	ActorID     int64      `json:"user_id"`
	Login       string     `json:"login"`
	Role        scope.Role `json:"role"`
	DistrictID  *int64     `json:"district_id"`
	Browser     string     `json:"browser,omitempty"`
	OS          string     `json:"os,omitempty"`
	ConnectedAt time.Time  `json:"connected_at"`
}

// Backplane forwards broadcasts to other instances.
type Backplane interface {
	Publish(ctx context.Context, groups []string, frame []byte) error
}

// Registry is safe for concurrent use. Group membership is process local;
// a Backplane makes broadcasts reach connections on other instances.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	groups map[string]map[string]Conn
	member map[string]map[string]struct{}

	backplane Backplane
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithBackplane(b Backplane) Option {
	return func(r *Registry) { r.backplane = b }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[string]Conn),
		groups: make(map[string]map[string]Conn),
		member: make(map[string]map[string]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds conn to group. It reports whether the membership is new; joining
// twice is a no-op.
func (r *Registry) Join(conn Conn, group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.conns[id]; !ok {
		r.conns[id] = conn
		r.member[id] = make(map[string]struct{})
		r.metrics.ConnectionOpened()
	}
	if _, ok := r.member[id][group]; ok {
		return false
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]Conn)
		r.groups[group] = members
	}
	members[id] = conn
	r.member[id][group] = struct{}{}
	return true
}

// Leave removes conn from every group.
func (r *Registry) Leave(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	groups, ok := r.member[id]
	if !ok {
		return
	}
	for g := range groups {
		delete(r.groups[g], id)
		if len(r.groups[g]) == 0 {
			delete(r.groups, g)
		}
	}
	delete(r.member, id)
	delete(r.conns, id)
	r.metrics.ConnectionClosed()
}

// BroadcastTo delivers frame to every local connection in any of groups, once
// per connection, the sender included, and forwards it to the backplane.
// Delivery is best effort.
func (r *Registry) BroadcastTo(ctx context.Context, msgType string, groups []string, frame []byte) {
	groups = pstrings.DedupeAndTrim(groups)
	delivered, dropped := r.DeliverLocal(groups, frame)
	r.metrics.ObserveBroadcast(msgType, delivered, dropped)

	if r.backplane == nil {
		return
	}
	if err := r.backplane.Publish(ctx, groups, frame); err != nil {
		r.metrics.IncrementBackplaneError("publish")
		r.logger.WarnContext(ctx, "backplane publish failed",
			"type", msgType,
			"groups", groups,
			"error", err,
		)
	}
}

// DeliverLocal enqueues frame on the local members of groups without touching
// the backplane. It returns how many connections accepted and dropped it.
func (r *Registry) DeliverLocal(groups []string, frame []byte) (delivered, dropped int) {
	r.mu.RLock()
	targets := make(map[string]Conn)
	for _, g := range groups {
		for id, c := range r.groups[g] {
			targets[id] = c
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if c.Send(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Groups lists the groups conn belongs to, sorted.
func (r *Registry) Groups(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.member[conn.ID()]))
	for g := range r.member[conn.ID()] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Members counts the connections in group.
func (r *Registry) Members(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// Roster lists the local connections visible under sc: all of them for an
// administrator, otherwise those whose scope shares the caller's district.
func (r *Registry) Roster(sc scope.Scope) []ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		info := c.Info()
		if !sc.IsAdmin() && (info.DistrictID == nil || !sc.CanSee(*info.DistrictID)) {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
