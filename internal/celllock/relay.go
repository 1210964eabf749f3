// Package celllock relays advisory "someone is editing this cell" messages.
// Advisories are never rejected and never consulted by the update engine; the
// relay additionally keeps a lease per cell so that an abandoned advisory is
// withdrawn when its connection goes away or its lease runs out.
package celllock

import (
	"context"
	"log/slog"
	"time"

	"gridsync/internal/celllock/metrics"
	"gridsync/internal/presence"
	"gridsync/internal/scope"
)

const DefaultLeaseTTL = 2 * time.Minute

// Broadcaster fans a frame out to routing groups.
type Broadcaster interface {
	BroadcastTo(ctx context.Context, msgType string, groups []string, frame []byte)
}

// Advisory is the payload of lock_cell and cell_locked.
type Advisory struct {
	RowID      int64  `json:"rowId"`
	Field      string `json:"field"`
	HolderID   int64  `json:"holderId"`
	HolderName string `json:"holderName"`
	DistrictID int64  `json:"districtId"`
}

// Withdrawal is the payload of unlock_cell and cell_unlocked. Reason is set
// when the server withdraws an advisory on its own.
type Withdrawal struct {
	RowID      int64  `json:"rowId"`
	Field      string `json:"field"`
	DistrictID int64  `json:"districtId"`
	Reason     string `json:"reason,omitempty"`
}

const (
	ReasonExpired      = "expired"
	ReasonDisconnected = "disconnected"
)

type Relay struct {
	out     Broadcaster
	leases  *arena
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Relay)

func WithLeaseTTL(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(out Broadcaster, opts ...Option) *Relay {
	r := &Relay{
		out:    out,
		leases: newArena(),
		ttl:    DefaultLeaseTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// groupsFor targets the row's district group plus the admin group. An
// administrator that names no district reaches the admin group only.
func groupsFor(districtID int64) []string {
	if districtID > 0 {
		return []string{presence.DistrictGroup(districtID), presence.AdminGroup}
	}
	return []string{presence.AdminGroup}
}

// stamp overwrites the sender-controlled identity fields from the connection
// scope. Non-admins can only advertise within their own district.
func stamp(sc scope.Scope, districtID int64) int64 {
	if d, ok := sc.District(); ok && !sc.IsAdmin() {
		return d
	}
	return districtID
}

// Lock relays a lock advisory and records connID as the cell's latest holder.
// A second advisory for a held cell is relayed too.
func (r *Relay) Lock(ctx context.Context, sc scope.Scope, connID string, a Advisory) {
	if a.RowID <= 0 || a.Field == "" {
		r.metrics.IncrementMalformed()
		r.logger.DebugContext(ctx, "lock advisory ignored", "conn_id", connID, "row_id", a.RowID)
		return
	}
	a.HolderID = sc.ActorID
	if a.HolderName == "" {
		a.HolderName = sc.Login
	}
	a.DistrictID = stamp(sc, a.DistrictID)

	n := r.leases.put(Lease{
		Cell:       Cell{RowID: a.RowID, Field: a.Field},
		ConnID:     connID,
		HolderID:   a.HolderID,
		HolderName: a.HolderName,
		DistrictID: a.DistrictID,
		ExpiresAt:  r.now().Add(r.ttl),
	})
	r.metrics.SetLeases(n)
	r.send(ctx, presence.TypeCellLocked, a.DistrictID, a)
}

// Unlock relays a withdrawal. The lease is dropped only when connID holds it.
func (r *Relay) Unlock(ctx context.Context, sc scope.Scope, connID string, w Withdrawal) {
	if w.RowID <= 0 || w.Field == "" {
		r.metrics.IncrementMalformed()
		return
	}
	w.DistrictID = stamp(sc, w.DistrictID)
	w.Reason = ""

	if _, ok, n := r.leases.release(Cell{RowID: w.RowID, Field: w.Field}, connID); ok {
		r.metrics.SetLeases(n)
		r.metrics.IncrementLeaseEnded("unlocked")
	}
	r.send(ctx, presence.TypeCellUnlocked, w.DistrictID, w)
}

// ReleaseConn withdraws every advisory whose lease connID holds.
func (r *Relay) ReleaseConn(ctx context.Context, connID string) int {
	released, n := r.leases.releaseConn(connID)
	r.metrics.SetLeases(n)
	for _, l := range released {
		r.metrics.IncrementLeaseEnded(ReasonDisconnected)
		r.withdraw(ctx, l, ReasonDisconnected)
	}
	return len(released)
}

// Sweep withdraws expired advisories.
func (r *Relay) Sweep(ctx context.Context) int {
	expired, n := r.leases.expire(r.now())
	r.metrics.SetLeases(n)
	for _, l := range expired {
		r.metrics.IncrementLeaseEnded(ReasonExpired)
		r.withdraw(ctx, l, ReasonExpired)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = r.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.logger.InfoContext(ctx, "expired cell leases withdrawn", "count", n)
			}
		}
	}
}

// Leases lists current leases ordered by cell.
func (r *Relay) Leases() []Lease {
	return r.leases.snapshot()
}

func (r *Relay) withdraw(ctx context.Context, l Lease, reason string) {
	r.send(ctx, presence.TypeCellUnlocked, l.DistrictID, Withdrawal{
		RowID:      l.Cell.RowID,
		Field:      l.Cell.Field,
		DistrictID: l.DistrictID,
		Reason:     reason,
	})
}

func (r *Relay) send(ctx context.Context, msgType string, districtID int64, payload any) {
	frame, err := presence.Encode(msgType, payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "encode lock advisory", "error", err)
		return
	}
	r.out.BroadcastTo(ctx, msgType, groupsFor(districtID), frame)
	r.metrics.IncrementRelay(msgType)
}
