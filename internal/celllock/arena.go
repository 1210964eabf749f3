package celllock

import (
	"sort"
	"sync"
	"time"
)

// Cell identifies one field of one row.
type Cell struct {
	RowID int64
	Field string
}

// Lease records the most recent advertiser of a cell. It grants nothing: the
// update engine never consults it.
type Lease struct {
	Cell       Cell
	ConnID     string
	HolderID   int64
	HolderName string
	DistrictID int64
	ExpiresAt  time.Time
}

// arena holds at most one lease per cell; a later lock replaces the earlier
// holder.
type arena struct {
	mu     sync.Mutex
	leases map[Cell]Lease
}

func newArena() *arena {
	return &arena{leases: make(map[Cell]Lease)}
}

func (a *arena) put(l Lease) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leases[l.Cell] = l
	return len(a.leases)
}

// release drops the lease on c if connID holds it.
func (a *arena) release(c Cell, connID string) (Lease, bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.leases[c]
	if !ok || l.ConnID != connID {
		return Lease{}, false, len(a.leases)
	}
	delete(a.leases, c)
	return l, true, len(a.leases)
}

func (a *arena) releaseConn(connID string) ([]Lease, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Lease
	for c, l := range a.leases {
		if l.ConnID == connID {
			out = append(out, l)
			delete(a.leases, c)
		}
	}
	sortLeases(out)
	return out, len(a.leases)
}

func (a *arena) expire(now time.Time) ([]Lease, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Lease
	for c, l := range a.leases {
		if !now.Before(l.ExpiresAt) {
			out = append(out, l)
			delete(a.leases, c)
		}
	}
	sortLeases(out)
	return out, len(a.leases)
}

func (a *arena) snapshot() []Lease {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Lease, 0, len(a.leases))
	for _, l := range a.leases {
		out = append(out, l)
	}
	sortLeases(out)
	return out
}

func sortLeases(ls []Lease) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Cell.RowID != ls[j].Cell.RowID {
			return ls[i].Cell.RowID < ls[j].Cell.RowID
		}
		return ls[i].Cell.Field < ls[j].Cell.Field
	})
}
