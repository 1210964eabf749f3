package tx

import (
	"context"
	"sync"

	dErrors "gridsync/pkg/domain-errors"
)

// Snapshotter is implemented by in-memory stores that can take part in a
// MemoryTransactor unit of work. Snapshot captures current state and returns a
// function that restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MemoryTransactor serializes units of work behind one mutex and restores every
// participating store when the work fails, giving in-memory stores the same
// all-or-nothing behavior as a database transaction.
type MemoryTransactor struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewMemory(stores ...Snapshotter) *MemoryTransactor {
	return &MemoryTransactor{stores: stores}
}

func (t *MemoryTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.Snapshot())
	}

	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
