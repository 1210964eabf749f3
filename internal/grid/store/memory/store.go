package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gridsync/internal/grid/models"
	"gridsync/internal/scope"
	"gridsync/pkg/platform/sentinel"
)

// Store is an in-memory RowStore. Row locking is provided by the
// MemoryTransactor that serializes units of work.
type Store struct {
	mu        sync.RWMutex
	rows      map[int64]*models.Row
	executors map[int64]string
}

func New() *Store {
	return &Store{
		rows:      make(map[int64]*models.Row),
		executors: make(map[int64]string),
	}
}

// Put inserts or replaces a row, standing in for the external import.
func (s *Store) Put(row *models.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row.Clone()
}

// PutExecutor registers a display name used for executor_name.
func (s *Store) PutExecutor(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[id] = name
}

// Get returns a row regardless of scope.
func (s *Store) Get(id int64) (*models.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Store) LockVisible(ctx context.Context, sc scope.Scope, rowID int64) (*models.Row, error) {
	return s.GetVisible(ctx, sc, rowID)
}

func (s *Store) GetVisible(_ context.Context, sc scope.Scope, rowID int64) (*models.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[rowID]
	if !ok || !sc.CanSee(r.DistrictID) {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) UpdateField(_ context.Context, rowID int64, f models.Field, value any, actorID int64, at time.Time) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	r.Set(f, value)
	by := actorID
	when := at
	r.LastModifiedBy = &by
	r.LastModifiedAt = &when
	return r.Clone(), nil
}

func (s *Store) ListVisible(_ context.Context, sc scope.Scope, filter models.RowFilter) ([]models.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[int64]struct{}
	if len(filter.IDs) > 0 {
		wanted = make(map[int64]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			wanted[id] = struct{}{}
		}
	}

	out := make([]models.Row, 0, len(s.rows))
	for _, r := range s.rows {
		if !sc.CanSee(r.DistrictID) {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[r.ID]; !ok {
				continue
			}
		}
		row := r.Clone()
		if row.ExecutorID != nil {
			if name, ok := s.executors[*row.ExecutorID]; ok {
				row.ExecutorName = &name
			}
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Stats(_ context.Context, sc scope.Scope) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st models.Stats
	for _, r := range s.rows {
		if !sc.CanSee(r.DistrictID) {
			continue
		}
		st.TotalRows++
		st.TotalAmount += r.Amount
		if r.Status == models.StatusCompleted {
			st.CompletedCount++
		}
		if r.HasError {
			st.ErrorCount++
		}
	}
	return st, nil
}

// Snapshot captures all rows for transactional rollback.
func (s *Store) Snapshot() func() {
	s.mu.RLock()
	saved := make(map[int64]*models.Row, len(s.rows))
	for id, r := range s.rows {
		saved[id] = r.Clone()
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rows = saved
	}
}
