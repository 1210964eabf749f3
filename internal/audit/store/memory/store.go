package memory

import (
	"context"
	"sort"
	"sync"

	"gridsync/internal/audit/models"
)

// Store keeps audit entries in insertion order.
type Store struct {
	mu      sync.RWMutex
	entries []models.Entry
	nextID  int64

	// optional lookups used to enrich ListRecent
	logins      map[int64]string
	clientNames func(recordID int64) (string, bool)
}

func New() *Store {
	return &Store{logins: make(map[int64]string)}
}

// WithLogin registers an actor login for ListRecent enrichment.
func (s *Store) WithLogin(actorID int64, login string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[actorID] = login
	return s
}

// WithClientNames sets the lookup used to attach client names in ListRecent.
func (s *Store) WithClientNames(lookup func(recordID int64) (string, bool)) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientNames = lookup
	return s
}

func (s *Store) Append(_ context.Context, entry models.Entry) (models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *Store) ListByRecord(_ context.Context, table string, recordID int64) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.TableName == table && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]models.EntryView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Ids follow commit order; timestamps need not.
	sorted := append([]models.Entry(nil), s.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]models.EntryView, 0, len(sorted))
	for _, e := range sorted {
		view := models.EntryView{Entry: e}
		if login, ok := s.logins[e.ActorID]; ok {
			view.ActorLogin = &login
		}
		if s.clientNames != nil && e.TableName == models.TableProjectData {
			if name, ok := s.clientNames(e.RecordID); ok {
				view.ClientName = &name
			}
		}
		out = append(out, view)
	}
	return out, nil
}

// All returns every entry in insertion order.
func (s *Store) All() []models.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Entry(nil), s.entries...)
}

// Snapshot captures the entry log for transactional rollback.
func (s *Store) Snapshot() func() {
	s.mu.RLock()
	saved := append([]models.Entry(nil), s.entries...)
	savedID := s.nextID
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = saved
		s.nextID = savedID
	}
}
