package tablestore

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtable/pkg/table"
)

// MemStore is an in-memory [Store]. Tables are cloned on the way in and out
// so callers never share state with the store.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tables: make(map[string]*table.Table)}
}

// Save implements Store.
func (s *MemStore) Save(_ context.Context, t *table.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.ID] = t.Clone()
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (*table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context) ([]*table.Table, error) {
	s.mu.RLock()
	out := make([]*table.Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	SortRecent(out)
	return out, nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[id]; !ok {
		return ErrNotFound
	}
	delete(s.tables, id)
	return nil
}
