package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxtable/internal/tablestore"
	"github.com/MrWong99/voxtable/pkg/table"
)

// ErrSessionActive is returned for edits that would shift row indices under
// a running guided session.
var ErrSessionActive = errors.New("server: a guided session is running on this table")

// flushTimeout bounds the wait for pending saves before a delete.
const flushTimeout = 5 * time.Second

// workspace is the write-back cache between the handlers and the store. Every
// table a handler touches stays cached so that reads see edits whose
// background save has not landed yet. All mutations of one table are
// serialised by mu.
type workspace struct {
	store tablestore.Store
	saver *tablestore.AsyncSaver
	now   func() time.Time

	mu       sync.Mutex
	cache    map[string]*table.Table
	sessions map[string]bool
}

func newWorkspace(store tablestore.Store, saver *tablestore.AsyncSaver) *workspace {
	return &workspace{
		store:    store,
		saver:    saver,
		now:      time.Now,
		cache:    make(map[string]*table.Table),
		sessions: make(map[string]bool),
	}
}

// load returns the cached table, reading it from the store on a miss. Must be
// called with w.mu held.
func (w *workspace) load(ctx context.Context, id string) (*table.Table, error) {
	if t, ok := w.cache[id]; ok {
		return t, nil
	}
	t, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.cache[id] = t
	return t, nil
}

// get returns a copy of the table with id.
func (w *workspace) get(ctx context.Context, id string) (*table.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// list returns every table, newest first, with cached edits applied.
func (w *workspace) list(ctx context.Context) ([]*table.Table, error) {
	stored, err := w.store.List(ctx)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]bool, len(stored))
	out := make([]*table.Table, 0, len(stored))
	for _, t := range stored {
		seen[t.ID] = true
		if c, ok := w.cache[t.ID]; ok {
			t = c.Clone()
		}
		out = append(out, t)
	}
	// Created tables are saved synchronously, so anything cached but not
	// stored is a table whose first save is still queued.
	for id, c := range w.cache {
		if !seen[id] {
			out = append(out, c.Clone())
		}
	}
	tablestore.SortRecent(out)
	return out, nil
}

// create stores t synchronously so that creation errors reach the caller.
func (w *workspace) create(ctx context.Context, t *table.Table) error {
	if err := w.store.Save(ctx, t); err != nil {
		return err
	}
	w.mu.Lock()
	w.cache[t.ID] = t.Clone()
	w.mu.Unlock()
	return nil
}

// update runs fn on the live table and schedules a save when fn succeeds.
// fn must not keep t. The returned table is a copy of the new state.
func (w *workspace) update(ctx context.Context, id string, fn func(t *table.Table) error) (*table.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	live, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	work := live.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = live.ID
	work.CreatedAt = live.CreatedAt
	work.Touch(w.now())
	w.cache[id] = work
	w.saver.Enqueue(work)
	return work.Clone(), nil
}

// updateRows is update for edits that may change the row count. It fails with
// ErrSessionActive while a guided session owns the table and the edit would
// add or remove rows.
func (w *workspace) updateRows(ctx context.Context, id string, fn func(t *table.Table) error) (*table.Table, error) {
	return w.update(ctx, id, func(t *table.Table) error {
		before := len(t.Rows)
		if err := fn(t); err != nil {
			return err
		}
		if len(t.Rows) != before && w.sessions[id] {
			return ErrSessionActive
		}
		return nil
	})
}

// remove deletes the table from the cache and the store.
func (w *workspace) remove(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sessions[id] {
		return ErrSessionActive
	}
	delete(w.cache, id)
	w.saver.Forget(id)
	fctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := w.saver.Flush(fctx); err != nil {
		return fmt.Errorf("server: wait for pending saves: %w", err)
	}
	return w.store.Delete(ctx, id)
}

// acquire marks a guided session as running on id. Only one session may run
// per table.
func (w *workspace) acquire(ctx context.Context, id string) (*table.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.sessions[id] {
		return nil, ErrSessionActive
	}
	w.sessions[id] = true
	return t.Clone(), nil
}

// release ends the session mark taken by acquire.
func (w *workspace) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, id)
}

// sessionActive reports whether a guided session runs on id.
func (w *workspace) sessionActive(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessions[id]
}
