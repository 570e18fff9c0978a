// Package tablestore persists tables.
//
// Three backends are provided: [MemStore] for tests and single-process use,
// [PostgresStore] over pgx with JSONB columns, and [SQLiteStore] over
// modernc.org/sqlite. [AsyncSaver] turns any [Store] into the fire-and-forget
// saver the editors use: every edit enqueues the latest table state and
// failures are logged, never reported back to the editor.
package tablestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/table"
)

// ErrNotFound is returned when no table has the requested id.
var ErrNotFound = errors.New("tablestore: table not found")

// Store provides CRUD operations for tables.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save creates or replaces t.
	Save(ctx context.Context, t *table.Table) error

	// Get returns the table with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*table.Table, error)

	// List returns all tables, most recently modified first.
	List(ctx context.Context) ([]*table.Table, error)

	// Delete removes the table with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// Instrumented wraps s so that every call records its latency under driver.
func Instrumented(s Store, driver string, m *observe.Metrics) Store {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &instrumented{next: s, driver: driver, metrics: m}
}

type instrumented struct {
	next    Store
	driver  string
	metrics *observe.Metrics
}

func (s *instrumented) record(ctx context.Context, op string, start time.Time) {
	s.metrics.RecordStoreOp(ctx, s.driver, op, time.Since(start).Seconds())
}

func (s *instrumented) Save(ctx context.Context, t *table.Table) error {
	defer s.record(ctx, "save", time.Now())
	return s.next.Save(ctx, t)
}

func (s *instrumented) Get(ctx context.Context, id string) (*table.Table, error) {
	defer s.record(ctx, "get", time.Now())
	return s.next.Get(ctx, id)
}

func (s *instrumented) List(ctx context.Context) ([]*table.Table, error) {
	defer s.record(ctx, "list", time.Now())
	return s.next.List(ctx)
}

func (s *instrumented) Delete(ctx context.Context, id string) error {
	defer s.record(ctx, "delete", time.Now())
	return s.next.Delete(ctx, id)
}

// encoded is the column-wise serialisation shared by the SQL backends.
type encoded struct {
	columns []byte
	rows    []byte
	plan    []byte // nil when the table has no workflow plan
}

func encode(t *table.Table) (encoded, error) {
	var (
		e   encoded
		err error
	)
	cols := t.Columns
	if cols == nil {
		cols = []table.Column{}
	}
	if e.columns, err = json.Marshal(cols); err != nil {
		return e, fmt.Errorf("tablestore: marshal columns: %w", err)
	}
	rows := t.Rows
	if rows == nil {
		rows = []table.Row{}
	}
	if e.rows, err = json.Marshal(rows); err != nil {
		return e, fmt.Errorf("tablestore: marshal rows: %w", err)
	}
	if t.WorkflowPlan != nil {
		if e.plan, err = json.Marshal(t.WorkflowPlan); err != nil {
			return e, fmt.Errorf("tablestore: marshal workflow plan: %w", err)
		}
	}
	return e, nil
}

func decode(t *table.Table, e encoded) error {
	if err := json.Unmarshal(e.columns, &t.Columns); err != nil {
		return fmt.Errorf("tablestore: unmarshal columns: %w", err)
	}
	if err := json.Unmarshal(e.rows, &t.Rows); err != nil {
		return fmt.Errorf("tablestore: unmarshal rows: %w", err)
	}
	if t.Rows == nil {
		t.Rows = []table.Row{}
	}
	if len(e.plan) > 0 && string(e.plan) != "null" {
		var p pipeline.Pipeline
		if err := json.Unmarshal(e.plan, &p); err != nil {
			return fmt.Errorf("tablestore: unmarshal workflow plan: %w", err)
		}
		t.WorkflowPlan = &p
	}
	return nil
}

// SortRecent orders tables by LastModified, newest first, then by id.
func SortRecent(ts []*table.Table) {
	slices.SortStableFunc(ts, func(a, b *table.Table) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
