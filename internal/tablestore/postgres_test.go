package tablestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/voxtable/pkg/table"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return assign(r.data[r.idx-1], dest)
}

func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			if v == nil {
				*d = nil
				continue
			}
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func storedRow(t *testing.T, tbl *table.Table) []any {
	t.Helper()
	e, err := encode(tbl)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var plan any
	if e.plan != nil {
		plan = e.plan
	}
	return []any{tbl.ID, tbl.Name, e.columns, e.rows, plan, tbl.CreatedAt, tbl.LastModified}
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if gotSQL != PostgresSchema {
		t.Error("Migrate did not execute PostgresSchema")
	}

	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	if err := NewPostgresStore(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "migrate") {
		t.Errorf("Migrate error = %v", err)
	}
}

func TestPostgresStore_Save(t *testing.T) {
	t.Parallel()

	tbl := withPlan(sampleTable("inventory", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	var gotArgs []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "ON CONFLICT (id) DO UPDATE") {
			t.Errorf("Save must upsert, got %q", sql)
		}
		gotArgs = args
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}}

	if err := NewPostgresStore(db).Save(context.Background(), tbl); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(gotArgs) != 7 || gotArgs[0] != tbl.ID || gotArgs[1] != "inventory" {
		t.Fatalf("args = %v", gotArgs)
	}
	var cols []table.Column
	if err := json.Unmarshal(gotArgs[2].([]byte), &cols); err != nil || len(cols) != 2 {
		t.Errorf("columns arg = %s (%v)", gotArgs[2], err)
	}
	if plan, _ := gotArgs[4].([]byte); !strings.Contains(string(plan), "How many nuts?") {
		t.Errorf("plan arg = %s", gotArgs[4])
	}
}

func TestPostgresStore_SaveWithoutPlanWritesNull(t *testing.T) {
	t.Parallel()

	var plan any = "unset"
	db := &mockDB{execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
		plan = args[4]
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Save(context.Background(), sampleTable("x", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b, ok := plan.([]byte); !ok || b != nil {
		t.Errorf("plan arg = %#v, want nil []byte", plan)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	want := withPlan(sampleTable("inventory", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	row := storedRow(t, want)
	db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
		if args[0] != want.ID {
			return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
		}
		return &mockRow{scanFunc: func(dest ...any) error { return assign(row, dest) }}
	}}
	s := NewPostgresStore(db)

	got, err := s.Get(context.Background(), want.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != want.Name || len(got.Rows) != 2 || got.Cell(0, "col_1") != float64(12) {
		t.Errorf("Get = %+v", got)
	}
	if got.WorkflowPlan == nil || got.WorkflowPlan.Steps[0].Instruction != "How many nuts?" {
		t.Errorf("plan = %+v", got.WorkflowPlan)
	}

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_GetError(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(...any) error { return errors.New("connection reset") }}
	}}
	_, err := NewPostgresStore(db).Get(context.Background(), "x")
	if err == nil || errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("err = %v", err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	a := sampleTable("a", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	b := withPlan(sampleTable("b", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	rows := &mockRows{data: [][]any{storedRow(t, a), storedRow(t, b)}}
	db := &mockDB{queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
		if !strings.Contains(sql, "ORDER BY last_modified DESC") {
			t.Errorf("List must order by recency, got %q", sql)
		}
		return rows, nil
	}}

	got, err := NewPostgresStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].WorkflowPlan == nil || got[0].WorkflowPlan != nil {
		t.Errorf("List = %v", names(got))
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestPostgresStore_ListRowsErr(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{err: errors.New("broken pipe")}, nil
	}}
	if _, err := NewPostgresStore(db).List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgresStore_Delete(t *testing.T) {
	t.Parallel()

	tag := pgconn.NewCommandTag("DELETE 1")
	db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return tag, nil
	}}
	s := NewPostgresStore(db)
	if err := s.Delete(context.Background(), "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	tag = pgconn.NewCommandTag("DELETE 0")
	if err := s.Delete(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing: err = %v, want ErrNotFound", err)
	}
}
