package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxtable/pkg/table"
)

// SQLiteSchema is the DDL applied by [OpenSQLite]. JSON is stored as text and
// timestamps as Unix nanoseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS voxtables (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    column_defs   TEXT NOT NULL DEFAULT '[]',
    row_data      TEXT NOT NULL DEFAULT '[]',
    workflow_plan TEXT,
    created_at    INTEGER NOT NULL,
    last_modified INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_voxtables_last_modified ON voxtables(last_modified DESC);
`

// SQLiteStore is a [Store] backed by a SQLite file through the pure-Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dsn and applies
// [SQLiteSchema]. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tablestore: open sqlite: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("tablestore: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tablestore: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, t *table.Table) error {
	e, err := encode(t)
	if err != nil {
		return err
	}
	var plan sql.NullString
	if e.plan != nil {
		plan = sql.NullString{String: string(e.plan), Valid: true}
	}

	const query = `
		INSERT INTO voxtables (id, name, column_defs, row_data, workflow_plan, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			column_defs = excluded.column_defs,
			row_data = excluded.row_data,
			workflow_plan = excluded.workflow_plan,
			last_modified = excluded.last_modified`

	if _, err := s.db.ExecContext(ctx, query,
		t.ID, t.Name, string(e.columns), string(e.rows), plan,
		t.CreatedAt.UnixNano(), t.LastModified.UnixNano(),
	); err != nil {
		return fmt.Errorf("tablestore: save %q: %w", t.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*table.Table, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM voxtables WHERE id = ?`, id)
	t, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tablestore: get %q: %w", id, err)
	}
	return t, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM voxtables ORDER BY last_modified DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("tablestore: list: %w", err)
	}
	defer rows.Close()

	var out []*table.Table
	for rows.Next() {
		t, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("tablestore: list scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tablestore: list: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM voxtables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("tablestore: delete %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tablestore: delete %q: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*table.Table, error) {
	var (
		t                 table.Table
		columns, rows     string
		plan              sql.NullString
		created, modified int64
	)
	if err := row.Scan(&t.ID, &t.Name, &columns, &rows, &plan, &created, &modified); err != nil {
		return nil, err
	}
	e := encoded{columns: []byte(columns), rows: []byte(rows)}
	if plan.Valid {
		e.plan = []byte(plan.String)
	}
	if err := decode(&t, e); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.LastModified = time.Unix(0, modified).UTC()
	return &t, nil
}
