package tablestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/voxtable/pkg/table"
)

// PostgresSchema is the SQL DDL for the tables relation. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS voxtables (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    column_defs   JSONB NOT NULL DEFAULT '[]',
    row_data      JSONB NOT NULL DEFAULT '[]',
    workflow_plan JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_modified TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voxtables_last_modified ON voxtables(last_modified DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Columns, rows and the
// workflow plan are stored as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a PostgresStore over db. Call
// [PostgresStore.Migrate] before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("tablestore: migrate: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, t *table.Table) error {
	e, err := encode(t)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO voxtables (id, name, column_defs, row_data, workflow_plan, created_at, last_modified)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			column_defs = EXCLUDED.column_defs,
			row_data = EXCLUDED.row_data,
			workflow_plan = EXCLUDED.workflow_plan,
			last_modified = EXCLUDED.last_modified`

	if _, err := s.db.Exec(ctx, query,
		t.ID, t.Name, e.columns, e.rows, e.plan, t.CreatedAt, t.LastModified,
	); err != nil {
		return fmt.Errorf("tablestore: save %q: %w", t.ID, err)
	}
	return nil
}

const selectColumns = `id, name, column_defs, row_data, workflow_plan, created_at, last_modified`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*table.Table, error) {
	query := `SELECT ` + selectColumns + ` FROM voxtables WHERE id = $1`

	t, err := scanTable(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tablestore: get %q: %w", id, err)
	}
	return t, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]*table.Table, error) {
	query := `SELECT ` + selectColumns + ` FROM voxtables ORDER BY last_modified DESC, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tablestore: list: %w", err)
	}
	defer rows.Close()

	var out []*table.Table
	for rows.Next() {
		t, err := scanTable(rows)
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
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM voxtables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("tablestore: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTable(row pgx.Row) (*table.Table, error) {
	var (
		t table.Table
		e encoded
	)
	if err := row.Scan(&t.ID, &t.Name, &e.columns, &e.rows, &e.plan, &t.CreatedAt, &t.LastModified); err != nil {
		return nil, err
	}
	if err := decode(&t, e); err != nil {
		return nil, err
	}
	return &t, nil
}
