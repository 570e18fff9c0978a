// Package table defines the spreadsheet-like data model shared by every
// voxtable component: typed columns, loosely typed rows, and the optional
// workflow plan (a [pipeline.Pipeline]) that drives guided voice entry.
//
// Rows have no identity beyond their position. A cell that is absent from a
// row reads as the empty string, and row keys that no longer match a column
// (left behind by a column deletion) are tolerated and simply ignored.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxtable/pkg/pipeline"
)

// ErrOutOfRange is returned when a row index does not address a row.
var ErrOutOfRange = errors.New("table: index out of range")

// ColumnType is the declared value type of a column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeNumber  ColumnType = "number"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
)

// IsValid reports whether c is a recognised column type.
func (c ColumnType) IsValid() bool {
	switch c {
	case TypeText, TypeNumber, TypeDate, TypeBoolean:
		return true
	}
	return false
}

// Column describes one table column. ID is the identity; Label and Type are
// mutable metadata.
type Column struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Type  ColumnType `json:"type"`
}

// Row maps column ids to cell values. Values are string, float64, bool or nil.
type Row map[string]any

// Get returns the value stored under col, or "" when the key is absent.
func (r Row) Get(col string) any {
	v, ok := r[col]
	if !ok {
		return ""
	}
	return v
}

// String renders the cell under col for display and speech.
func (r Row) String(col string) string {
	return FormatValue(r.Get(col))
}

// Clone returns a shallow copy of the row. Cell values are immutable scalars.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of columns and rows plus an optional workflow plan.
type Table struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	CreatedAt    time.Time          `json:"createdAt"`
	LastModified time.Time          `json:"lastModified"`
	Columns      []Column           `json:"columns"`
	Rows         []Row              `json:"rows"`
	WorkflowPlan *pipeline.Pipeline `json:"workflowPlan,omitempty"`
}

// New returns an empty table with a fresh id and both timestamps set to now.
func New(name string, columns []Column) *Table {
	now := time.Now().UTC()
	return &Table{
		ID:           NewID(),
		Name:         name,
		CreatedAt:    now,
		LastModified: now,
		Columns:      append([]Column(nil), columns...),
		Rows:         []Row{},
	}
}

// NewID returns a random identifier suitable for tables.
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy of t, including rows and the workflow plan.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := *t
	out.Columns = append([]Column(nil), t.Columns...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	if t.WorkflowPlan != nil {
		p := t.WorkflowPlan.Clone()
		out.WorkflowPlan = &p
	}
	return &out
}

// Column returns the column with the given id.
func (t *Table) Column(id string) (Column, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnIDs returns the ids of all columns in order.
func (t *Table) ColumnIDs() []string {
	ids := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		ids[i] = c.ID
	}
	return ids
}

// ColumnLabel returns the label of column id. Dangling references fall back
// to the raw id so callers can still render and write them.
func (t *Table) ColumnLabel(id string) string {
	if c, ok := t.Column(id); ok && c.Label != "" {
		return c.Label
	}
	return id
}

// Cell returns the value at (row, col). Out-of-range rows read as "".
func (t *Table) Cell(row int, col string) any {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row].Get(col)
}

// SetCell writes v at (row, col). When row is past the end the table is
// padded with empty rows so the target exists.
func (t *Table) SetCell(row int, col string, v any) error {
	if row < 0 {
		return fmt.Errorf("%w: row %d", ErrOutOfRange, row)
	}
	for len(t.Rows) <= row {
		t.Rows = append(t.Rows, Row{})
	}
	if t.Rows[row] == nil {
		t.Rows[row] = Row{}
	}
	t.Rows[row][col] = v
	return nil
}

// AppendRow appends r (copied) to the table.
func (t *Table) AppendRow(r Row) {
	if r == nil {
		r = Row{}
	}
	t.Rows = append(t.Rows, r.Clone())
}

// DeleteRow removes the row at index i.
func (t *Table) DeleteRow(i int) error {
	if i < 0 || i >= len(t.Rows) {
		return fmt.Errorf("%w: row %d", ErrOutOfRange, i)
	}
	t.Rows = append(t.Rows[:i:i], t.Rows[i+1:]...)
	return nil
}

// Touch records a modification at now.
func (t *Table) Touch(now time.Time) {
	t.LastModified = now.UTC()
}

// FormatValue renders a cell value as text. Numbers use the shortest
// representation that round-trips.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Coerce converts v to the representation used for columns of type typ.
// Values that do not convert are returned unchanged.
func Coerce(v any, typ ColumnType) any {
	switch typ {
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
			if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return f
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b
			}
		}
	case TypeText, TypeDate:
		switch x := v.(type) {
		case float64, bool:
			return FormatValue(x)
		}
	}
	return v
}
