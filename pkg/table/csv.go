package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrEmptyCSV is returned by ImportCSV when the input has no header record.
var ErrEmptyCSV = errors.New("table: csv has no header row")

// ImportCSV builds a table from CSV text. The first record is the header.
// Column ids are assigned positionally (col_0, col_1, ...). A column is typed
// number only when every non-empty value in it is a canonical number; those
// cells are stored as float64, everything else stays text.
func ImportCSV(r io.Reader, filename string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("table: read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyCSV
	}

	header := records[0]
	body := records[1:]

	width := len(header)
	for _, rec := range body {
		width = max(width, len(rec))
	}

	cols := make([]Column, width)
	for i := range cols {
		label := ""
		if i < len(header) {
			label = strings.TrimSpace(header[i])
		}
		if label == "" {
			label = fmt.Sprintf("Column %d", i+1)
		}
		cols[i] = Column{
			ID:    fmt.Sprintf("col_%d", i),
			Label: label,
			Type:  inferType(body, i),
		}
	}

	t := New(tableName(filename), cols)
	for _, rec := range body {
		row := make(Row, len(rec))
		for i, raw := range rec {
			v := strings.TrimSpace(raw)
			if cols[i].Type == TypeNumber && v != "" {
				f, _ := strconv.ParseFloat(v, 64)
				row[cols[i].ID] = f
				continue
			}
			row[cols[i].ID] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// inferType returns TypeNumber when every non-empty value of column i is a
// canonical number and at least one value is present.
func inferType(records [][]string, i int) ColumnType {
	seen := false
	for _, rec := range records {
		if i >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[i])
		if v == "" {
			continue
		}
		if !IsCanonicalNumber(v) {
			return TypeText
		}
		seen = true
	}
	if !seen {
		return TypeText
	}
	return TypeNumber
}

// IsCanonicalNumber reports whether s is a finite decimal number without an
// exponent whose shortest formatting reproduces s exactly ("12.5" yes,
// "12.50", "1e3" and "007" no).
func IsCanonicalNumber(s string) bool {
	if strings.ContainsAny(s, "eE") {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	return strconv.FormatFloat(f, 'f', -1, 64) == s
}

func tableName(filename string) string {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "Imported table"
	}
	return name
}
