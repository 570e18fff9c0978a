package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxtable/internal/vision"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/table"
)

// defaultScanName names a scanned table when the client gives no name.
const defaultScanName = "Scanned table"

// tableSummary is one entry of the table list.
type tableSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	ColumnCount  int       `json:"columnCount"`
	RowCount     int       `json:"rowCount"`
	StepCount    int       `json:"stepCount"`
}

func summarize(t *table.Table) tableSummary {
	sum := tableSummary{
		ID:           t.ID,
		Name:         t.Name,
		CreatedAt:    t.CreatedAt,
		LastModified: t.LastModified,
		ColumnCount:  len(t.Columns),
		RowCount:     len(t.Rows),
	}
	if t.WorkflowPlan != nil {
		sum.StepCount = t.WorkflowPlan.Len()
	}
	return sum
}

// tableInput is the writable part of a table.
type tableInput struct {
	Name         string             `json:"name"`
	Columns      []table.Column     `json:"columns"`
	Rows         []table.Row        `json:"rows"`
	WorkflowPlan *pipeline.Pipeline `json:"workflowPlan"`
}

// validateColumns fills blank types with text and rejects missing or
// duplicate ids.
func validateColumns(cols []table.Column) error {
	seen := make(map[string]bool, len(cols))
	for i := range cols {
		c := &cols[i]
		if strings.TrimSpace(c.ID) == "" {
			return badRequest("column %d has no id", i)
		}
		if seen[c.ID] {
			return badRequest("duplicate column id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Type == "" {
			c.Type = table.TypeText
		}
		if !c.Type.IsValid() {
			return badRequest("column %q has unknown type %q", c.ID, c.Type)
		}
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tables, err := s.tables.list(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]tableSummary, len(tables))
	for i, t := range tables {
		out[i] = summarize(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in tableInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateColumns(in.Columns); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Untitled"
	}
	t := table.New(name, in.Columns)
	for _, row := range in.Rows {
		t.AppendRow(row)
	}
	t.WorkflowPlan = in.WorkflowPlan
	if err := s.tables.create(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.tables.get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	var in tableInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validateColumns(in.Columns); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tables.updateRows(r.Context(), r.PathValue("id"), func(t *table.Table) error {
		if name := strings.TrimSpace(in.Name); name != "" {
			t.Name = name
		}
		t.Columns = in.Columns
		t.Rows = make([]table.Row, 0, len(in.Rows))
		for _, row := range in.Rows {
			t.AppendRow(row)
		}
		t.WorkflowPlan = in.WorkflowPlan
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.tables.remove(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	t, err := table.ImportCSV(body, r.URL.Query().Get("filename"))
	if err != nil {
		var maxErr *http.MaxBytesError
		if !errors.As(err, &maxErr) {
			err = badRequest("import csv: %v", err)
		}
		s.writeError(w, r, err)
		return
	}
	if err := s.tables.create(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Extractor == nil {
		s.writeError(w, r, errCapabilityOff)
		return
	}
	mimeType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mimeType, "image/") {
		s.writeError(w, r, badRequest("content type %q is not an image", r.Header.Get("Content-Type")))
		return
	}
	img, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = defaultScanName
	}
	t, err := vision.Scan(r.Context(), s.cfg.Extractor, name, img, mimeType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.tables.create(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
