package server

import (
	"net/http"

	"github.com/MrWong99/voxtable/internal/synth"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/table"
)

// Pipeline edit operations.
const (
	opInsert         = "insert"
	opDelete         = "delete"
	opReorder        = "reorder"
	opDuplicate      = "duplicate"
	opDeleteSelected = "deleteSelected"
	opEdit           = "edit"
	opDescribe       = "describe"
)

// pipelineResponse carries a plan and the advisory issues found in it.
type pipelineResponse struct {
	Pipeline pipeline.Pipeline `json:"pipeline"`
	Issues   []pipeline.Issue  `json:"issues"`
}

func planOf(t *table.Table) pipelineResponse {
	var p pipeline.Pipeline
	if t.WorkflowPlan != nil {
		p = t.WorkflowPlan.Clone()
	}
	if p.Steps == nil {
		p.Steps = []pipeline.Step{}
	}
	issues := pipeline.Check(p, t.ColumnIDs())
	if issues == nil {
		issues = []pipeline.Issue{}
	}
	return pipelineResponse{Pipeline: p, Issues: issues}
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	t, err := s.tables.get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planOf(t))
}

type suggestRequest struct {
	Language string `json:"language"`
}

// handleSuggest replaces the stored plan with a synthesized one. A failed
// suggestion leaves the stored plan untouched.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Suggester == nil {
		s.writeError(w, r, errCapabilityOff)
		return
	}
	var req suggestRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	snap, err := s.tables.get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := synth.Synthesize(r.Context(), s.cfg.Suggester, snap, s.lang(req.Language))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tables.update(r.Context(), id, func(t *table.Table) error {
		t.WorkflowPlan = &p
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planOf(t))
}

// editRequest is one structural or field edit of the stored plan. Which
// fields are read depends on Op.
type editRequest struct {
	Op          string            `json:"op"`
	Index       int               `json:"index"`
	From        int               `json:"from"`
	To          int               `json:"to"`
	Selection   []int             `json:"selection"`
	Edit        pipeline.StepEdit `json:"edit"`
	Description string            `json:"description"`
}

func (req editRequest) apply(p pipeline.Pipeline, defaultColumnID string) (pipeline.Pipeline, error) {
	switch req.Op {
	case opInsert:
		return pipeline.InsertStep(p, defaultColumnID), nil
	case opDelete:
		return pipeline.DeleteStep(p, req.Index)
	case opReorder:
		return pipeline.ReorderStep(p, req.From, req.To)
	case opDuplicate:
		return pipeline.DuplicateSelected(p, pipeline.NewSelection(req.Selection...)), nil
	case opDeleteSelected:
		return pipeline.DeleteSelected(p, pipeline.NewSelection(req.Selection...)), nil
	case opEdit:
		return pipeline.EditStep(p, req.Index, req.Edit)
	case opDescribe:
		return pipeline.WithDescription(p, req.Description), nil
	}
	return p, badRequest("unknown pipeline op %q", req.Op)
}

func (s *Server) handleEditPipeline(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.tables.update(r.Context(), r.PathValue("id"), func(t *table.Table) error {
		var p pipeline.Pipeline
		if t.WorkflowPlan != nil {
			p = *t.WorkflowPlan
		}
		var defaultColumn string
		if len(t.Columns) > 0 {
			defaultColumn = t.Columns[0].ID
		}
		next, err := req.apply(p, defaultColumn)
		if err != nil {
			return err
		}
		t.WorkflowPlan = &next
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planOf(t))
}
