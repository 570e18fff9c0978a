package server

import (
	"net/http"

	"github.com/MrWong99/voxtable/internal/voicecmd"
	"github.com/MrWong99/voxtable/pkg/table"
)

type voiceRequest struct {
	Utterance string `json:"utterance"`
	Language  string `json:"language"`
}

type voiceResponse struct {
	Result  table.VoiceUpdateResult `json:"result"`
	Applied int                     `json:"applied"`
	Table   *table.Table            `json:"table"`
}

// handleVoice interprets one free-form utterance and applies it. The model
// call runs against a snapshot; the result is applied to the live table.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Interpreter == nil {
		s.writeError(w, r, errCapabilityOff)
		return
	}
	var req voiceRequest
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
	res, err := s.cfg.Interpreter.Interpret(r.Context(), snap, req.Utterance, s.lang(req.Language))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Action == table.ActionUnknown || len(res.RowUpdates) == 0 {
		writeJSON(w, http.StatusOK, voiceResponse{Result: res, Table: snap})
		return
	}
	if res.ChangesRowCount() && s.tables.sessionActive(id) {
		s.writeError(w, r, ErrSessionActive)
		return
	}

	var applied int
	t, err := s.tables.updateRows(r.Context(), id, func(t *table.Table) error {
		applied = voicecmd.Apply(t, res)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Result: res, Applied: applied, Table: t})
}
