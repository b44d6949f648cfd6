package web

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lenslab/promptlens/internal/analysis/openrouter"
	"github.com/lenslab/promptlens/internal/service"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.State())
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instruction string `json:"instruction"`
	}
	// An empty body means "use the configured language template".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	rec, err := s.coordinator.Analyze(r.Context(), service.AnalyzeOptions{
		CustomInstruction: req.Instruction,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"models":  openrouter.AvailableModels(),
		"default": openrouter.DefaultModel,
	})
}
