package web

import (
	"encoding/json"
	"net/http"

	"github.com/lenslab/promptlens/internal/domain"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.GetPreferences(r.Context()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var prefs domain.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s.settings.SavePreferences(r.Context(), prefs)
	// Read back: the store substitutes defaults for out-of-range values.
	s.writeJSON(w, http.StatusOK, s.settings.GetPreferences(r.Context()))
}

type credentialStatus struct {
	OpenRouterKeySet bool `json:"openRouterKeySet"`
	ImgBBKeySet      bool `json:"imgbbKeySet"`
}

// handleGetCredentials reports which keys are configured without echoing
// their values.
func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	creds := s.settings.GetCredentials(r.Context())
	s.writeJSON(w, http.StatusOK, credentialStatus{
		OpenRouterKeySet: creds.OpenRouterKey != "",
		ImgBBKeySet:      creds.ImgBBKey != "",
	})
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s.settings.SaveCredentials(r.Context(), creds)
	s.writeJSON(w, http.StatusOK, credentialStatus{
		OpenRouterKeySet: creds.OpenRouterKey != "",
		ImgBBKeySet:      creds.ImgBBKey != "",
	})
}

type keyTestRequest struct {
	Key string `json:"key"`
}

type keyTestResponse struct {
	Valid bool `json:"valid"`
}

func (s *Server) handleTestAnalysisKey(w http.ResponseWriter, r *http.Request) {
	var req keyTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key required"})
		return
	}
	s.writeJSON(w, http.StatusOK, keyTestResponse{Valid: s.probeAnalysisKey(r.Context(), req.Key)})
}

func (s *Server) handleTestHostingKey(w http.ResponseWriter, r *http.Request) {
	var req keyTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key required"})
		return
	}
	s.writeJSON(w, http.StatusOK, keyTestResponse{Valid: s.probeHostingKey(r.Context(), req.Key)})
}
