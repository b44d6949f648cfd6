package web

import (
	"io"
	"net/http"
	"time"
)

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.List(r.Context())
	if err != nil {
		s.logger.Error("list records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list records"})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("search records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecordsByRange(w http.ResponseWriter, r *http.Request) {
	start, _, err := parseDateParam(r.URL.Query().Get("start"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start date"})
		return
	}
	end, dateOnly, err := parseDateParam(r.URL.Query().Get("end"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid end date"})
		return
	}
	if dateOnly {
		// A bare end date covers that whole day.
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	records, err := s.records.FilterByDateRange(r.Context(), start, end)
	if err != nil {
		s.logger.Error("filter records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "filter failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// parseDateParam accepts an RFC 3339 timestamp or a bare yyyy-mm-dd date.
func parseDateParam(v string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err = time.Parse("2006-01-02", v)
	return t, true, err
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.records.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.logger.Error("delete record failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "delete failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearRecords(w http.ResponseWriter, r *http.Request) {
	if err := s.records.Clear(r.Context()); err != nil {
		s.logger.Error("clear records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "clear failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	text, err := s.records.Export(r.Context())
	if err != nil {
		s.logger.Error("export records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export failed"})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="prompt-history.json"`)
	if _, err := io.WriteString(w, text); err != nil {
		s.logger.Error("write export failed", "error", err)
	}
}

func (s *Server) handleImportRecords(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64*1024*1024))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}

	ok, err := s.records.Import(r.Context(), string(body))
	if err != nil {
		s.logger.Error("import records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "import failed"})
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "not a valid record collection"})
		return
	}

	records, err := s.records.List(r.Context())
	if err != nil {
		s.logger.Error("list records failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list records"})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecordStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.records.Stats(r.Context())
	if err != nil {
		s.logger.Error("record stats failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stats failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
