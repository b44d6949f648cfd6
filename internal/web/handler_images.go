package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lenslab/promptlens/internal/imageprep"
)

// maxUploadBytes bounds the multipart form, slightly above the intake ceiling
// so over-limit files reach the validator and get the descriptive rejection.
const maxUploadBytes = imageprep.MaxFileSize + 1024*1024

// sniffMIME detects the uploaded image type from its magic bytes.
// net/http.DetectContentType handles JPEG, PNG, and GIF; WebP is detected
// separately because the WHATWG sniff spec (and therefore the stdlib) does
// not include a WebP signature.
func sniffMIME(data []byte) string {
	if isWebP(data) {
		return "image/webp"
	}
	return http.DetectContentType(data)
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to parse form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "image file required"})
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("read upload failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read file"})
		return
	}

	intake, err := s.coordinator.ProcessImageFile(r.Context(), header.Filename, sniffMIME(data), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, intake)
}

func (s *Server) handleImageFromURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url required"})
		return
	}

	intake, err := s.coordinator.ProcessImageURL(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, intake)
}

func (s *Server) handleClearImage(w http.ResponseWriter, r *http.Request) {
	s.coordinator.ClearImage()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	reader, mimeType, err := s.previews.Open(r.PathValue("key"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "preview reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write preview failed", "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
