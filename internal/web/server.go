package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lenslab/promptlens/internal/analysis"
	"github.com/lenslab/promptlens/internal/analysis/openrouter"
	"github.com/lenslab/promptlens/internal/hosting"
	"github.com/lenslab/promptlens/internal/hosting/imgbb"
	"github.com/lenslab/promptlens/internal/imageprep"
	"github.com/lenslab/promptlens/internal/previewstore"
	"github.com/lenslab/promptlens/internal/service"
	"github.com/lenslab/promptlens/internal/store"
)

type Server struct {
	coordinator *service.Coordinator
	settings    *store.SettingsStore
	records     *store.RecordStore
	previews    *previewstore.Store
	mux         *http.ServeMux
	logger      *slog.Logger

	// Key probes are fields so tests can point them at local servers.
	probeAnalysisKey func(ctx context.Context, key string) bool
	probeHostingKey  func(ctx context.Context, key string) bool
}

func NewServer(
	coordinator *service.Coordinator,
	settings *store.SettingsStore,
	records *store.RecordStore,
	previews *previewstore.Store,
	logger *slog.Logger,
) *Server {
	s := &Server{
		coordinator: coordinator,
		settings:    settings,
		records:     records,
		previews:    previews,
		mux:         http.NewServeMux(),
		logger:      logger,
		probeAnalysisKey: func(ctx context.Context, key string) bool {
			return openrouter.TestKey(ctx, key)
		},
		probeHostingKey: func(ctx context.Context, key string) bool {
			return imgbb.TestKey(ctx, key)
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/images", s.handleUploadImage)
	s.mux.HandleFunc("POST /api/images/url", s.handleImageFromURL)
	s.mux.HandleFunc("DELETE /api/images", s.handleClearImage)
	s.mux.HandleFunc("GET /api/previews/{key}", s.handleGetPreview)

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /api/models", s.handleListModels)

	s.mux.HandleFunc("GET /api/records", s.handleListRecords)
	s.mux.HandleFunc("GET /api/records/search", s.handleSearchRecords)
	s.mux.HandleFunc("GET /api/records/range", s.handleRecordsByRange)
	s.mux.HandleFunc("GET /api/records/export", s.handleExportRecords)
	s.mux.HandleFunc("POST /api/records/import", s.handleImportRecords)
	s.mux.HandleFunc("GET /api/records/stats", s.handleRecordStats)
	s.mux.HandleFunc("DELETE /api/records/{id}", s.handleDeleteRecord)
	s.mux.HandleFunc("DELETE /api/records", s.handleClearRecords)

	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	s.mux.HandleFunc("GET /api/credentials", s.handleGetCredentials)
	s.mux.HandleFunc("PUT /api/credentials", s.handlePutCredentials)
	s.mux.HandleFunc("POST /api/credentials/openrouter/test", s.handleTestAnalysisKey)
	s.mux.HandleFunc("POST /api/credentials/imgbb/test", s.handleTestHostingKey)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data: https:")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError translates the typed error taxonomy into HTTP statuses. Caller
// mistakes and missing configuration are 4xx; anything that went wrong on a
// remote service is a 502 so the caller can tell it apart from a local fault.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoImage),
		errors.Is(err, analysis.ErrNoKey),
		errors.Is(err, hosting.ErrNoKey),
		errors.Is(err, imageprep.ErrUnsupportedType),
		errors.Is(err, imageprep.ErrTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrAnalysisInFlight):
		status = http.StatusConflict
	case errors.Is(err, analysis.ErrRateLimited), errors.Is(err, hosting.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, analysis.ErrInvalidKey),
		errors.Is(err, analysis.ErrAccessDenied),
		errors.Is(err, analysis.ErrUpstream),
		errors.Is(err, analysis.ErrNetwork),
		errors.Is(err, analysis.ErrMalformed),
		errors.Is(err, analysis.ErrFailed):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
