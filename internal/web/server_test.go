package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lenslab/promptlens/internal/analysis"
	"github.com/lenslab/promptlens/internal/domain"
	"github.com/lenslab/promptlens/internal/hosting"
	"github.com/lenslab/promptlens/internal/previewstore"
	"github.com/lenslab/promptlens/internal/service"
	"github.com/lenslab/promptlens/internal/store"
)

func openTestDB(t *testing.T) *sql.DB {
	d, err := sql.Open("sqlite", "file::memory:?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on")
	require.NoError(t, err)

	_, err = d.Exec(`
		CREATE TABLE settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE records (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			image_name TEXT    NOT NULL,
			image_url  TEXT    NOT NULL DEFAULT '',
			prompt     TEXT    NOT NULL,
			created_at TEXT    NOT NULL
		);
		CREATE INDEX idx_records_created_at ON records(created_at);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

type stubAnalyzer struct {
	prompt string
	err    error
}

func (a *stubAnalyzer) Analyze(context.Context, analysis.ImageSource, string) (string, error) {
	return a.prompt, a.err
}

type stubUploader struct {
	url string
	err error
}

func (u *stubUploader) Upload(context.Context, string, hosting.UploadOptions) (string, error) {
	return u.url, u.err
}

type testEnv struct {
	server   *Server
	http     *httptest.Server
	settings *store.SettingsStore
	records  *store.RecordStore
	analyzer *stubAnalyzer
}

// newTestEnv wires a real Server over in-memory SQLite stores, a temp-dir
// preview store, and stubbed remote clients.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	d := openTestDB(t)
	settings := store.NewSettingsStore(d)
	records := store.NewRecordStore(d, settings)

	previews, err := previewstore.New(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		settings: settings,
		records:  records,
		analyzer: &stubAnalyzer{prompt: "a weathered wooden pier at dawn"},
	}

	coordinator := service.NewCoordinator(
		settings, records, previews,
		func(creds domain.Credentials) (analysis.Analyzer, error) {
			if creds.OpenRouterKey == "" {
				return nil, analysis.ErrNoKey
			}
			return env.analyzer, nil
		},
		func(string) hosting.Uploader { return &stubUploader{url: "https://i.ibb.co/x.jpg"} },
		slog.Default(),
	)

	env.server = NewServer(coordinator, settings, records, previews, slog.Default())
	env.http = httptest.NewServer(env.server)
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, resp.Body.Close()) })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func testJPEGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

// buildMultipartBody creates a multipart/form-data body with an "image" field.
func buildMultipartBody(t *testing.T, fileName string, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", fileName)
	require.NoError(t, err)
	_, err = fw.Write(imageData)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (e *testEnv) uploadImage(t *testing.T, fileName string, data []byte) *domain.ImageIntake {
	t.Helper()
	body, contentType := buildMultipartBody(t, fileName, data)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/api/images", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, resp.Body.Close()) })
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	intake := decodeBody[*domain.ImageIntake](t, resp)
	return intake
}

func TestSniffMIME(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}, "image/jpeg"},
		{"PNG", []byte("\x89PNG\r\n\x1a\n\x00\x00"), "image/png"},
		{"GIF", []byte("GIF89a\x00\x00\x00\x00"), "image/gif"},
		{"WebP", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"text", []byte("hello world, plain text here"), "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniffMIME(tt.data))
		})
	}
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t)

	intake := env.uploadImage(t, "pier.jpg", testJPEGBytes(t))
	assert.NotEmpty(t, intake.ID)
	assert.Equal(t, "pier.jpg", intake.FileName)
	assert.Equal(t, "image/jpeg", intake.MimeType)
	assert.NotEmpty(t, intake.PreviewKey)

	resp := env.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeBody[service.State](t, resp)
	require.NotNil(t, state.Intake)
	assert.Equal(t, intake.ID, state.Intake.ID)
	assert.False(t, state.Busy)
}

func TestUploadImage_UnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := buildMultipartBody(t, "doc.txt", []byte("not an image at all"))
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/images", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, resp.Body.Close()) })

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decodeBody[errorResponse](t, resp)
	assert.Contains(t, errResp.Error, "unsupported")
}

func TestPreviewServedAndReleasedOnClear(t *testing.T) {
	env := newTestEnv(t)

	intake := env.uploadImage(t, "pier.jpg", testJPEGBytes(t))

	resp := env.do(t, http.MethodGet, "/api/previews/"+intake.PreviewKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	resp = env.do(t, http.MethodDelete, "/api/images", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/previews/"+intake.PreviewKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyze_NoImage(t *testing.T) {
	env := newTestEnv(t)
	env.settings.SaveCredentials(t.Context(), domain.Credentials{OpenRouterKey: "sk-or-test"})

	resp := env.do(t, http.MethodPost, "/api/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyze_NoKey(t *testing.T) {
	env := newTestEnv(t)
	env.uploadImage(t, "pier.jpg", testJPEGBytes(t))

	resp := env.do(t, http.MethodPost, "/api/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decodeBody[errorResponse](t, resp)
	assert.Contains(t, errResp.Error, "key")
}

func TestAnalyze_SuccessRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.settings.SaveCredentials(t.Context(), domain.Credentials{OpenRouterKey: "sk-or-test"})
	env.uploadImage(t, "pier.jpg", testJPEGBytes(t))

	resp := env.do(t, http.MethodPost, "/api/analyze", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[*domain.AnalysisRecord](t, resp)
	assert.Equal(t, "a weathered wooden pier at dawn", rec.Prompt)
	assert.Equal(t, "pier.jpg", rec.ImageName)

	resp = env.do(t, http.MethodGet, "/api/records", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]*domain.AnalysisRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
}

func TestAnalyze_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.settings.SaveCredentials(t.Context(), domain.Credentials{OpenRouterKey: "sk-or-test"})
	env.analyzer.err = fmt.Errorf("%w: try later", analysis.ErrRateLimited)
	env.uploadImage(t, "pier.jpg", testJPEGBytes(t))

	resp := env.do(t, http.MethodPost, "/api/analyze", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func seedRecords(t *testing.T, env *testEnv, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		rec := &domain.AnalysisRecord{
			ID:        fmt.Sprintf("r%d", i),
			ImageName: fmt.Sprintf("img%d.jpg", i),
			Prompt:    fmt.Sprintf("prompt number %d", i),
		}
		require.NoError(t, env.records.Save(t.Context(), rec))
	}
}

func TestRecordsSearch(t *testing.T) {
	env := newTestEnv(t)
	seedRecords(t, env, 3)

	resp := env.do(t, http.MethodGet, "/api/records/search?q=NUMBER+2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]*domain.AnalysisRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].ID)
}

func TestRecordsRange_DateOnlyCoversWholeDay(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	require.NoError(t, env.records.Save(t.Context(), &domain.AnalysisRecord{
		ID: "today", ImageName: "a.jpg", Prompt: "p", CreatedAt: now,
	}))

	day := now.Format("2006-01-02")
	resp := env.do(t, http.MethodGet, "/api/records/range?start="+day+"&end="+day, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]*domain.AnalysisRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "today", records[0].ID)
}

func TestRecordsRange_BadDate(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/records/range?start=yesterday&end=2026-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordDeleteAndClear(t *testing.T) {
	env := newTestEnv(t)
	seedRecords(t, env, 3)

	resp := env.do(t, http.MethodDelete, "/api/records/r2", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/records", nil)
	records := decodeBody[[]*domain.AnalysisRecord](t, resp)
	assert.Len(t, records, 2)

	resp = env.do(t, http.MethodDelete, "/api/records", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/records", nil)
	records = decodeBody[[]*domain.AnalysisRecord](t, resp)
	assert.Empty(t, records)
}

func TestRecordsExportImport(t *testing.T) {
	env := newTestEnv(t)
	seedRecords(t, env, 2)

	resp := env.do(t, http.MethodGet, "/api/records/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	exported, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = env.do(t, http.MethodDelete, "/api/records", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/records/import", bytes.NewReader(exported))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]*domain.AnalysisRecord](t, resp)
	assert.Len(t, records, 2)
}

func TestRecordsImport_RejectsMalformed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/records/import", strings.NewReader(`{"not":"an array"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordStats(t *testing.T) {
	env := newTestEnv(t)
	seedRecords(t, env, 2)

	resp := env.do(t, http.MethodGet, "/api/records/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[*domain.StorageStats](t, resp)
	assert.Equal(t, 2, stats.Count)
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prefs := decodeBody[domain.Preferences](t, resp)
	assert.Equal(t, domain.DefaultPreferences(), prefs)

	body := strings.NewReader(`{"language":"en","outputFormat":"concise","autoSave":false,"maxHistoryItems":50}`)
	resp = env.do(t, http.MethodPut, "/api/settings", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prefs = decodeBody[domain.Preferences](t, resp)
	assert.Equal(t, domain.LanguageEN, prefs.Language)
	assert.Equal(t, domain.OutputConcise, prefs.OutputFormat)
	assert.False(t, prefs.AutoSave)
	assert.Equal(t, 50, prefs.MaxHistoryItems)
}

func TestCredentials_NeverEchoed(t *testing.T) {
	env := newTestEnv(t)

	body := strings.NewReader(`{"openRouterKey":"sk-or-secret","imgbbKey":""}`)
	resp := env.do(t, http.MethodPut, "/api/credentials", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-or-secret")

	var status credentialStatus
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.True(t, status.OpenRouterKeySet)
	assert.False(t, status.ImgBBKeySet)
}

func TestKeyProbeEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var probed string
	env.server.probeAnalysisKey = func(_ context.Context, key string) bool {
		probed = key
		return true
	}
	env.server.probeHostingKey = func(context.Context, string) bool { return false }

	resp := env.do(t, http.MethodPost, "/api/credentials/openrouter/test",
		strings.NewReader(`{"key":"sk-or-candidate"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[keyTestResponse](t, resp)
	assert.True(t, result.Valid)
	assert.Equal(t, "sk-or-candidate", probed)

	resp = env.do(t, http.MethodPost, "/api/credentials/imgbb/test",
		strings.NewReader(`{"key":"ibb-candidate"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result = decodeBody[keyTestResponse](t, resp)
	assert.False(t, result.Valid)

	resp = env.do(t, http.MethodPost, "/api/credentials/openrouter/test", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Models)
	assert.Contains(t, body.Models, body.Default)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
