package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lenslab/promptlens/internal/analysis"
	"github.com/lenslab/promptlens/internal/domain"
	"github.com/lenslab/promptlens/internal/hosting"
	"github.com/lenslab/promptlens/internal/imageprep"
	"github.com/lenslab/promptlens/internal/previewstore"
)

var (
	// ErrNoImage is returned by Analyze when no intake is present.
	ErrNoImage = errors.New("no image selected")
	// ErrAnalysisInFlight is returned when Analyze is invoked while a
	// previous invocation has not finished. There is exactly one logical
	// analysis at a time; callers retry after the current one settles.
	ErrAnalysisInFlight = errors.New("analysis already in progress")
)

// settingsRepository is the subset of store.SettingsStore the Coordinator requires.
type settingsRepository interface {
	GetCredentials(ctx context.Context) domain.Credentials
	GetPreferences(ctx context.Context) domain.Preferences
}

// recordRepository is the subset of store.RecordStore the Coordinator requires.
type recordRepository interface {
	Save(ctx context.Context, rec *domain.AnalysisRecord) error
}

// AnalyzerFactory builds an analysis client for the current credentials. It
// returns an error wrapping analysis.ErrNoKey when the backend's key is not
// configured, so the precondition check happens before any network call.
type AnalyzerFactory func(creds domain.Credentials) (analysis.Analyzer, error)

// UploaderFactory builds a hosting client around the given key. Clients hold
// their key immutably; a credential change means a fresh client.
type UploaderFactory func(key string) hosting.Uploader

// State is a snapshot of the UI-facing session state.
type State struct {
	Intake *domain.ImageIntake    `json:"intake,omitempty"`
	Busy   bool                   `json:"busy"`
	Result *domain.AnalysisRecord `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Coordinator owns the transient session state (current intake, busy flag,
// last result, last error) and sequences the hosting upload and the analysis
// call. All durable writes go through the stores; the Coordinator never
// touches storage directly.
type Coordinator struct {
	settings    settingsRepository
	records     recordRepository
	previews    *previewstore.Store
	newAnalyzer AnalyzerFactory
	newUploader UploaderFactory
	logger      *slog.Logger

	busy atomic.Bool

	mu         sync.Mutex
	current    *domain.ImageIntake
	lastResult *domain.AnalysisRecord
	lastErr    string
}

func NewCoordinator(
	settings settingsRepository,
	records recordRepository,
	previews *previewstore.Store,
	newAnalyzer AnalyzerFactory,
	newUploader UploaderFactory,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		settings:    settings,
		records:     records,
		previews:    previews,
		newAnalyzer: newAnalyzer,
		newUploader: newUploader,
		logger:      logger,
	}
}

// State returns a snapshot of the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Intake: c.current,
		Busy:   c.busy.Load(),
		Result: c.lastResult,
		Error:  c.lastErr,
	}
}

// ProcessImageFile validates data, compresses it when it exceeds the
// threshold, writes the preview, and installs the result as the current
// intake. On any failure the prior intake is left intact and the error is
// recorded as the user-visible session error.
func (c *Coordinator) ProcessImageFile(ctx context.Context, fileName, mimeType string, data []byte) (*domain.ImageIntake, error) {
	if err := imageprep.Validate(mimeType, int64(len(data))); err != nil {
		c.setError(err)
		return nil, err
	}

	if imageprep.ShouldCompress(int64(len(data)), imageprep.CompressThresholdMB) {
		compressed, err := imageprep.Compress(data, imageprep.DefaultCompressOptions())
		if err != nil {
			c.setError(err)
			return nil, err
		}
		c.logger.Debug("intake image compressed",
			"file", fileName, "original_bytes", len(data), "compressed_bytes", len(compressed))
		data = compressed
		mimeType = "image/jpeg"
	}

	intake := &domain.ImageIntake{
		ID:         uuid.NewString(),
		Data:       data,
		FileName:   fileName,
		Size:       int64(len(data)),
		MimeType:   mimeType,
		CapturedAt: time.Now(),
	}

	previewKey, err := c.previews.Save(intake.ID, mimeType, data)
	if err != nil {
		// Preview is a convenience; intake still works without one.
		c.logger.Warn("failed to write intake preview", "file", fileName, "error", err)
	} else {
		intake.PreviewKey = previewKey
	}

	c.SetImage(intake)
	return intake, nil
}

// ProcessImageURL fetches a remote image and installs a URL-sourced intake.
// The remote URL doubles as the preview reference, so no preview file is
// written.
func (c *Coordinator) ProcessImageURL(ctx context.Context, rawURL string) (*domain.ImageIntake, error) {
	fetched, err := imageprep.FetchFromURL(ctx, rawURL)
	if err != nil {
		c.setError(err)
		return nil, err
	}
	if err := imageprep.Validate(fetched.MimeType, int64(len(fetched.Data))); err != nil {
		c.setError(err)
		return nil, err
	}

	intake := &domain.ImageIntake{
		ID:         uuid.NewString(),
		Data:       fetched.Data,
		FileName:   fetched.FileName,
		MimeType:   fetched.MimeType,
		CapturedAt: time.Now(),
		SourceURL:  rawURL,
		FromURL:    true,
	}

	c.SetImage(intake)
	return intake, nil
}

// SetImage replaces the current intake, releasing the previous intake's
// preview and discarding any prior result or error.
func (c *Coordinator) SetImage(intake *domain.ImageIntake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseCurrentLocked()
	c.current = intake
	c.lastResult = nil
	c.lastErr = ""
}

// ClearImage releases the current intake's preview and clears the intake and
// any result.
func (c *Coordinator) ClearImage() {
	c.SetImage(nil)
}

// AnalyzeOptions are the per-invocation overrides.
type AnalyzeOptions struct {
	// CustomInstruction replaces the language template when non-empty.
	CustomInstruction string
}

// Analyze runs one hosting-then-analysis attempt for the current intake.
// Preconditions (an intake present, the primary key configured) are checked
// before any network call. A hosting failure is a logged warning, not fatal:
// analysis falls back to the raw image. On success the record is built and,
// when the auto-save preference is on, written through the record store.
// There is no automatic retry anywhere on this path.
func (c *Coordinator) Analyze(ctx context.Context, opts AnalyzeOptions) (*domain.AnalysisRecord, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrAnalysisInFlight
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	intake := c.current
	c.mu.Unlock()

	if intake == nil {
		c.setError(ErrNoImage)
		return nil, ErrNoImage
	}

	creds := c.settings.GetCredentials(ctx)
	analyzer, err := c.newAnalyzer(creds)
	if err != nil {
		c.setError(err)
		return nil, err
	}

	prefs := c.settings.GetPreferences(ctx)

	source := c.resolveSource(ctx, intake, creds)

	instruction := analysis.Resolve(opts.CustomInstruction, prefs.Language, prefs.OutputFormat)

	c.logger.Info("analysis started", "intake_id", intake.ID, "file", intake.FileName, "hosted", source.URL != "")
	text, err := analyzer.Analyze(ctx, source, instruction)
	if err != nil {
		c.setError(err)
		return nil, err
	}
	c.logger.Info("analysis complete", "intake_id", intake.ID, "prompt_chars", len(text))

	rec := &domain.AnalysisRecord{
		ID:        uuid.NewString(),
		ImageName: intake.FileName,
		ImageURL:  recordImageURL(intake),
		Prompt:    text,
		CreatedAt: time.Now(),
	}

	if prefs.AutoSave {
		if err := c.records.Save(ctx, rec); err != nil {
			// Storage failures degrade, they never undo a successful analysis.
			c.logger.Warn("failed to auto-save analysis record", "record_id", rec.ID, "error", err)
		}
	}

	c.finishSuccess(rec)
	return rec, nil
}

// resolveSource decides what the analysis call receives: a hosted URL when a
// hosting key is configured and the upload succeeds, the original source URL
// for URL-sourced intake, or the raw image bytes.
func (c *Coordinator) resolveSource(ctx context.Context, intake *domain.ImageIntake, creds domain.Credentials) analysis.ImageSource {
	source := analysis.ImageSource{
		URL:      intake.SourceURL,
		Data:     intake.Data,
		MimeType: intake.MimeType,
	}

	if creds.ImgBBKey == "" || len(intake.Data) == 0 {
		return source
	}

	uploader := c.newUploader(creds.ImgBBKey)
	hostedURL, err := uploader.Upload(ctx, imageprep.ToBase64(intake.Data), hosting.UploadOptions{
		Name: intake.FileName,
	})
	if err != nil {
		// Not fatal and not retried: analysis proceeds with the raw image.
		c.logger.Warn("hosting upload failed, falling back to raw image",
			"intake_id", intake.ID, "error", err)
		return source
	}

	c.logger.Debug("image hosted", "intake_id", intake.ID, "url", hostedURL)
	c.mu.Lock()
	intake.HostedURL = hostedURL
	c.mu.Unlock()

	source.URL = hostedURL
	return source
}

// recordImageURL picks the best-effort durable URL for a record: the hosted
// URL when the upload succeeded, the original remote URL for URL-sourced
// intake, empty otherwise.
func recordImageURL(intake *domain.ImageIntake) string {
	if intake.HostedURL != "" {
		return intake.HostedURL
	}
	if intake.FromURL {
		return intake.SourceURL
	}
	return ""
}

// finishSuccess installs the result and clears the consumed intake. The
// record is decoupled from the intake, so the intake (and its preview) is
// released once the record exists.
func (c *Coordinator) finishSuccess(rec *domain.AnalysisRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseCurrentLocked()
	c.current = nil
	c.lastResult = rec
	c.lastErr = ""
}

func (c *Coordinator) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
}

// releaseCurrentLocked frees the preview backing the current intake. Callers
// hold c.mu.
func (c *Coordinator) releaseCurrentLocked() {
	if c.current != nil && c.current.PreviewKey != "" {
		c.previews.Release(c.current.PreviewKey)
	}
}
