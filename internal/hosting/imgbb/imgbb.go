// Package imgbb is an ImgBB upload client.
package imgbb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lenslab/promptlens/internal/hosting"
)

const defaultAPIURL = "https://api.imgbb.com/1/upload"

// ImgBB upload limits. BMP is accepted here even though the intake allow-list
// rejects it; the mismatch is inherited behavior, flagged for product review.
var limits = hosting.Limits{
	MaxFileSize:      32 * 1024 * 1024,
	SupportedFormats: []string{"jpg", "jpeg", "png", "gif", "bmp", "webp", "heic", "tif", "tiff"},
	MaxWidth:         65000,
	MaxHeight:        65000,
}

// testKeyImage is a 1×1 transparent PNG, already transfer-encoded, used to
// probe whether a candidate key works.
const testKeyImage = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// Client holds an immutable API key for its lifetime. Construct a new Client
// to use a different key.
type Client struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultAPIURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// response mirrors the ImgBB upload response structure.
type response struct {
	Success bool `json:"success"`
	Data    struct {
		URL        string `json:"url"`
		DisplayURL string `json:"display_url"`
		DeleteURL  string `json:"delete_url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	StatusCode int `json:"status_code"`
}

// Upload sends the transfer-encoded image to ImgBB and returns the hosted
// URL. It fails immediately, without a network call, when the client has no
// key.
func (c *Client) Upload(ctx context.Context, encodedImage string, opts hosting.UploadOptions) (string, error) {
	if c.apiKey == "" {
		return "", hosting.ErrNoKey
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"key":   c.apiKey,
		"image": encodedImage,
	}
	if opts.Name != "" {
		fields["name"] = opts.Name
	}
	if opts.ExpirationSeconds > 0 {
		fields["expiration"] = strconv.Itoa(opts.ExpirationSeconds)
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return "", fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", hosting.ErrNetwork, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close imgbb response body", "error", err)
		}
	}()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", hosting.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, respData)
	}

	var parsed response
	if err := json.Unmarshal(respData, &parsed); err != nil {
		return "", fmt.Errorf("%w: unreadable response", hosting.ErrUploadFailed)
	}
	if !parsed.Success || parsed.Data.URL == "" {
		return "", fmt.Errorf("%w: %s", hosting.ErrUploadFailed, errMessage(parsed, respData))
	}

	return parsed.Data.URL, nil
}

// statusError maps an HTTP error status onto the hosting error taxonomy.
func statusError(status int, body []byte) error {
	switch status {
	case http.StatusBadRequest:
		return hosting.ErrInvalidImage
	case http.StatusUnauthorized:
		return hosting.ErrInvalidKey
	case http.StatusForbidden:
		return hosting.ErrAccessDenied
	case http.StatusRequestEntityTooLarge:
		return hosting.ErrFileTooLarge
	case http.StatusTooManyRequests:
		return hosting.ErrRateLimited
	case http.StatusInternalServerError:
		return hosting.ErrUpstream
	default:
		return fmt.Errorf("%w: status %d: %s", hosting.ErrUploadFailed, status, upstreamDetail(body))
	}
}

func errMessage(parsed response, body []byte) string {
	if parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return upstreamDetail(body)
}

func upstreamDetail(body []byte) string {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

// TestKey reports whether candidateKey can perform a real upload, probed with
// the fixed 1×1 placeholder image. It never propagates the failure.
func TestKey(ctx context.Context, candidateKey string, opts ...Option) bool {
	if candidateKey == "" {
		return false
	}
	probe := New(candidateKey, opts...)
	_, err := probe.Upload(ctx, testKeyImage, hosting.UploadOptions{Name: "key_test"})
	if err != nil {
		slog.Debug("hosting key test failed", "error", err)
		return false
	}
	return true
}

// UploadLimits returns what the hosting service accepts.
func UploadLimits() hosting.Limits {
	return limits
}

// ValidateForUpload checks size against the hosting maximum and the filename
// extension, case-insensitively, against the supported formats.
func ValidateForUpload(fileName string, size int64) error {
	if size > limits.MaxFileSize {
		return fmt.Errorf("image is %d bytes, the hosting limit is %d bytes", size, limits.MaxFileSize)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	for _, format := range limits.SupportedFormats {
		if ext == format {
			return nil
		}
	}
	return fmt.Errorf("unsupported file extension %q, supported: %s",
		ext, strings.Join(limits.SupportedFormats, ", "))
}
