// Package anthropic adapts the Anthropic Messages API as an analysis
// backend, for deployments that talk to Anthropic directly instead of going
// through OpenRouter.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goanthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/lenslab/promptlens/internal/analysis"
	"github.com/lenslab/promptlens/internal/imageprep"
)

// DefaultModel is used when no model override is configured.
const DefaultModel = "claude-3-5-sonnet-latest"

const maxOutputTokens = 2000

// Client holds an immutable API key and model for its lifetime.
type Client struct {
	api   *goanthropic.Client
	model string
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	model   string
	baseURL string
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the client at a different endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func New(apiKey string, opts ...Option) *Client {
	o := options{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []goanthropic.ClientOption
	if o.baseURL != "" {
		clientOpts = append(clientOpts, goanthropic.WithBaseURL(o.baseURL))
	}

	return &Client{
		api:   goanthropic.NewClient(apiKey, clientOpts...),
		model: o.model,
	}
}

// Analyze sends the image plus instruction through the Messages API. The API
// takes images as embedded base64 only, so URL sources are fetched first.
func (c *Client) Analyze(ctx context.Context, src analysis.ImageSource, instruction string) (string, error) {
	data := src.Data
	mimeType := src.MimeType
	if src.URL != "" {
		fetched, err := imageprep.FetchFromURL(ctx, src.URL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", analysis.ErrNetwork, err)
		}
		data = fetched.Data
		mimeType = fetched.MimeType
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: no image data", analysis.ErrFailed)
	}

	temp := float32(0.7)
	resp, err := c.api.CreateMessages(ctx, goanthropic.MessagesRequest{
		Model:       goanthropic.Model(c.model),
		MaxTokens:   maxOutputTokens,
		Temperature: &temp,
		Messages: []goanthropic.Message{{
			Role: goanthropic.RoleUser,
			Content: []goanthropic.MessageContent{
				goanthropic.NewImageMessageContent(goanthropic.NewMessageContentSource(
					goanthropic.MessagesContentSourceTypeBase64,
					normalizeMIME(mimeType),
					imageprep.ToBase64(data),
				)),
				goanthropic.NewTextMessageContent(instruction),
			},
		}},
	})
	if err != nil {
		return "", mapError(err)
	}

	text := strings.TrimSpace(resp.GetFirstContentText())
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", analysis.ErrMalformed)
	}
	return text, nil
}

// mapError translates library errors onto the analysis error taxonomy.
func mapError(err error) error {
	var apiErr *goanthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuthenticationErr():
			return fmt.Errorf("%w: %s", analysis.ErrInvalidKey, apiErr.Message)
		case apiErr.IsPermissionErr():
			return fmt.Errorf("%w: %s", analysis.ErrAccessDenied, apiErr.Message)
		case apiErr.IsRateLimitErr():
			return analysis.ErrRateLimited
		case apiErr.IsApiErr(), apiErr.IsOverloadedErr():
			return fmt.Errorf("%w: %s", analysis.ErrUpstream, apiErr.Message)
		default:
			return fmt.Errorf("%w: %s", analysis.ErrFailed, apiErr.Message)
		}
	}

	var reqErr *goanthropic.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode {
		case http.StatusUnauthorized:
			return analysis.ErrInvalidKey
		case http.StatusForbidden:
			return analysis.ErrAccessDenied
		case http.StatusTooManyRequests:
			return analysis.ErrRateLimited
		case http.StatusInternalServerError:
			return analysis.ErrUpstream
		default:
			return fmt.Errorf("%w: %v", analysis.ErrFailed, err)
		}
	}

	return fmt.Errorf("%w: %v", analysis.ErrNetwork, err)
}

// normalizeMIME coerces unknown MIME types to jpeg, the most universally
// accepted lossy fallback. The Messages API accepts only jpeg, png, gif, and
// webp; callers validate MIME types before reaching this layer.
func normalizeMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
