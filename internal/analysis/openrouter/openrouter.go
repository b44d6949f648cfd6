// Package openrouter is an OpenRouter chat-completions client for image
// analysis.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lenslab/promptlens/internal/analysis"
	"github.com/lenslab/promptlens/internal/imageprep"
)

const defaultAPIURL = "https://openrouter.ai/api/v1/chat/completions"

// DefaultModel is used when no model override is configured.
const DefaultModel = "openai/gpt-4o"

// maxOutputTokens bounds the generated prompt length.
const maxOutputTokens = 2000

// temperature is the fixed sampling temperature for prompt generation.
const temperature = 0.7

// availableModels is a static list, not a live query against the router.
var availableModels = []string{
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-sonnet",
	"google/gemini-flash-1.5",
	"qwen/qwen-2-vl-72b-instruct",
}

// AvailableModels returns the identifiers selectable for analysis.
func AvailableModels() []string {
	models := make([]string, len(availableModels))
	copy(models, availableModels)
	return models
}

// request types mirror the OpenRouter chat-completions structure.
type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content []part `json:"content"`
}

type part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client holds an immutable API key and model for its lifetime.
type Client struct {
	apiKey  string
	model   string
	client  *http.Client
	baseURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at a different endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   DefaultModel,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultAPIURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze sends the image plus instruction and returns the generated prompt
// text. The image always travels as a single URL reference: hosted URL when
// available, data URL otherwise.
func (c *Client) Analyze(ctx context.Context, src analysis.ImageSource, instruction string) (string, error) {
	if c.apiKey == "" {
		return "", analysis.ErrNoKey
	}

	imageURL := src.URL
	if imageURL == "" {
		imageURL = imageprep.DataURL(src.Data, src.MimeType)
	}

	body := request{
		Model: c.model,
		Messages: []message{{
			Role: "user",
			Content: []part{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
			},
		}},
		MaxTokens:   maxOutputTokens,
		Temperature: temperature,
	}

	text, err := c.complete(ctx, body)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", analysis.ErrMalformed)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, body request) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", analysis.ErrNetwork, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close openrouter response body", "error", err)
		}
	}()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", analysis.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, respData)
	}

	var parsed response
	if err := json.Unmarshal(respData, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", analysis.ErrMalformed, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices", analysis.ErrMalformed)
	}

	return parsed.Choices[0].Message.Content, nil
}

// statusError maps an HTTP error status onto the analysis error taxonomy.
func statusError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return analysis.ErrInvalidKey
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", analysis.ErrAccessDenied, upstreamDetail(body))
	case http.StatusTooManyRequests:
		return analysis.ErrRateLimited
	case http.StatusInternalServerError:
		return analysis.ErrUpstream
	default:
		return fmt.Errorf("%w: status %d: %s", analysis.ErrFailed, status, upstreamDetail(body))
	}
}

func upstreamDetail(body []byte) string {
	var parsed response
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

// TestKey reports whether candidateKey can complete a minimal one-token
// request. It never propagates the failure.
func TestKey(ctx context.Context, candidateKey string, opts ...Option) bool {
	if candidateKey == "" {
		return false
	}
	probe := New(candidateKey, opts...)

	_, err := probe.complete(ctx, request{
		Model: probe.model,
		Messages: []message{{
			Role:    "user",
			Content: []part{{Type: "text", Text: "ping"}},
		}},
		MaxTokens:   1,
		Temperature: 0,
	})
	if err != nil {
		slog.Debug("analysis key test failed", "error", err)
		return false
	}
	return true
}
