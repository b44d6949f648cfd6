// Package analysis defines the contract for multimodal completion backends
// that turn an image into a descriptive prompt.
package analysis

import (
	"context"
	"errors"
)

// Error categories for failed analysis calls, matched with errors.Is.
var (
	ErrNoKey        = errors.New("no analysis key configured")
	ErrInvalidKey   = errors.New("invalid or expired analysis key")
	ErrAccessDenied = errors.New("analysis access denied")
	ErrRateLimited  = errors.New("analysis rate limited")
	ErrUpstream     = errors.New("analysis server error")
	ErrNetwork      = errors.New("analysis network error")
	ErrMalformed    = errors.New("malformed analysis response")
	ErrFailed       = errors.New("analysis failed")
)

// ImageSource is either a publicly dereferenceable URL or in-memory image
// bytes. When URL is set it takes precedence; the bytes are then ignored.
type ImageSource struct {
	URL      string
	Data     []byte
	MimeType string
}

// Analyzer generates a descriptive prompt for a single image. Implementations
// hold immutable credentials for their lifetime; there is no retry at this
// layer, callers decide whether to try again.
type Analyzer interface {
	Analyze(ctx context.Context, src ImageSource, instruction string) (string, error)
}
