// Package hosting defines the contract for third-party image hosts that turn
// an encoded image into a durable public URL.
package hosting

import (
	"context"
	"errors"
)

// Error categories for failed uploads. Clients wrap these so callers can
// match with errors.Is.
var (
	ErrNoKey        = errors.New("no hosting key configured")
	ErrInvalidImage = errors.New("invalid image data")
	ErrInvalidKey   = errors.New("invalid hosting key")
	ErrAccessDenied = errors.New("hosting access denied")
	ErrFileTooLarge = errors.New("file too large for hosting")
	ErrRateLimited  = errors.New("hosting rate limited")
	ErrUpstream     = errors.New("hosting server error")
	ErrNetwork      = errors.New("hosting network error")
	ErrUploadFailed = errors.New("upload failed")
)

// UploadOptions are the optional parameters of an upload.
type UploadOptions struct {
	Name              string
	ExpirationSeconds int
}

// Limits describes what the hosting service accepts.
type Limits struct {
	MaxFileSize      int64
	SupportedFormats []string
	MaxWidth         int
	MaxHeight        int
}

// Uploader uploads an encoded image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, encodedImage string, opts UploadOptions) (string, error)
}
