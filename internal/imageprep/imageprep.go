// Package imageprep validates, downsizes, and re-encodes user-supplied
// images, independent of any network concern.
package imageprep

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	// imaging registers JPEG, PNG, and GIF decoders; WebP is on the intake
	// allow-list, so its decoder has to be registered here.
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedType marks a rejection for a MIME type outside the
	// allow-list.
	ErrUnsupportedType = errors.New("unsupported image type")

	// ErrTooLarge marks a rejection for an image at or above the size ceiling.
	ErrTooLarge = errors.New("image too large")
)

// MaxFileSize is the hard ceiling for any intake image.
const MaxFileSize = 10 * 1024 * 1024

// CompressThresholdMB is the default size threshold above which an image is
// re-encoded before analysis.
const CompressThresholdMB = 1

// allowedMIMETypes is the intake allow-list. BMP is deliberately absent even
// though the hosting service accepts it; see the hosting package limits.
var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// AllowedMIMEList returns the allow-list in a stable order for error messages.
func AllowedMIMEList() []string {
	return []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
}

// Validate rejects images outside the MIME allow-list or at/above the size
// ceiling. The error names the limit and the allow-list.
func Validate(mimeType string, size int64) error {
	if !allowedMIMETypes[mimeType] {
		return fmt.Errorf("%w %q, allowed types: %s",
			ErrUnsupportedType, mimeType, strings.Join(AllowedMIMEList(), ", "))
	}
	if size >= MaxFileSize {
		return fmt.Errorf("%w: image is %d bytes, the limit is %d bytes",
			ErrTooLarge, size, MaxFileSize)
	}
	return nil
}

// ShouldCompress reports whether an image of the given byte size exceeds
// thresholdMB mebibytes.
func ShouldCompress(size int64, thresholdMB int) bool {
	return size > int64(thresholdMB)*1024*1024
}

// CompressOptions bound the output of Compress.
type CompressOptions struct {
	Quality      int     // JPEG quality factor, 1-100
	MaxSizeMB    float64 // output must not exceed this many mebibytes
	MaxDimension int     // neither output dimension may exceed this
}

// DefaultCompressOptions matches the pre-analysis pipeline defaults.
func DefaultCompressOptions() CompressOptions {
	return CompressOptions{Quality: 80, MaxSizeMB: 1, MaxDimension: 2048}
}

// Compress re-encodes data as a JPEG no larger than opts.MaxSizeMB with
// neither dimension exceeding opts.MaxDimension. It first fits the image into
// the dimension bound, then steps the quality factor down, then halves the
// dimensions as a last resort.
func Compress(data []byte, opts CompressOptions) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to compress image: %w", err)
	}

	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultCompressOptions().MaxDimension
	}
	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	maxBytes := int(opts.MaxSizeMB * 1024 * 1024)
	if maxBytes <= 0 {
		maxBytes = int(DefaultCompressOptions().MaxSizeMB * 1024 * 1024)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultCompressOptions().Quality
	}

	for {
		out, err := encodeJPEG(img, quality)
		if err != nil {
			return nil, fmt.Errorf("failed to compress image: %w", err)
		}
		if len(out) <= maxBytes {
			return out, nil
		}
		if quality > 20 {
			quality -= 10
			continue
		}

		b := img.Bounds()
		if b.Dx() <= 64 || b.Dy() <= 64 {
			return nil, fmt.Errorf("failed to compress image below %d bytes", maxBytes)
		}
		img = imaging.Fit(img, b.Dx()/2, b.Dy()/2, imaging.Lanczos)
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToBase64 produces the transfer encoding of the image bytes, with no
// data-URL prefix, suitable for embedding in JSON or form payloads.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL wraps the image bytes in a data URL for APIs that take an image by
// URL reference only.
func DataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + ToBase64(data)
}

// StripDataURLPrefix returns the bare transfer encoding from s, which may be
// either a data URL or an already-bare encoding.
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if idx := strings.Index(s, ","); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// Dimensions decodes just enough of the image to read its natural pixel
// dimensions.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Metadata describes an intake image. Width and height are populated on a
// best-effort basis; zero values mean the image could not be decoded, which
// is not an error for this call.
type Metadata struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"type"`
	LastModified time.Time `json:"lastModified"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
}

// ExtractMetadata assembles Metadata for the given image bytes.
func ExtractMetadata(name, mimeType string, lastModified time.Time, data []byte) Metadata {
	meta := Metadata{
		Name:         name,
		Size:         int64(len(data)),
		MimeType:     mimeType,
		LastModified: lastModified,
	}
	if w, h, err := Dimensions(data); err == nil {
		meta.Width = w
		meta.Height = h
	}
	return meta
}
