package imageprep

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultFetchName is used when no filename can be derived from a URL path.
const DefaultFetchName = "downloaded_image"

// fetchClient bounds remote image downloads the same way the remote API
// clients bound their calls.
var fetchClient = &http.Client{Timeout: 30 * time.Second}

// FetchResult is a remotely loaded image.
type FetchResult struct {
	Data     []byte
	FileName string
	MimeType string
}

// FetchFromURL downloads the image at rawURL. It fails on a non-success HTTP
// status or when the response content type is not an image media type. The
// filename is derived from the last URL path segment.
func FetchFromURL(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image url returned status %d", resp.StatusCode)
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("url did not return an image (content type %q)", mimeType)
	}
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return &FetchResult{
		Data:     data,
		FileName: fileNameFromURL(rawURL),
		MimeType: mimeType,
	}, nil
}

// fileNameFromURL derives a filename from the last path segment of rawURL,
// falling back to DefaultFetchName.
func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultFetchName
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return DefaultFetchName
	}
	return name
}
