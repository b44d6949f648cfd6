// Package previewstore keeps the ephemeral preview file backing the current
// image intake. Previews are scoped resources: every intake replace or clear
// must release the previous preview, or the scratch directory grows without
// bound across a long session.
package previewstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Save writes data as a new preview file and returns its key.
func (s *Store) Save(intakeID, mimeType string, data []byte) (string, error) {
	key := fmt.Sprintf("%s_%d%s", intakeID, time.Now().UnixNano(), mimeTypeToExt(mimeType))
	path := filepath.Join(s.basePath, key)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write preview file: %w", err)
	}
	return key, nil
}

// Open returns the preview contents and its MIME type.
func (s *Store) Open(key string) (io.ReadCloser, string, error) {
	path, err := s.safeJoin(key)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("preview not found")
		}
		return nil, "", fmt.Errorf("failed to open preview: %w", err)
	}
	return f, extToMimeType(path), nil
}

// Release removes the preview file for key. A missing file or an empty key is
// not an error; other failures are logged and swallowed because release runs
// on cleanup paths that must not mask the original outcome.
func (s *Store) Release(key string) {
	if key == "" {
		return
	}
	path, err := s.safeJoin(key)
	if err != nil {
		slog.Warn("refusing to release preview", "key", key, "error", err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to release preview file", "key", key, "error", err)
	}
}

// safeJoin resolves key relative to basePath and rejects directory traversal.
func (s *Store) safeJoin(key string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, key))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

func mimeTypeToExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func extToMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
