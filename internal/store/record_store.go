package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lenslab/promptlens/internal/domain"
)

// RecordStore persists the analysis history. Insertion order is tracked by
// the records table's seq column: a save is a prepend, so listing in seq
// descending order yields newest-first.
type RecordStore struct {
	db       *sql.DB
	settings *SettingsStore
}

func NewRecordStore(db *sql.DB, settings *SettingsStore) *RecordStore {
	return &RecordStore{db: db, settings: settings}
}

// Save prepends rec to the collection and trims the oldest entries so the
// collection fits the configured maximum.
func (s *RecordStore) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, image_name, image_url, prompt, created_at) VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.ImageName, rec.ImageURL, rec.Prompt, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	max := s.settings.GetPreferences(ctx).MaxHistoryItems
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM records WHERE seq NOT IN (SELECT seq FROM records ORDER BY seq DESC LIMIT ?)
	`, max)
	if err != nil {
		return fmt.Errorf("failed to trim records: %w", err)
	}

	return nil
}

// List returns the full collection, newest first.
func (s *RecordStore) List(ctx context.Context) ([]*domain.AnalysisRecord, error) {
	return s.query(ctx, `
		SELECT id, image_name, image_url, prompt, created_at FROM records ORDER BY seq DESC
	`)
}

// Delete removes the record with the given id. A missing id is a no-op, not
// an error.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Clear empties the collection.
func (s *RecordStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

// Search returns records whose prompt or image name contains query,
// case-insensitively, preserving collection order. An empty or whitespace
// query returns the full collection.
func (s *RecordStore) Search(ctx context.Context, query string) ([]*domain.AnalysisRecord, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx)
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx, `
		SELECT id, image_name, image_url, prompt, created_at FROM records
		WHERE LOWER(prompt) LIKE ? ESCAPE '\' OR LOWER(image_name) LIKE ? ESCAPE '\'
		ORDER BY seq DESC
	`, pattern, pattern)
}

// escapeLike neutralizes LIKE metacharacters so the query matches them as
// literal text.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// FilterByDateRange returns records created within [start, end], inclusive,
// preserving collection order. Timestamps are compared in Go because the
// column holds RFC 3339 text whose offsets need not match.
func (s *RecordStore) FilterByDateRange(ctx context.Context, start, end time.Time) ([]*domain.AnalysisRecord, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*domain.AnalysisRecord, 0, len(all))
	for _, rec := range all {
		if rec.CreatedAt.Before(start) || rec.CreatedAt.After(end) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

// Export serializes the full collection to indented JSON, newest first.
func (s *RecordStore) Export(ctx context.Context) (string, error) {
	ptrs, err := s.List(ctx)
	if err != nil {
		return "", err
	}

	// Marshal a value slice so an empty collection exports as [] rather than null.
	records := make([]domain.AnalysisRecord, 0, len(ptrs))
	for _, rec := range ptrs {
		records = append(records, *rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize records: %w", err)
	}
	return string(data), nil
}

// Import parses text as a JSON array of records, places the imported entries
// before the existing ones, de-duplicates by id keeping the first occurrence
// (imported entries win), and replaces the stored collection with the merged
// result. Returns false with no mutation when the top-level shape is not an
// array. The max-length trim does not apply on this path.
func (s *RecordStore) Import(ctx context.Context, text string) (bool, error) {
	var imported []domain.AnalysisRecord
	if err := json.Unmarshal([]byte(text), &imported); err != nil {
		slog.Warn("import payload is not a record array", "error", err)
		return false, nil
	}
	// JSON null unmarshals into a nil slice without error; only a real array
	// may replace the collection.
	if imported == nil {
		slog.Warn("import payload is not a record array")
		return false, nil
	}

	existing, err := s.List(ctx)
	if err != nil {
		return false, err
	}

	merged := make([]domain.AnalysisRecord, 0, len(imported)+len(existing))
	seen := make(map[string]bool, len(imported)+len(existing))
	for i := range imported {
		if seen[imported[i].ID] {
			continue
		}
		seen[imported[i].ID] = true
		merged = append(merged, imported[i])
	}
	for _, rec := range existing {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		merged = append(merged, *rec)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return false, fmt.Errorf("failed to replace records: %w", err)
	}

	// Insert back-to-front so merged[0] receives the highest seq and lists first.
	for i := len(merged) - 1; i >= 0; i-- {
		rec := merged[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, image_name, image_url, prompt, created_at) VALUES (?, ?, ?, ?, ?)
		`, rec.ID, rec.ImageName, rec.ImageURL, rec.Prompt, formatTime(rec.CreatedAt))
		if err != nil {
			return false, fmt.Errorf("failed to insert imported record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit import: %w", err)
	}
	return true, nil
}

// Stats summarizes the current collection. Total size is the byte length of
// the serialized export form.
func (s *RecordStore) Stats(ctx context.Context) (*domain.StorageStats, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	exported, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.StorageStats{
		Count:     len(records),
		TotalSize: int64(len(exported)),
		HumanSize: humanize.Bytes(uint64(len(exported))),
	}
	for _, rec := range records {
		if stats.Oldest.IsZero() || rec.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.Newest) {
			stats.Newest = rec.CreatedAt
		}
	}
	return stats, nil
}

func (s *RecordStore) query(ctx context.Context, q string, args ...any) ([]*domain.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		rec := &domain.AnalysisRecord{}
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.ImageName, &rec.ImageURL, &rec.Prompt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reconstitutes a serialized timestamp. An unreadable value is
// logged and becomes the zero time rather than failing the whole read.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.Warn("record has unreadable timestamp", "value", s, "error", err)
		return time.Time{}
	}
	return t
}
