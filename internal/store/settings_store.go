package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/lenslab/promptlens/internal/domain"
)

// Logical settings keys. These match the storage layout of the original
// browser build so an exported config stays recognizable.
const (
	keyAPIConfig    = "api_config"
	keyUserSettings = "user_settings"
)

// SettingsStore persists credentials and preferences as JSON rows in the
// settings table. Reads substitute documented defaults when a row is missing
// or unreadable; writes are best-effort and never propagate storage errors.
type SettingsStore struct {
	db *sql.DB

	// lastValidMax is the most recent positive MaxHistoryItems seen. A saved
	// preference with a non-positive max is accepted but enforcement keeps
	// using this value.
	lastValidMax int
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db, lastValidMax: domain.DefaultMaxHistoryItems}
}

func (s *SettingsStore) GetCredentials(ctx context.Context) domain.Credentials {
	var creds domain.Credentials
	if !s.read(ctx, keyAPIConfig, &creds) {
		return domain.Credentials{}
	}
	return creds
}

func (s *SettingsStore) SaveCredentials(ctx context.Context, creds domain.Credentials) {
	s.write(ctx, keyAPIConfig, creds)
}

func (s *SettingsStore) GetPreferences(ctx context.Context) domain.Preferences {
	prefs := domain.DefaultPreferences()
	if !s.read(ctx, keyUserSettings, &prefs) {
		return domain.DefaultPreferences()
	}
	if prefs.MaxHistoryItems > 0 {
		s.lastValidMax = prefs.MaxHistoryItems
	} else {
		slog.Warn("stored max history items is not positive, using last valid value",
			"stored", prefs.MaxHistoryItems, "using", s.lastValidMax)
		prefs.MaxHistoryItems = s.lastValidMax
	}
	if prefs.Language != domain.LanguageZH && prefs.Language != domain.LanguageEN {
		prefs.Language = domain.DefaultPreferences().Language
	}
	if prefs.OutputFormat != domain.OutputDetailed && prefs.OutputFormat != domain.OutputConcise {
		prefs.OutputFormat = domain.DefaultPreferences().OutputFormat
	}
	return prefs
}

func (s *SettingsStore) SavePreferences(ctx context.Context, prefs domain.Preferences) {
	if prefs.MaxHistoryItems > 0 {
		s.lastValidMax = prefs.MaxHistoryItems
	}
	s.write(ctx, keyUserSettings, prefs)
}

// read unmarshals the settings row under key into out. It returns false on a
// missing row, a query error, or corrupt JSON; the caller substitutes
// defaults. Corruption is logged, never propagated.
func (s *SettingsStore) read(ctx context.Context, key string, out any) bool {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		slog.Warn("failed to read settings row", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		slog.Warn("settings row is corrupt, substituting defaults", "key", key, "error", err)
		return false
	}
	return true
}

// write upserts the settings row under key. Failures (serialization or the
// underlying medium rejecting the write) are logged and swallowed; the
// caller's in-memory copy stays the attempted new value.
func (s *SettingsStore) write(ctx context.Context, key string, val any) {
	payload, err := json.Marshal(val)
	if err != nil {
		slog.Warn("failed to serialize settings value", "key", key, "error", err)
		return
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(payload))
	if err != nil {
		slog.Warn("failed to persist settings value", "key", key, "error", err)
	}
}
