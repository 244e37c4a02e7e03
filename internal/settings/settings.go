// Package settings is the plugin configuration database: typed key/value
// settings plus the LLM and MCP provider registries. It lives in its own
// SQLite file next to the analysis database.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAlreadyExists reports an insert that collides with an existing
// provider name. The existing row is unchanged.
var ErrAlreadyExists = errors.New("provider already exists")

const defaultSystemPrompt = "You are an AI assistant specialized in binary analysis and reverse engineering. " +
	"Help users understand code, identify patterns, and provide actionable insights for their reverse engineering tasks."

// Store is the settings database handle. Same locking discipline as the
// analysis store: one mutex, whole-method critical sections, *Locked
// helpers for composition.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// Open creates or opens the settings database at path and seeds default
// settings that are not present yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: logger}
	if err := s.populateDefaults(filepath.Dir(p)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New("settings store not initialized")
	}
	return nil
}

func nowUnixMs() int64 {
	return time.Now().UnixMilli()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'string',
  category TEXT NOT NULL DEFAULT 'general',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settings_category ON settings(category);

CREATE TABLE IF NOT EXISTS llm_providers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL,
  model TEXT NOT NULL,
  url TEXT NOT NULL,
  max_tokens INTEGER NOT NULL DEFAULT 4096,
  api_key TEXT NOT NULL DEFAULT '',
  disable_tls INTEGER NOT NULL DEFAULT 0,
  provider_type TEXT NOT NULL DEFAULT 'openai',
  is_active INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_active ON llm_providers(is_active);

CREATE TABLE IF NOT EXISTS mcp_providers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL,
  url TEXT NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  transport TEXT NOT NULL DEFAULT 'HTTP',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mcp_enabled ON mcp_providers(enabled);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// populateDefaults inserts seed settings, skipping keys that already have
// a value.
func (s *Store) populateDefaults(dataDir string) error {
	defaults := []struct {
		key      string
		value    string
		typ      string
		category string
	}{
		{"system_prompt", defaultSystemPrompt, "string", "system"},
		{"analysis_db_path", filepath.Join(dataDir, "analysis.db"), "string", "database"},
		{"active_llm_provider", "", "string", "ui"},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnixMs()
	for _, d := range defaults {
		_, err := s.db.Exec(`
INSERT INTO settings(key, value, type, category, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO NOTHING
`, d.key, d.value, d.typ, d.category, now, now)
		if err != nil {
			return fmt.Errorf("populate defaults: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
