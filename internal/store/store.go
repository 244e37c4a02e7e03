package store

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer for per-binary analysis
// results, cached function context, and chat histories.
//
// Notes:
//   - All rows are partitioned by binary_hash, an opaque fingerprint the
//     caller derives; the store only requires it to be non-empty.
//   - A single mutex serializes every operation. Order numbers are assigned
//     with a read-then-insert that must not interleave, and multi-statement
//     writes (prompt activation, chat deletion) must not be observed
//     half-done. Composition happens through unexported *Locked helpers.
//   - WAL is enabled so external readers (e.g. sqlite3 CLI) don't block the
//     plugin while it writes.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// Open creates or opens the analysis database at path, creating the parent
// directory as needed. Schema creation is fatal; incremental migrations are
// best-effort — on failure the store logs a warning and serves the
// pre-migration schema.
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
	if err := migrateSchema(db); err != nil {
		logger.Warn("analysis db migration failed; continuing with current schema", "error", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, log: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return nil
}

// NewChatID mints a caller-visible chat identifier.
func NewChatID() string {
	return "chat_" + uuid.NewString()
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
CREATE TABLE IF NOT EXISTS analyses (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  binary_hash TEXT NOT NULL,
  function_addr INTEGER NOT NULL,
  query_type TEXT NOT NULL,
  response TEXT NOT NULL,
  metadata_json TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  UNIQUE(binary_hash, function_addr, query_type)
);
CREATE INDEX IF NOT EXISTS idx_analyses_hash ON analyses(binary_hash);

CREATE TABLE IF NOT EXISTS context_cache (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  binary_hash TEXT NOT NULL,
  function_addr INTEGER NOT NULL,
  context_json TEXT NOT NULL,
  expires_at_unix_ms INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  UNIQUE(binary_hash, function_addr)
);
CREATE INDEX IF NOT EXISTS idx_context_expires ON context_cache(expires_at_unix_ms);

CREATE TABLE IF NOT EXISTS chat_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  binary_hash TEXT NOT NULL,
  chat_id TEXT NOT NULL,
  message_order INTEGER NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata_json TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  UNIQUE(binary_hash, chat_id, message_order)
);
CREATE INDEX IF NOT EXISTS idx_chat_history_hash ON chat_history(binary_hash);

CREATE TABLE IF NOT EXISTS chat_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  binary_hash TEXT NOT NULL,
  chat_id TEXT NOT NULL,
  message_order INTEGER NOT NULL,
  provider_type TEXT NOT NULL,
  native_json TEXT NOT NULL,
  role TEXT NOT NULL,
  content_text TEXT NOT NULL DEFAULT '',
  message_type TEXT NOT NULL DEFAULT 'text',
  parent_message_id INTEGER NOT NULL DEFAULT 0,
  conversation_thread_id TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  UNIQUE(binary_hash, chat_id, message_order)
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_lookup ON chat_messages(binary_hash, chat_id, message_order ASC);

CREATE TABLE IF NOT EXISTS chat_metadata (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  binary_hash TEXT NOT NULL,
  chat_id TEXT NOT NULL,
  name TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  UNIQUE(binary_hash, chat_id)
);

CREATE TABLE IF NOT EXISTS system_prompts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  prompt TEXT NOT NULL,
  version TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_prompts_active ON system_prompts(is_active);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// migrateSchema upgrades databases created before threading metadata was
// added to chat_messages. Tracked via PRAGMA user_version.
func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	const targetVersion = 2

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, col := range []struct {
		name string
		ddl  string
	}{
		{"parent_message_id", `ALTER TABLE chat_messages ADD COLUMN parent_message_id INTEGER NOT NULL DEFAULT 0`},
		{"conversation_thread_id", `ALTER TABLE chat_messages ADD COLUMN conversation_thread_id TEXT NOT NULL DEFAULT ''`},
	} {
		has, err := columnExists(tx, "chat_messages", col.name)
		if err != nil {
			return err
		}
		if !has {
			if _, err := tx.Exec(col.ddl); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func columnExists(tx *sql.Tx, tableName string, colName string) (bool, error) {
	tableName = strings.TrimSpace(tableName)
	colName = strings.TrimSpace(colName)
	if tableName == "" || colName == "" {
		return false, errors.New("invalid table/column")
	}

	rows, err := tx.Query(`PRAGMA table_info(` + tableName + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notNull int
		var defaultValue sql.NullString
		var primaryKey int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &primaryKey); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), colName) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
