package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
)

// ChatMessage is a row from the legacy flat-text history table. Retained
// for reads of databases written before native message storage; new writes
// should use SaveNativeMessage.
type ChatMessage struct {
	ID              int64  `json:"id"`
	BinaryHash      string `json:"binary_hash"`
	ChatID          string `json:"chat_id"`
	MessageOrder    int64  `json:"message_order"`
	Role            string `json:"role"`
	Content         string `json:"content"`
	MetadataJSON    string `json:"metadata_json,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

// ChatSummary is an aggregate view of one conversation.
type ChatSummary struct {
	BinaryHash         string `json:"binary_hash"`
	ChatID             string `json:"chat_id"`
	MessageCount       int64  `json:"message_count"`
	FirstMessageUnixMs int64  `json:"first_message_unix_ms"`
	LastMessageUnixMs  int64  `json:"last_message_unix_ms"`
}

// ChatMetadata carries display info for a chat, independent of its message
// rows: a chat may have metadata and zero messages.
type ChatMetadata struct {
	ID              int64  `json:"id"`
	BinaryHash      string `json:"binary_hash"`
	ChatID          string `json:"chat_id"`
	Name            string `json:"name"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

// SaveChatMessage appends a message to the legacy history table, assigning
// the next dense message_order for the chat.
func (s *Store) SaveChatMessage(ctx context.Context, binaryHash string, chatID string, role string, content string, metadata map[string]any) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	role = strings.TrimSpace(role)
	if binaryHash == "" || chatID == "" {
		return 0, errors.New("invalid request")
	}
	if role == "" {
		return 0, errors.New("missing role")
	}

	metadataJSON := ""
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, opErr("save_chat_message", err)
		}
		metadataJSON = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, opErr("save_chat_message", err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := nextMessageOrder(ctx, tx, "chat_history", binaryHash, chatID)
	if err != nil {
		return 0, opErr("save_chat_message", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO chat_history(binary_hash, chat_id, message_order, role, content, metadata_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, binaryHash, chatID, order, role, content, metadataJSON, nowUnixMs())
	if err != nil {
		return 0, opErr("save_chat_message", err)
	}
	id, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return 0, opErr("save_chat_message", err)
	}
	return id, nil
}

// nextMessageOrder computes max(message_order)+1 for the chat (0 when
// empty). Must run inside the store mutex so concurrent appends cannot
// observe the same maximum.
func nextMessageOrder(ctx context.Context, tx *sql.Tx, table string, binaryHash string, chatID string) (int64, error) {
	var order int64
	err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(message_order), -1) + 1
FROM `+table+`
WHERE binary_hash = ? AND chat_id = ?
`, binaryHash, chatID).Scan(&order)
	return order, err
}

// GetChatHistory returns legacy messages in conversation order.
func (s *Store) GetChatHistory(ctx context.Context, binaryHash string, chatID string) ([]ChatMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	if binaryHash == "" || chatID == "" {
		return nil, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, message_order, role, content, metadata_json, created_at_unix_ms
FROM chat_history
WHERE binary_hash = ? AND chat_id = ?
ORDER BY message_order ASC
`, binaryHash, chatID)
	if err != nil {
		return nil, opErr("get_chat_history", err)
	}
	defer rows.Close()

	out := make([]ChatMessage, 0, 16)
	for rows.Next() {
		m := ChatMessage{BinaryHash: binaryHash, ChatID: chatID}
		if err := rows.Scan(&m.ID, &m.MessageOrder, &m.Role, &m.Content, &m.MetadataJSON, &m.CreatedAtUnixMs); err != nil {
			return nil, opErr("get_chat_history", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get_chat_history", err)
	}
	return out, nil
}

// DeleteChat removes a legacy conversation's rows.
func (s *Store) DeleteChat(ctx context.Context, binaryHash string, chatID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	if binaryHash == "" || chatID == "" {
		return false, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
DELETE FROM chat_history
WHERE binary_hash = ? AND chat_id = ?
`, binaryHash, chatID)
	if err != nil {
		return false, opErr("delete_chat", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("deleted chat history", "binary_hash", binaryHash, "chat_id", chatID, "rows", n)
	}
	return n > 0, nil
}

// GetAllChats lists conversation summaries for a binary, most recent
// activity first. The native table is preferred; binaries that only ever
// used the legacy table still list their chats.
func (s *Store) GetAllChats(ctx context.Context, binaryHash string) ([]ChatSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	if binaryHash == "" {
		return nil, errors.New("missing binary_hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.chatSummariesLocked(ctx, "chat_messages", binaryHash)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out, err = s.chatSummariesLocked(ctx, "chat_history", binaryHash)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) chatSummariesLocked(ctx context.Context, table string, binaryHash string) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chat_id,
       COUNT(*) AS message_count,
       MIN(created_at_unix_ms) AS first_message,
       MAX(created_at_unix_ms) AS last_message
FROM `+table+`
WHERE binary_hash = ?
GROUP BY chat_id
ORDER BY last_message DESC
`, binaryHash)
	if err != nil {
		return nil, opErr("get_all_chats", err)
	}
	defer rows.Close()

	out := make([]ChatSummary, 0, 8)
	for rows.Next() {
		c := ChatSummary{BinaryHash: binaryHash}
		if err := rows.Scan(&c.ChatID, &c.MessageCount, &c.FirstMessageUnixMs, &c.LastMessageUnixMs); err != nil {
			return nil, opErr("get_all_chats", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get_all_chats", err)
	}
	return out, nil
}

// SaveChatMetadata upserts a chat's display name.
func (s *Store) SaveChatMetadata(ctx context.Context, binaryHash string, chatID string, name string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	name = strings.TrimSpace(name)
	if binaryHash == "" || chatID == "" {
		return 0, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnixMs()
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO chat_metadata(binary_hash, chat_id, name, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(binary_hash, chat_id) DO UPDATE SET
  name = excluded.name,
  updated_at_unix_ms = excluded.updated_at_unix_ms
RETURNING id
`, binaryHash, chatID, name, now, now).Scan(&id)
	if err != nil {
		return 0, opErr("save_chat_metadata", err)
	}
	return id, nil
}

// GetChatMetadata returns one chat's metadata, or nil if none is stored.
func (s *Store) GetChatMetadata(ctx context.Context, binaryHash string, chatID string) (*ChatMetadata, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	if binaryHash == "" || chatID == "" {
		return nil, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := ChatMetadata{BinaryHash: binaryHash, ChatID: chatID}
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, created_at_unix_ms, updated_at_unix_ms
FROM chat_metadata
WHERE binary_hash = ? AND chat_id = ?
`, binaryHash, chatID).Scan(&m.ID, &m.Name, &m.CreatedAtUnixMs, &m.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, opErr("get_chat_metadata", err)
	}
	return &m, nil
}

// GetAllChatMetadata lists metadata rows for a binary, most recently
// updated first.
func (s *Store) GetAllChatMetadata(ctx context.Context, binaryHash string) ([]ChatMetadata, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	if binaryHash == "" {
		return nil, errors.New("missing binary_hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, chat_id, name, created_at_unix_ms, updated_at_unix_ms
FROM chat_metadata
WHERE binary_hash = ?
ORDER BY updated_at_unix_ms DESC
`, binaryHash)
	if err != nil {
		return nil, opErr("get_all_chat_metadata", err)
	}
	defer rows.Close()

	out := make([]ChatMetadata, 0, 8)
	for rows.Next() {
		m := ChatMetadata{BinaryHash: binaryHash}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Name, &m.CreatedAtUnixMs, &m.UpdatedAtUnixMs); err != nil {
			return nil, opErr("get_all_chat_metadata", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get_all_chat_metadata", err)
	}
	return out, nil
}

// DeleteChatMetadata removes a chat's metadata row.
func (s *Store) DeleteChatMetadata(ctx context.Context, binaryHash string, chatID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	if binaryHash == "" || chatID == "" {
		return false, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
DELETE FROM chat_metadata
WHERE binary_hash = ? AND chat_id = ?
`, binaryHash, chatID)
	if err != nil {
		return false, opErr("delete_chat_metadata", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
