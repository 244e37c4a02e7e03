package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ErickCHIN000/BinAssist/internal/llm"
)

// NativeMessage is one stored turn in its provider-native wire format.
// NativeJSON is byte-identical to what the caller saved; Role, ContentText
// and MessageType are the display projection derived at write time.
type NativeMessage struct {
	ID                   int64           `json:"id"`
	BinaryHash           string          `json:"binary_hash"`
	ChatID               string          `json:"chat_id"`
	MessageOrder         int64           `json:"message_order"`
	Provider             llm.ProviderType `json:"provider_type"`
	NativeJSON           json.RawMessage `json:"native_json"`
	Role                 string          `json:"role"`
	ContentText          string          `json:"content_text"`
	MessageType          llm.MessageKind `json:"message_type"`
	ParentMessageID      int64           `json:"parent_message_id,omitempty"`
	ConversationThreadID string          `json:"conversation_thread_id,omitempty"`
	CreatedAtUnixMs      int64           `json:"created_at_unix_ms"`
}

// SaveNativeMessage appends a provider-native message to a chat. The
// payload is stored verbatim; role, display text and message kind are
// derived from it once, here. The provider tag is validated before any
// write. parentID 0 and threadID "" mean unthreaded.
func (s *Store) SaveNativeMessage(ctx context.Context, binaryHash string, chatID string, providerTag string, payload []byte, parentID int64, threadID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	chatID = strings.TrimSpace(chatID)
	if binaryHash == "" || chatID == "" {
		return 0, errors.New("invalid request")
	}
	if len(payload) == 0 {
		return 0, errors.New("missing message payload")
	}

	provider, err := llm.ParseProviderType(providerTag)
	if err != nil {
		return 0, err
	}
	info := llm.ExtractDisplayInfo(payload, provider)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, opErr("save_native_message", err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := nextMessageOrder(ctx, tx, "chat_messages", binaryHash, chatID)
	if err != nil {
		return 0, opErr("save_native_message", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages(binary_hash, chat_id, message_order, provider_type, native_json, role, content_text, message_type, parent_message_id, conversation_thread_id, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, binaryHash, chatID, order, string(provider), string(payload), info.Role, info.ContentText, string(info.Kind), parentID, strings.TrimSpace(threadID), nowUnixMs())
	if err != nil {
		return 0, opErr("save_native_message", err)
	}
	id, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return 0, opErr("save_native_message", err)
	}
	return id, nil
}

// GetNativeMessages returns a chat's messages in conversation order.
// providerTag narrows the result to one wire format; empty returns all.
func (s *Store) GetNativeMessages(ctx context.Context, binaryHash string, chatID string, providerTag string) ([]NativeMessage, error) {
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

	query := `
SELECT id, message_order, provider_type, native_json, role, content_text, message_type, parent_message_id, conversation_thread_id, created_at_unix_ms
FROM chat_messages
WHERE binary_hash = ? AND chat_id = ?`
	args := []any{binaryHash, chatID}

	if tag := strings.TrimSpace(providerTag); tag != "" {
		provider, err := llm.ParseProviderType(tag)
		if err != nil {
			return nil, err
		}
		query += ` AND provider_type = ?`
		args = append(args, string(provider))
	}
	query += `
ORDER BY message_order ASC`

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("get_native_messages", err)
	}
	defer rows.Close()

	out := make([]NativeMessage, 0, 16)
	for rows.Next() {
		m := NativeMessage{BinaryHash: binaryHash, ChatID: chatID}
		var provider, kind, nativeJSON string
		if err := rows.Scan(&m.ID, &m.MessageOrder, &provider, &nativeJSON, &m.Role, &m.ContentText, &kind, &m.ParentMessageID, &m.ConversationThreadID, &m.CreatedAtUnixMs); err != nil {
			return nil, opErr("get_native_messages", err)
		}
		m.Provider = llm.ProviderType(provider)
		m.MessageType = llm.MessageKind(kind)
		m.NativeJSON = json.RawMessage(nativeJSON)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get_native_messages", err)
	}
	return out, nil
}

// GetNativeMessagesForProvider returns just the raw payloads for one
// provider, in conversation order, ready to replay through that SDK.
func (s *Store) GetNativeMessagesForProvider(ctx context.Context, binaryHash string, chatID string, providerTag string) ([]json.RawMessage, error) {
	if strings.TrimSpace(providerTag) == "" {
		return nil, errors.New("missing provider_type")
	}
	msgs, err := s.GetNativeMessages(ctx, binaryHash, chatID, providerTag)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.NativeJSON)
	}
	return out, nil
}

// DeleteNativeChat removes a native conversation's rows.
func (s *Store) DeleteNativeChat(ctx context.Context, binaryHash string, chatID string) (bool, error) {
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
DELETE FROM chat_messages
WHERE binary_hash = ? AND chat_id = ?
`, binaryHash, chatID)
	if err != nil {
		return false, opErr("delete_native_chat", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("deleted native chat", "binary_hash", binaryHash, "chat_id", chatID, "rows", n)
	}
	return n > 0, nil
}
