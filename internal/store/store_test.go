package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analysis.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveFunctionAnalysisUpsert(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveFunctionAnalysis(ctx, "hash_a", 0x1000, "explain", "first answer", map[string]any{"model": "m1"})
	if err != nil {
		t.Fatalf("SaveFunctionAnalysis: %v", err)
	}

	a, err := s.GetFunctionAnalysis(ctx, "hash_a", 0x1000, "explain")
	if err != nil {
		t.Fatalf("GetFunctionAnalysis: %v", err)
	}
	if a == nil || a.Response != "first answer" {
		t.Fatalf("got %+v, want first answer", a)
	}
	createdAt := a.CreatedAtUnixMs

	time.Sleep(5 * time.Millisecond)
	id2, err := s.SaveFunctionAnalysis(ctx, "hash_a", 0x1000, "explain", "second answer", nil)
	if err != nil {
		t.Fatalf("SaveFunctionAnalysis upsert: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("upsert changed row id: %d != %d", id1, id2)
	}

	a, err = s.GetFunctionAnalysis(ctx, "hash_a", 0x1000, "explain")
	if err != nil {
		t.Fatalf("GetFunctionAnalysis after upsert: %v", err)
	}
	if a.Response != "second answer" {
		t.Fatalf("Response=%q, want second answer", a.Response)
	}
	if a.MetadataJSON != "" {
		t.Fatalf("MetadataJSON=%q, want replaced empty", a.MetadataJSON)
	}
	if a.CreatedAtUnixMs != createdAt {
		t.Fatalf("created_at changed on upsert: %d != %d", a.CreatedAtUnixMs, createdAt)
	}
	if a.UpdatedAtUnixMs < createdAt {
		t.Fatalf("updated_at=%d not bumped past %d", a.UpdatedAtUnixMs, createdAt)
	}
}

func TestStore_GetFunctionAnalysisAbsent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	a, err := s.GetFunctionAnalysis(context.Background(), "hash_a", 0x2000, "explain")
	if err != nil {
		t.Fatalf("GetFunctionAnalysis: %v", err)
	}
	if a != nil {
		t.Fatalf("got %+v, want nil for absent row", a)
	}

	ok, err := s.DeleteFunctionAnalysis(context.Background(), "hash_a", 0x2000, "explain")
	if err != nil {
		t.Fatalf("DeleteFunctionAnalysis: %v", err)
	}
	if ok {
		t.Fatalf("delete of absent row reported true")
	}
}

func TestStore_FunctionAnalysesIsolatedByQueryType(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, qt := range []string{"explain", "vulnerabilities", "rename"} {
		if _, err := s.SaveFunctionAnalysis(ctx, "hash_a", 0x1000, qt, "resp "+qt, nil); err != nil {
			t.Fatalf("SaveFunctionAnalysis %s: %v", qt, err)
		}
	}

	all, err := s.GetFunctionAnalyses(ctx, "hash_a", 0x1000)
	if err != nil {
		t.Fatalf("GetFunctionAnalyses: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d, want 3", len(all))
	}

	ok, err := s.DeleteFunctionAnalysis(ctx, "hash_a", 0x1000, "rename")
	if err != nil || !ok {
		t.Fatalf("DeleteFunctionAnalysis: ok=%v err=%v", ok, err)
	}
	all, err = s.GetFunctionAnalyses(ctx, "hash_a", 0x1000)
	if err != nil {
		t.Fatalf("GetFunctionAnalyses after delete: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len=%d, want 2 after delete", len(all))
	}
}

func TestStore_ContextCacheExpiry(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveContextCache(ctx, "hash_a", 0x1000, `{"live":true}`, time.Hour); err != nil {
		t.Fatalf("SaveContextCache live: %v", err)
	}
	if _, err := s.SaveContextCache(ctx, "hash_a", 0x2000, `{"expired":true}`, time.Millisecond); err != nil {
		t.Fatalf("SaveContextCache expired: %v", err)
	}
	if _, err := s.SaveContextCache(ctx, "hash_a", 0x3000, `{"forever":true}`, 0); err != nil {
		t.Fatalf("SaveContextCache forever: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, ok, err := s.GetContextCache(ctx, "hash_a", 0x1000); err != nil || !ok {
		t.Fatalf("live entry: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.GetContextCache(ctx, "hash_a", 0x2000); err != nil || ok {
		t.Fatalf("expired entry readable: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.GetContextCache(ctx, "hash_a", 0x3000); err != nil || !ok {
		t.Fatalf("ttl<=0 entry: ok=%v err=%v", ok, err)
	}

	n, err := s.CleanupExpiredContext(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredContext: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d rows, want exactly 1", n)
	}

	// Idempotent.
	n, err = s.CleanupExpiredContext(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredContext again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep removed %d rows, want 0", n)
	}
}

func TestStore_ContextCacheUpsertResetsExpiry(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveContextCache(ctx, "hash_a", 0x1000, `{"v":1}`, time.Millisecond); err != nil {
		t.Fatalf("SaveContextCache: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := s.SaveContextCache(ctx, "hash_a", 0x1000, `{"v":2}`, time.Hour); err != nil {
		t.Fatalf("SaveContextCache refresh: %v", err)
	}

	got, ok, err := s.GetContextCache(ctx, "hash_a", 0x1000)
	if err != nil || !ok {
		t.Fatalf("GetContextCache: ok=%v err=%v", ok, err)
	}
	if got != `{"v":2}` {
		t.Fatalf("context=%q, want refreshed value", got)
	}
}

func TestStore_LegacyChatOrderDense(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := s.SaveChatMessage(ctx, "hash_a", "chat_1", role, fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatalf("SaveChatMessage %d: %v", i, err)
		}
	}

	msgs, err := s.GetChatHistory(ctx, "hash_a", "chat_1")
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("len=%d, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.MessageOrder != int64(i) {
			t.Fatalf("order[%d]=%d, want dense from 0", i, m.MessageOrder)
		}
	}
}

func TestStore_ConcurrentAppendsKeepOrderDense(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.SaveChatMessage(ctx, "hash_a", "chat_1", "user", fmt.Sprintf("w%d-%d", w, i), nil); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("SaveChatMessage: %v", err)
	}

	msgs, err := s.GetChatHistory(ctx, "hash_a", "chat_1")
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(msgs) != writers*perWriter {
		t.Fatalf("len=%d, want %d", len(msgs), writers*perWriter)
	}
	for i, m := range msgs {
		if m.MessageOrder != int64(i) {
			t.Fatalf("order[%d]=%d, want dense sequence with no gaps", i, m.MessageOrder)
		}
	}
}

func TestStore_ChatMetadataLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveChatMetadata(ctx, "hash_a", "chat_1", "strcpy overflow hunt"); err != nil {
		t.Fatalf("SaveChatMetadata: %v", err)
	}
	if _, err := s.SaveChatMetadata(ctx, "hash_a", "chat_1", "renamed"); err != nil {
		t.Fatalf("SaveChatMetadata rename: %v", err)
	}

	m, err := s.GetChatMetadata(ctx, "hash_a", "chat_1")
	if err != nil {
		t.Fatalf("GetChatMetadata: %v", err)
	}
	if m == nil || m.Name != "renamed" {
		t.Fatalf("got %+v, want renamed", m)
	}

	all, err := s.GetAllChatMetadata(ctx, "hash_a")
	if err != nil {
		t.Fatalf("GetAllChatMetadata: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len=%d, want upsert to keep one row", len(all))
	}

	ok, err := s.DeleteChatMetadata(ctx, "hash_a", "chat_1")
	if err != nil || !ok {
		t.Fatalf("DeleteChatMetadata: ok=%v err=%v", ok, err)
	}
	m, err = s.GetChatMetadata(ctx, "hash_a", "chat_1")
	if err != nil {
		t.Fatalf("GetChatMetadata after delete: %v", err)
	}
	if m != nil {
		t.Fatalf("metadata still present after delete: %+v", m)
	}
}

func TestStore_SystemPromptActivation(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveSystemPrompt(ctx, "prompt one", "v1"); err != nil {
		t.Fatalf("SaveSystemPrompt v1: %v", err)
	}
	if _, err := s.SaveSystemPrompt(ctx, "prompt two", "v2"); err != nil {
		t.Fatalf("SaveSystemPrompt v2: %v", err)
	}

	p, err := s.GetActiveSystemPrompt(ctx)
	if err != nil {
		t.Fatalf("GetActiveSystemPrompt: %v", err)
	}
	if p == nil || p.Version != "v2" {
		t.Fatalf("active=%+v, want v2", p)
	}

	ok, err := s.SetActiveSystemPrompt(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("SetActiveSystemPrompt v1: ok=%v err=%v", ok, err)
	}
	p, err = s.GetActiveSystemPrompt(ctx)
	if err != nil {
		t.Fatalf("GetActiveSystemPrompt after switch: %v", err)
	}
	if p == nil || p.Version != "v1" || p.Prompt != "prompt one" {
		t.Fatalf("active=%+v, want v1", p)
	}

	// Unknown version leaves the active prompt untouched.
	ok, err = s.SetActiveSystemPrompt(ctx, "v99")
	if err != nil {
		t.Fatalf("SetActiveSystemPrompt v99: %v", err)
	}
	if ok {
		t.Fatalf("activation of unknown version reported true")
	}
	p, err = s.GetActiveSystemPrompt(ctx)
	if err != nil {
		t.Fatalf("GetActiveSystemPrompt after no-op: %v", err)
	}
	if p == nil || p.Version != "v1" {
		t.Fatalf("active=%+v, want v1 preserved", p)
	}
}

func TestStore_GetActiveSystemPromptNone(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	p, err := s.GetActiveSystemPrompt(context.Background())
	if err != nil {
		t.Fatalf("GetActiveSystemPrompt: %v", err)
	}
	if p != nil {
		t.Fatalf("got %+v, want nil with empty table", p)
	}
}

func TestStore_MigrateFromV1AddsThreadColumns(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "analysis.db")
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = raw.Exec(`
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
  created_at_unix_ms INTEGER NOT NULL,
  UNIQUE(binary_hash, chat_id, message_order)
);
PRAGMA user_version=1;
`)
	if err != nil {
		t.Fatalf("seed v1 schema: %v", err)
	}
	_ = raw.Close()

	s, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Open over v1 db: %v", err)
	}
	defer func() { _ = s.Close() }()

	// Writes touch the migrated columns.
	id, err := s.SaveNativeMessage(context.Background(), "hash_a", "chat_1", "openai",
		[]byte(`{"role":"user","content":"hi"}`), 0, "thread_1")
	if err != nil {
		t.Fatalf("SaveNativeMessage on migrated db: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id=%d, want > 0", id)
	}

	msgs, err := s.GetNativeMessages(context.Background(), "hash_a", "chat_1", "")
	if err != nil {
		t.Fatalf("GetNativeMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ConversationThreadID != "thread_1" {
		t.Fatalf("got %+v, want thread id persisted", msgs)
	}
}
