package store

import (
	"context"
	"time"
)

// Stats is a point-in-time summary of the database contents.
type Stats struct {
	TotalAnalyses     int64 `json:"total_analyses"`
	CachedContexts    int64 `json:"cached_contexts"`
	TotalChatMessages int64 `json:"total_chat_messages"`
	UniqueBinaries    int64 `json:"unique_binaries"`
	SystemPrompts     int64 `json:"system_prompts"`
}

// Stats counts rows across the main tables. Chat messages include both the
// legacy and native tables; unique binaries are counted across analyses,
// context cache and both chat tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM analyses),
  (SELECT COUNT(*) FROM context_cache),
  (SELECT COUNT(*) FROM chat_history) + (SELECT COUNT(*) FROM chat_messages),
  (SELECT COUNT(*) FROM (
     SELECT binary_hash FROM analyses
     UNION SELECT binary_hash FROM context_cache
     UNION SELECT binary_hash FROM chat_history
     UNION SELECT binary_hash FROM chat_messages
  )),
  (SELECT COUNT(*) FROM system_prompts)
`).Scan(&st.TotalAnalyses, &st.CachedContexts, &st.TotalChatMessages, &st.UniqueBinaries, &st.SystemPrompts)
	if err != nil {
		return nil, opErr("stats", err)
	}
	return &st, nil
}

// CleanupResult reports what one maintenance pass removed.
type CleanupResult struct {
	ExpiredContexts int64 `json:"expired_contexts"`
	OldChatMessages int64 `json:"old_chat_messages"`
}

// Cleanup removes expired context cache entries and legacy chat rows older
// than maxChatAge (<= 0 skips the chat sweep). The two steps are
// independent: a failure in one is logged and does not abort the other.
func (s *Store) Cleanup(ctx context.Context, maxChatAge time.Duration) (*CleanupResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out CleanupResult
	var firstErr error

	n, err := s.cleanupExpiredContextLocked(ctx)
	if err != nil {
		s.log.Warn("context cache sweep failed", "error", err)
		firstErr = err
	}
	out.ExpiredContexts = n

	if maxChatAge > 0 {
		cutoff := nowUnixMs() - maxChatAge.Milliseconds()
		res, err := s.db.ExecContext(ctx, `
DELETE FROM chat_history
WHERE created_at_unix_ms < ?
`, cutoff)
		if err != nil {
			s.log.Warn("legacy chat sweep failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			out.OldChatMessages, _ = res.RowsAffected()
			if out.OldChatMessages > 0 {
				s.log.Info("removed old chat messages", "count", out.OldChatMessages)
			}
		}
	}

	if firstErr != nil {
		return &out, opErr("cleanup", firstErr)
	}
	return &out, nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return opErr("vacuum", err)
	}
	return nil
}
