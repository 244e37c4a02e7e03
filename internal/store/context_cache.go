package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// SaveContextCache upserts a serialized context blob for a function with a
// time-to-live. ttl <= 0 stores the entry without an expiry.
func (s *Store) SaveContextCache(ctx context.Context, binaryHash string, functionAddr uint64, contextJSON string, ttl time.Duration) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	if binaryHash == "" {
		return 0, errors.New("missing binary_hash")
	}
	contextJSON = strings.TrimSpace(contextJSON)
	if contextJSON == "" {
		return 0, errors.New("missing context data")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnixMs()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now + ttl.Milliseconds()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO context_cache(binary_hash, function_addr, context_json, expires_at_unix_ms, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(binary_hash, function_addr) DO UPDATE SET
  context_json = excluded.context_json,
  expires_at_unix_ms = excluded.expires_at_unix_ms,
  created_at_unix_ms = excluded.created_at_unix_ms
RETURNING id
`, binaryHash, int64(functionAddr), contextJSON, expiresAt, now).Scan(&id)
	if err != nil {
		return 0, opErr("save_context_cache", err)
	}
	return id, nil
}

// GetContextCache returns the cached blob, or empty/false when there is no
// live entry. A row past its expiry reads as absent even before the sweeper
// physically removes it.
func (s *Store) GetContextCache(ctx context.Context, binaryHash string, functionAddr uint64) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	if binaryHash == "" {
		return "", false, errors.New("missing binary_hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var contextJSON string
	err := s.db.QueryRowContext(ctx, `
SELECT context_json
FROM context_cache
WHERE binary_hash = ? AND function_addr = ?
  AND (expires_at_unix_ms = 0 OR expires_at_unix_ms > ?)
`, binaryHash, int64(functionAddr), nowUnixMs()).Scan(&contextJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, opErr("get_context_cache", err)
	}
	return contextJSON, true, nil
}

// CleanupExpiredContext deletes exactly the rows GetContextCache would
// refuse and returns the count removed. Idempotent.
func (s *Store) CleanupExpiredContext(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupExpiredContextLocked(ctx)
}

func (s *Store) cleanupExpiredContextLocked(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM context_cache
WHERE expires_at_unix_ms > 0 AND expires_at_unix_ms <= ?
`, nowUnixMs())
	if err != nil {
		return 0, opErr("cleanup_expired_context", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("removed expired context cache entries", "count", n)
	}
	return n, nil
}
