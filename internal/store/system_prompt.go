package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// SystemPrompt is one versioned system prompt. At most one row is active
// at a time.
type SystemPrompt struct {
	ID              int64  `json:"id"`
	Prompt          string `json:"prompt"`
	Version         string `json:"version"`
	Active          bool   `json:"active"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

// SaveSystemPrompt stores a new prompt version and makes it the single
// active one.
func (s *Store) SaveSystemPrompt(ctx context.Context, prompt string, version string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	version = strings.TrimSpace(version)
	if strings.TrimSpace(prompt) == "" {
		return 0, errors.New("missing prompt")
	}
	if version == "" {
		return 0, errors.New("missing version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, opErr("save_system_prompt", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE system_prompts SET is_active = 0 WHERE is_active = 1`); err != nil {
		return 0, opErr("save_system_prompt", err)
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO system_prompts(prompt, version, is_active, created_at_unix_ms)
VALUES(?, ?, 1, ?)
`, prompt, version, nowUnixMs())
	if err != nil {
		return 0, opErr("save_system_prompt", err)
	}
	id, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return 0, opErr("save_system_prompt", err)
	}
	s.log.Info("saved system prompt", "version", version)
	return id, nil
}

// GetActiveSystemPrompt returns the active prompt, or nil when none is
// active.
func (s *Store) GetActiveSystemPrompt(ctx context.Context) (*SystemPrompt, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := SystemPrompt{Active: true}
	err := s.db.QueryRowContext(ctx, `
SELECT id, prompt, version, created_at_unix_ms
FROM system_prompts
WHERE is_active = 1
ORDER BY created_at_unix_ms DESC
LIMIT 1
`).Scan(&p.ID, &p.Prompt, &p.Version, &p.CreatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, opErr("get_active_system_prompt", err)
	}
	return &p, nil
}

// GetSystemPrompts lists every stored prompt version, newest first.
func (s *Store) GetSystemPrompts(ctx context.Context) ([]SystemPrompt, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, prompt, version, is_active, created_at_unix_ms
FROM system_prompts
ORDER BY created_at_unix_ms DESC
`)
	if err != nil {
		return nil, opErr("get_system_prompts", err)
	}
	defer rows.Close()

	out := make([]SystemPrompt, 0, 4)
	for rows.Next() {
		var p SystemPrompt
		var active int
		if err := rows.Scan(&p.ID, &p.Prompt, &p.Version, &active, &p.CreatedAtUnixMs); err != nil {
			return nil, opErr("get_system_prompts", err)
		}
		p.Active = active != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get_system_prompts", err)
	}
	return out, nil
}

// SetActiveSystemPrompt activates the named version. When the version does
// not exist nothing changes, the previously active prompt included, and
// the bool is false.
func (s *Store) SetActiveSystemPrompt(ctx context.Context, version string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return false, errors.New("missing version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, opErr("set_active_system_prompt", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM system_prompts WHERE version = ?`, version).Scan(&exists); err != nil {
		return false, opErr("set_active_system_prompt", err)
	}
	if exists == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE system_prompts SET is_active = 0 WHERE is_active = 1`); err != nil {
		return false, opErr("set_active_system_prompt", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE system_prompts SET is_active = 1 WHERE version = ?`, version); err != nil {
		return false, opErr("set_active_system_prompt", err)
	}

	if err := tx.Commit(); err != nil {
		return false, opErr("set_active_system_prompt", err)
	}
	s.log.Info("activated system prompt", "version", version)
	return true, nil
}
