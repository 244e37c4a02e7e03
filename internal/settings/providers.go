package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ErickCHIN000/BinAssist/internal/llm"
)

// LLMProvider is one configured model endpoint.
type LLMProvider struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	URL          string `json:"url"`
	MaxTokens    int64  `json:"max_tokens"`
	APIKey       string `json:"api_key,omitempty"`
	DisableTLS   bool   `json:"disable_tls"`
	ProviderType string `json:"provider_type"`
	Active       bool   `json:"is_active"`
}

// LLMProviderPatch is a partial update; nil fields are left unchanged.
type LLMProviderPatch struct {
	Name         *string
	Model        *string
	URL          *string
	MaxTokens    *int64
	APIKey       *string
	DisableTLS   *bool
	ProviderType *string
}

// AddLLMProvider registers a provider. Names are unique: a duplicate fails
// with ErrAlreadyExists and leaves the original row intact. The provider
// type tag is validated before the write.
func (s *Store) AddLLMProvider(ctx context.Context, p LLMProvider) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Model = strings.TrimSpace(p.Model)
	p.URL = strings.TrimSpace(p.URL)
	if p.Name == "" || p.Model == "" || p.URL == "" {
		return 0, errors.New("provider needs name, model and url")
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 4096
	}
	if p.ProviderType == "" {
		p.ProviderType = string(llm.ProviderOpenAI)
	}
	pt, err := llm.ParseProviderType(p.ProviderType)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnixMs()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO llm_providers(name, model, url, max_tokens, api_key, disable_tls, provider_type, is_active, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
`, p.Name, p.Model, p.URL, p.MaxTokens, p.APIKey, boolToInt(p.DisableTLS), string(pt), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("llm provider %q: %w", p.Name, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("add llm provider: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListLLMProviders returns all providers ordered by name.
func (s *Store) ListLLMProviders(ctx context.Context) ([]LLMProvider, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, model, url, max_tokens, api_key, disable_tls, provider_type, is_active
FROM llm_providers
ORDER BY name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list llm providers: %w", err)
	}
	defer rows.Close()

	out := make([]LLMProvider, 0, 4)
	for rows.Next() {
		var p LLMProvider
		var disableTLS, active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Model, &p.URL, &p.MaxTokens, &p.APIKey, &disableTLS, &p.ProviderType, &active); err != nil {
			return nil, fmt.Errorf("list llm providers: %w", err)
		}
		p.DisableTLS = disableTLS != 0
		p.Active = active != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list llm providers: %w", err)
	}
	return out, nil
}

// UpdateLLMProvider applies a partial update; the bool reports whether the
// row existed. An empty patch is a no-op.
func (s *Store) UpdateLLMProvider(ctx context.Context, id int64, patch LLMProviderPatch) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	set := make([]string, 0, 7)
	args := make([]any, 0, 8)
	appendSet := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		appendSet("name", strings.TrimSpace(*patch.Name))
	}
	if patch.Model != nil {
		appendSet("model", strings.TrimSpace(*patch.Model))
	}
	if patch.URL != nil {
		appendSet("url", strings.TrimSpace(*patch.URL))
	}
	if patch.MaxTokens != nil {
		appendSet("max_tokens", *patch.MaxTokens)
	}
	if patch.APIKey != nil {
		appendSet("api_key", *patch.APIKey)
	}
	if patch.DisableTLS != nil {
		appendSet("disable_tls", boolToInt(*patch.DisableTLS))
	}
	if patch.ProviderType != nil {
		pt, err := llm.ParseProviderType(*patch.ProviderType)
		if err != nil {
			return false, err
		}
		appendSet("provider_type", string(pt))
	}
	if len(set) == 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, nowUnixMs(), id)
	res, err := s.db.ExecContext(ctx, `
UPDATE llm_providers SET `+strings.Join(set, ", ")+`, updated_at_unix_ms = ?
WHERE id = ?
`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("llm provider rename: %w", ErrAlreadyExists)
		}
		return false, fmt.Errorf("update llm provider: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteLLMProvider removes a provider by id.
func (s *Store) DeleteLLMProvider(ctx context.Context, id int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM llm_providers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete llm provider: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetActiveLLMProvider makes the named provider the single active one and
// persists the choice in the settings table within the same transaction.
// A name that matches no provider changes nothing, the currently active
// provider included, and reports false.
func (s *Store) SetActiveLLMProvider(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.New("missing provider name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("set active llm provider: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_providers WHERE name = ?`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("set active llm provider: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE llm_providers SET is_active = 0 WHERE is_active = 1`); err != nil {
		return false, fmt.Errorf("set active llm provider: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE llm_providers SET is_active = 1 WHERE name = ?`, name); err != nil {
		return false, fmt.Errorf("set active llm provider: %w", err)
	}

	now := nowUnixMs()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO settings(key, value, type, category, created_at_unix_ms, updated_at_unix_ms)
VALUES('active_llm_provider', ?, 'string', 'ui', ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, name, now, now); err != nil {
		return false, fmt.Errorf("set active llm provider: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("set active llm provider: %w", err)
	}
	s.log.Info("activated llm provider", "name", name)
	return true, nil
}

// GetActiveLLMProvider returns the active provider. When no row carries
// the active flag the saved active_llm_provider setting is consulted and,
// if it still names an existing provider, the flag is restored.
func (s *Store) GetActiveLLMProvider(ctx context.Context) (*LLMProvider, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.llmProviderByLocked(ctx, `is_active = 1`, nil)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	var saved string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'active_llm_provider'`).Scan(&saved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active llm provider: %w", err)
	}
	saved = strings.TrimSpace(saved)
	if saved == "" {
		return nil, nil
	}

	p, err = s.llmProviderByLocked(ctx, `name = ?`, []any{saved})
	if err != nil {
		return nil, err
	}
	if p == nil {
		s.log.Warn("saved active llm provider no longer exists", "name", saved)
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE llm_providers SET is_active = 1 WHERE name = ?`, saved); err != nil {
		return nil, fmt.Errorf("get active llm provider: %w", err)
	}
	p.Active = true
	return p, nil
}

func (s *Store) llmProviderByLocked(ctx context.Context, where string, args []any) (*LLMProvider, error) {
	var p LLMProvider
	var disableTLS, active int
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, model, url, max_tokens, api_key, disable_tls, provider_type, is_active
FROM llm_providers
WHERE `+where+`
LIMIT 1
`, args...).Scan(&p.ID, &p.Name, &p.Model, &p.URL, &p.MaxTokens, &p.APIKey, &disableTLS, &p.ProviderType, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get llm provider: %w", err)
	}
	p.DisableTLS = disableTLS != 0
	p.Active = active != 0
	return &p, nil
}

// MCPProvider is one configured MCP endpoint.
type MCPProvider struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Enabled   bool   `json:"enabled"`
	Transport string `json:"transport"`
}

// MCPProviderPatch is a partial update; nil fields are left unchanged.
type MCPProviderPatch struct {
	Name      *string
	URL       *string
	Enabled   *bool
	Transport *string
}

// AddMCPProvider registers an MCP endpoint; duplicate names fail with
// ErrAlreadyExists.
func (s *Store) AddMCPProvider(ctx context.Context, p MCPProvider) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.Name = strings.TrimSpace(p.Name)
	p.URL = strings.TrimSpace(p.URL)
	if p.Name == "" || p.URL == "" {
		return 0, errors.New("provider needs name and url")
	}
	if strings.TrimSpace(p.Transport) == "" {
		p.Transport = "HTTP"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnixMs()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO mcp_providers(name, url, enabled, transport, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, p.Name, p.URL, boolToInt(p.Enabled), p.Transport, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("mcp provider %q: %w", p.Name, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("add mcp provider: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListMCPProviders returns all MCP providers ordered by name.
func (s *Store) ListMCPProviders(ctx context.Context) ([]MCPProvider, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, url, enabled, transport
FROM mcp_providers
ORDER BY name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list mcp providers: %w", err)
	}
	defer rows.Close()

	out := make([]MCPProvider, 0, 4)
	for rows.Next() {
		var p MCPProvider
		var enabled int
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &enabled, &p.Transport); err != nil {
			return nil, fmt.Errorf("list mcp providers: %w", err)
		}
		p.Enabled = enabled != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mcp providers: %w", err)
	}
	return out, nil
}

// UpdateMCPProvider applies a partial update; the bool reports whether the
// row existed.
func (s *Store) UpdateMCPProvider(ctx context.Context, id int64, patch MCPProviderPatch) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	set := make([]string, 0, 4)
	args := make([]any, 0, 5)
	appendSet := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		appendSet("name", strings.TrimSpace(*patch.Name))
	}
	if patch.URL != nil {
		appendSet("url", strings.TrimSpace(*patch.URL))
	}
	if patch.Enabled != nil {
		appendSet("enabled", boolToInt(*patch.Enabled))
	}
	if patch.Transport != nil {
		appendSet("transport", strings.TrimSpace(*patch.Transport))
	}
	if len(set) == 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, nowUnixMs(), id)
	res, err := s.db.ExecContext(ctx, `
UPDATE mcp_providers SET `+strings.Join(set, ", ")+`, updated_at_unix_ms = ?
WHERE id = ?
`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("mcp provider rename: %w", ErrAlreadyExists)
		}
		return false, fmt.Errorf("update mcp provider: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteMCPProvider removes an MCP provider by id.
func (s *Store) DeleteMCPProvider(ctx context.Context, id int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_providers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete mcp provider: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
