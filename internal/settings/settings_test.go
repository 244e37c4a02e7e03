package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_DefaultsSeeded(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	prompt, err := s.GetSettingString(context.Background(), "system_prompt", "")
	if err != nil {
		t.Fatalf("GetSettingString: %v", err)
	}
	if prompt == "" {
		t.Fatalf("system_prompt default missing")
	}

	// Reopening must not clobber user changes.
	if err := s.SetSetting(context.Background(), "system_prompt", "custom", "system"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.populateDefaults(t.TempDir()); err != nil {
		t.Fatalf("populateDefaults: %v", err)
	}
	prompt, err = s.GetSettingString(context.Background(), "system_prompt", "")
	if err != nil {
		t.Fatalf("GetSettingString: %v", err)
	}
	if prompt != "custom" {
		t.Fatalf("prompt=%q, want defaults to skip existing keys", prompt)
	}
}

func TestStore_TypedSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	cases := []struct {
		key   string
		value any
	}{
		{"flag", true},
		{"count", int64(42)},
		{"ratio", 0.5},
		{"label", "hello"},
		{"blob", map[string]any{"a": float64(1)}},
	}
	for _, tc := range cases {
		if err := s.SetSetting(ctx, tc.key, tc.value, "test"); err != nil {
			t.Fatalf("SetSetting %s: %v", tc.key, err)
		}
	}

	v, ok, err := s.GetSetting(ctx, "flag")
	if err != nil || !ok {
		t.Fatalf("GetSetting flag: ok=%v err=%v", ok, err)
	}
	if v != true {
		t.Fatalf("flag=%v (%T), want bool true", v, v)
	}

	v, _, _ = s.GetSetting(ctx, "count")
	if v != int64(42) {
		t.Fatalf("count=%v (%T), want int64 42", v, v)
	}

	v, _, _ = s.GetSetting(ctx, "ratio")
	if v != 0.5 {
		t.Fatalf("ratio=%v (%T), want 0.5", v, v)
	}

	v, _, _ = s.GetSetting(ctx, "blob")
	m, isMap := v.(map[string]any)
	if !isMap || m["a"] != float64(1) {
		t.Fatalf("blob=%v (%T)", v, v)
	}

	byCat, err := s.SettingsByCategory(ctx, "test")
	if err != nil {
		t.Fatalf("SettingsByCategory: %v", err)
	}
	if len(byCat) != len(cases) {
		t.Fatalf("len=%d, want %d", len(byCat), len(cases))
	}

	_, ok, err = s.GetSetting(ctx, "never_set")
	if err != nil {
		t.Fatalf("GetSetting absent: %v", err)
	}
	if ok {
		t.Fatalf("absent key reported present")
	}
}

func TestStore_DeleteSetting(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetSetting(ctx, "temp", "x", "general"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	ok, err := s.DeleteSetting(ctx, "temp")
	if err != nil || !ok {
		t.Fatalf("DeleteSetting: ok=%v err=%v", ok, err)
	}
	ok, err = s.DeleteSetting(ctx, "temp")
	if err != nil {
		t.Fatalf("DeleteSetting again: %v", err)
	}
	if ok {
		t.Fatalf("second delete reported true")
	}
}

func TestStore_LLMProviderUniqueName(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddLLMProvider(ctx, LLMProvider{
		Name:         "claude",
		Model:        "claude-sonnet-4",
		URL:          "https://api.anthropic.com",
		ProviderType: "anthropic",
		APIKey:       "sk-first",
	})
	if err != nil {
		t.Fatalf("AddLLMProvider: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id=%d", id)
	}

	_, err = s.AddLLMProvider(ctx, LLMProvider{
		Name:         "claude",
		Model:        "claude-haiku-4",
		URL:          "https://other.invalid",
		ProviderType: "anthropic",
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate insert err=%v, want ErrAlreadyExists", err)
	}

	// First registration untouched.
	providers, err := s.ListLLMProviders(ctx)
	if err != nil {
		t.Fatalf("ListLLMProviders: %v", err)
	}
	if len(providers) != 1 {
		t.Fatalf("len=%d, want 1", len(providers))
	}
	if providers[0].Model != "claude-sonnet-4" || providers[0].APIKey != "sk-first" {
		t.Fatalf("original row modified: %+v", providers[0])
	}
}

func TestStore_AddLLMProviderRejectsUnknownType(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	_, err := s.AddLLMProvider(context.Background(), LLMProvider{
		Name:         "mystery",
		Model:        "m",
		URL:          "https://x.invalid",
		ProviderType: "grok",
	})
	if err == nil {
		t.Fatalf("unknown provider_type accepted")
	}

	providers, lerr := s.ListLLMProviders(context.Background())
	if lerr != nil {
		t.Fatalf("ListLLMProviders: %v", lerr)
	}
	if len(providers) != 0 {
		t.Fatalf("len=%d, want rejected before write", len(providers))
	}
}

func TestStore_SetActiveLLMProvider(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"claude", "gpt"} {
		if _, err := s.AddLLMProvider(ctx, LLMProvider{Name: name, Model: "m", URL: "https://x.invalid"}); err != nil {
			t.Fatalf("AddLLMProvider %s: %v", name, err)
		}
	}

	ok, err := s.SetActiveLLMProvider(ctx, "claude")
	if err != nil || !ok {
		t.Fatalf("SetActiveLLMProvider: ok=%v err=%v", ok, err)
	}

	active, err := s.GetActiveLLMProvider(ctx)
	if err != nil {
		t.Fatalf("GetActiveLLMProvider: %v", err)
	}
	if active == nil || active.Name != "claude" {
		t.Fatalf("active=%+v, want claude", active)
	}

	// Activating a nonexistent name changes nothing.
	ok, err = s.SetActiveLLMProvider(ctx, "missing")
	if err != nil {
		t.Fatalf("SetActiveLLMProvider missing: %v", err)
	}
	if ok {
		t.Fatalf("activation of unknown provider reported true")
	}
	active, err = s.GetActiveLLMProvider(ctx)
	if err != nil {
		t.Fatalf("GetActiveLLMProvider after no-op: %v", err)
	}
	if active == nil || active.Name != "claude" {
		t.Fatalf("active=%+v, want claude preserved", active)
	}

	saved, err := s.GetSettingString(ctx, "active_llm_provider", "")
	if err != nil {
		t.Fatalf("GetSettingString: %v", err)
	}
	if saved != "claude" {
		t.Fatalf("saved setting=%q, want claude", saved)
	}
}

func TestStore_GetActiveLLMProviderRestoresFromSetting(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddLLMProvider(ctx, LLMProvider{Name: "claude", Model: "m", URL: "https://x.invalid"})
	if err != nil {
		t.Fatalf("AddLLMProvider: %v", err)
	}
	if _, err := s.SetActiveLLMProvider(ctx, "claude"); err != nil {
		t.Fatalf("SetActiveLLMProvider: %v", err)
	}

	// Simulate the flag getting lost (e.g. a partial restore).
	if _, err := s.db.Exec(`UPDATE llm_providers SET is_active = 0`); err != nil {
		t.Fatalf("clear flag: %v", err)
	}

	active, err := s.GetActiveLLMProvider(ctx)
	if err != nil {
		t.Fatalf("GetActiveLLMProvider: %v", err)
	}
	if active == nil || active.ID != id || !active.Active {
		t.Fatalf("active=%+v, want restored from saved setting", active)
	}
}

func TestStore_UpdateLLMProviderPatch(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddLLMProvider(ctx, LLMProvider{Name: "claude", Model: "old-model", URL: "https://x.invalid", MaxTokens: 1000})
	if err != nil {
		t.Fatalf("AddLLMProvider: %v", err)
	}

	model := "new-model"
	tokens := int64(8192)
	ok, err := s.UpdateLLMProvider(ctx, id, LLMProviderPatch{Model: &model, MaxTokens: &tokens})
	if err != nil || !ok {
		t.Fatalf("UpdateLLMProvider: ok=%v err=%v", ok, err)
	}

	providers, err := s.ListLLMProviders(ctx)
	if err != nil {
		t.Fatalf("ListLLMProviders: %v", err)
	}
	p := providers[0]
	if p.Model != "new-model" || p.MaxTokens != 8192 {
		t.Fatalf("patched=%+v", p)
	}
	if p.Name != "claude" || p.URL != "https://x.invalid" {
		t.Fatalf("untouched fields changed: %+v", p)
	}

	// Empty patch is a no-op.
	ok, err = s.UpdateLLMProvider(ctx, id, LLMProviderPatch{})
	if err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if ok {
		t.Fatalf("empty patch reported update")
	}

	ok, err = s.UpdateLLMProvider(ctx, 9999, LLMProviderPatch{Model: &model})
	if err != nil {
		t.Fatalf("patch missing row: %v", err)
	}
	if ok {
		t.Fatalf("patch of missing row reported true")
	}
}

func TestStore_MCPProviderLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddMCPProvider(ctx, MCPProvider{Name: "local", URL: "http://127.0.0.1:7777", Enabled: true})
	if err != nil {
		t.Fatalf("AddMCPProvider: %v", err)
	}

	_, err = s.AddMCPProvider(ctx, MCPProvider{Name: "local", URL: "http://other.invalid"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate err=%v, want ErrAlreadyExists", err)
	}

	enabled := false
	ok, err := s.UpdateMCPProvider(ctx, id, MCPProviderPatch{Enabled: &enabled})
	if err != nil || !ok {
		t.Fatalf("UpdateMCPProvider: ok=%v err=%v", ok, err)
	}

	providers, err := s.ListMCPProviders(ctx)
	if err != nil {
		t.Fatalf("ListMCPProviders: %v", err)
	}
	if len(providers) != 1 || providers[0].Enabled {
		t.Fatalf("providers=%+v", providers)
	}
	if providers[0].Transport != "HTTP" {
		t.Fatalf("Transport=%q, want HTTP default", providers[0].Transport)
	}

	ok, err = s.DeleteMCPProvider(ctx, id)
	if err != nil || !ok {
		t.Fatalf("DeleteMCPProvider: ok=%v err=%v", ok, err)
	}
}
