package llm

import (
	"errors"
	"testing"
)

func TestParseProviderType(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"anthropic", "OpenAI", " ollama ", "other"} {
		if _, err := ParseProviderType(raw); err != nil {
			t.Fatalf("ParseProviderType(%q): %v", raw, err)
		}
	}

	_, err := ParseProviderType("grok")
	if err == nil {
		t.Fatalf("unknown tag accepted")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
	if verr.Field != "provider_type" || verr.Value != "grok" {
		t.Fatalf("ValidationError=%+v", verr)
	}
}

func TestExtractDisplayInfo_AnthropicBlocks(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"role":"assistant","content":[{"type":"text","text":"Let me check."},{"type":"tool_use","id":"toolu_1","name":"get_disassembly","input":{"address":4096}}]}`)
	info := ExtractDisplayInfo(payload, ProviderAnthropic)
	if info.Role != "assistant" {
		t.Fatalf("Role=%q", info.Role)
	}
	if info.ContentText != "Let me check." {
		t.Fatalf("ContentText=%q", info.ContentText)
	}
	if info.Kind != KindMixed {
		t.Fatalf("Kind=%q, want mixed", info.Kind)
	}

	toolOnly := []byte(`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"get_xrefs","input":{}}]}`)
	info = ExtractDisplayInfo(toolOnly, ProviderAnthropic)
	if info.Kind != KindToolCall {
		t.Fatalf("Kind=%q, want tool_call", info.Kind)
	}
	if info.ContentText != "" {
		t.Fatalf("ContentText=%q, want empty", info.ContentText)
	}
}

func TestExtractDisplayInfo_OpenAIToolCalls(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_disassembly","arguments":"{\"address\": 4096}"}}]}`)
	info := ExtractDisplayInfo(payload, ProviderOpenAI)
	if info.Role != "assistant" {
		t.Fatalf("Role=%q", info.Role)
	}
	if info.Kind != KindToolCall {
		t.Fatalf("Kind=%q, want tool_call", info.Kind)
	}

	calls := CollectToolCalls(payload, ProviderOpenAI)
	if len(calls) != 1 || calls[0].Name != "get_disassembly" {
		t.Fatalf("calls=%+v", calls)
	}
	if got := calls[0].Args["address"]; got != float64(4096) {
		t.Fatalf("address=%v, want 4096", got)
	}
}

func TestExtractDisplayInfo_ToolRole(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"role":"tool","content":"0x1000: push rbp","tool_call_id":"call_1"}`)
	info := ExtractDisplayInfo(payload, ProviderOpenAI)
	if info.Kind != KindToolResult {
		t.Fatalf("Kind=%q, want tool_result", info.Kind)
	}
	if info.ContentText != "0x1000: push rbp" {
		t.Fatalf("ContentText=%q", info.ContentText)
	}
}

func TestExtractDisplayInfo_OllamaEmbeddedMessage(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"message":{"role":"assistant","content":"done","tool_calls":[{"function":{"name":"rename_function","arguments":{"name":"parse_header"}}}]}}`)
	info := ExtractDisplayInfo(payload, ProviderOllama)
	if info.Role != "assistant" {
		t.Fatalf("Role=%q", info.Role)
	}
	if info.ContentText != "done" {
		t.Fatalf("ContentText=%q", info.ContentText)
	}
	if info.Kind != KindMixed {
		t.Fatalf("Kind=%q, want mixed", info.Kind)
	}

	calls := CollectToolCalls(payload, ProviderOllama)
	if len(calls) != 1 || calls[0].Name != "rename_function" {
		t.Fatalf("calls=%+v", calls)
	}
}

func TestExtractDisplayInfo_OllamaDirectToolShape(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"role":"assistant","content":"","tool_calls":[{"name":"get_strings","parameters":{"min_length":8}}]}`)
	calls := CollectToolCalls(payload, ProviderOllama)
	if len(calls) != 1 || calls[0].Name != "get_strings" {
		t.Fatalf("calls=%+v", calls)
	}
	if got := calls[0].Args["min_length"]; got != float64(8) {
		t.Fatalf("min_length=%v", got)
	}
}

func TestCollectToolCalls_MalformedArgsKeptRaw(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"role":"assistant","tool_calls":[{"function":{"name":"get_disassembly","arguments":"{not json"}}]}`)
	calls := CollectToolCalls(payload, ProviderOpenAI)
	if len(calls) != 1 {
		t.Fatalf("calls=%+v", calls)
	}
	if got := calls[0].Args["raw_args"]; got != "{not json" {
		t.Fatalf("raw_args=%v, want verbatim blob", got)
	}
}

func TestExtractDisplayInfo_MalformedPayload(t *testing.T) {
	t.Parallel()

	info := ExtractDisplayInfo([]byte(`not json at all`), ProviderAnthropic)
	if info.Role != "assistant" || info.ContentText != "" || info.Kind != KindText {
		t.Fatalf("info=%+v, want harmless defaults", info)
	}

	info = ExtractDisplayInfo(nil, ProviderOpenAI)
	if info.Role != "assistant" || info.Kind != KindText {
		t.Fatalf("info=%+v, want defaults for nil payload", info)
	}
}

func TestExtractDisplayInfo_OtherPassthrough(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"role":"user","content":"anything goes","extra":{"unknown":true}}`)
	info := ExtractDisplayInfo(payload, ProviderOther)
	if info.Role != "user" || info.ContentText != "anything goes" || info.Kind != KindText {
		t.Fatalf("info=%+v", info)
	}
}
