package llm

import (
	"encoding/json"
	"testing"
)

func replayMsg(provider ProviderType, payload string) ReplayMessage {
	return ReplayMessage{Provider: provider, Payload: json.RawMessage(payload)}
}

func TestBuildAnthropicMessages(t *testing.T) {
	t.Parallel()

	history := []ReplayMessage{
		replayMsg(ProviderAnthropic, `{"role":"system","content":"You analyze binaries."}`),
		replayMsg(ProviderAnthropic, `{"role":"user","content":"What does sub_401000 do?"}`),
		replayMsg(ProviderAnthropic, `{"role":"assistant","content":[{"type":"text","text":"Checking."}]}`),
		replayMsg(ProviderAnthropic, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"0x1000: push rbp"}]}`),
		replayMsg(ProviderAnthropic, `{"role":"assistant","content":""}`),
	}

	msgs := BuildAnthropicMessages(history)
	// system skipped, empty assistant dropped, three rows survive.
	if len(msgs) != 3 {
		t.Fatalf("len=%d, want 3", len(msgs))
	}
	if string(msgs[0].Role) != "user" {
		t.Fatalf("msgs[0].Role=%q", msgs[0].Role)
	}
	if string(msgs[1].Role) != "assistant" {
		t.Fatalf("msgs[1].Role=%q", msgs[1].Role)
	}
	if string(msgs[2].Role) != "user" {
		t.Fatalf("msgs[2].Role=%q, want tool results carried as user turns", msgs[2].Role)
	}
}

func TestBuildOpenAIInput(t *testing.T) {
	t.Parallel()

	history := []ReplayMessage{
		replayMsg(ProviderOpenAI, `{"role":"system","content":"You analyze binaries."}`),
		replayMsg(ProviderOpenAI, `{"role":"user","content":"Explain sub_401000."}`),
		replayMsg(ProviderOpenAI, `{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_disassembly","arguments":"{\"address\":4096}"}}]}`),
		replayMsg(ProviderOpenAI, `{"role":"tool","tool_call_id":"call_1","content":"0x1000: push rbp"}`),
		replayMsg(ProviderOpenAI, `{"role":"assistant","content":"It sets up the stack frame."}`),
	}

	items, instructions := BuildOpenAIInput(history)
	if instructions != "You analyze binaries." {
		t.Fatalf("instructions=%q", instructions)
	}
	// user, function_call, function_call_output, assistant message.
	if len(items) != 4 {
		t.Fatalf("len=%d, want 4", len(items))
	}
	if items[1].OfFunctionCall == nil {
		t.Fatalf("items[1] is not a function call")
	}
	if items[1].OfFunctionCall.Name != "get_disassembly" || items[1].OfFunctionCall.CallID != "call_1" {
		t.Fatalf("function call=%+v", items[1].OfFunctionCall)
	}
	if items[2].OfFunctionCallOutput == nil || items[2].OfFunctionCallOutput.CallID != "call_1" {
		t.Fatalf("items[2] is not the matching output")
	}
}

func TestBuildOpenAIInput_MalformedArgsReplacedWithEmptyObject(t *testing.T) {
	t.Parallel()

	history := []ReplayMessage{
		replayMsg(ProviderOpenAI, `{"role":"assistant","tool_calls":[{"id":"call_1","function":{"name":"probe","arguments":"{broken"}}]}`),
	}
	items, _ := BuildOpenAIInput(history)
	if len(items) != 1 || items[0].OfFunctionCall == nil {
		t.Fatalf("items=%+v", items)
	}
	if items[0].OfFunctionCall.Arguments != "{}" {
		t.Fatalf("Arguments=%q, want {} for unparseable blob", items[0].OfFunctionCall.Arguments)
	}
}

func TestBuildAnthropicMessages_DropsOrphanToolResult(t *testing.T) {
	t.Parallel()

	history := []ReplayMessage{
		replayMsg(ProviderOpenAI, `{"role":"tool","content":"output with no call id"}`),
	}
	if msgs := BuildAnthropicMessages(history); len(msgs) != 0 {
		t.Fatalf("len=%d, want orphan tool output dropped", len(msgs))
	}
}
