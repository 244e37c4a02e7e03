package llm

import (
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	oresponses "github.com/openai/openai-go/responses"
)

// ReplayMessage is one stored native row handed to a replay builder:
// the verbatim payload plus the provider tag it was written under.
type ReplayMessage struct {
	Provider ProviderType
	Payload  json.RawMessage
}

// BuildAnthropicMessages converts stored history into Anthropic request
// params for resending a conversation. System rows are skipped (they travel
// in the request's System field), empty rows are dropped, and tool outputs
// become tool_result blocks when a tool_use id can be recovered.
func BuildAnthropicMessages(history []ReplayMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		info := ExtractDisplayInfo(msg.Payload, msg.Provider)
		role := strings.ToLower(strings.TrimSpace(info.Role))
		if role == "system" {
			continue
		}

		text := strings.TrimSpace(info.ContentText)
		if role == "tool" || info.Kind == KindToolResult {
			callID := toolResultCallID(msg.Payload, msg.Provider)
			if callID == "" || text == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(callID, text, false)))
			continue
		}
		if text == "" {
			continue
		}
		if role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	return out
}

// BuildOpenAIInput converts stored history into a Responses API input list.
// System text is lifted out and returned separately for the request's
// Instructions field. Assistant tool calls are re-encoded as function_call
// items so the provider sees the same call/output pairing it produced.
func BuildOpenAIInput(history []ReplayMessage) (oresponses.ResponseInputParam, string) {
	items := make(oresponses.ResponseInputParam, 0, len(history))
	instructions := ""

	for _, msg := range history {
		info := ExtractDisplayInfo(msg.Payload, msg.Provider)
		role := strings.ToLower(strings.TrimSpace(info.Role))
		text := strings.TrimSpace(info.ContentText)

		switch role {
		case "system":
			if text == "" {
				continue
			}
			if instructions == "" {
				instructions = text
			} else {
				instructions += "\n\n" + text
			}
		case "tool":
			callID := toolResultCallID(msg.Payload, msg.Provider)
			if callID == "" {
				continue
			}
			items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(callID, text))
		case "assistant":
			for _, call := range collectToolCallsWithIDs(msg.Payload, msg.Provider) {
				if call.ID == "" || call.Name == "" {
					continue
				}
				args := strings.TrimSpace(call.ArgsJSON)
				if args == "" || !json.Valid([]byte(args)) {
					args = "{}"
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(args, call.ID, call.Name))
			}
			if text != "" {
				items = append(items, oresponses.ResponseInputItemParamOfMessage(text, oresponses.EasyInputMessageRoleAssistant))
			}
		default:
			if text == "" {
				continue
			}
			items = append(items, oresponses.ResponseInputItemParamOfMessage(text, oresponses.EasyInputMessageRoleUser))
		}
	}
	return items, instructions
}

type identifiedToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// collectToolCallsWithIDs is the replay-side variant of CollectToolCalls:
// it keeps the provider-assigned call id and the raw argument JSON, both of
// which the display path discards.
func collectToolCallsWithIDs(payload []byte, provider ProviderType) []identifiedToolCall {
	doc := decodeObject(payload)

	var out []identifiedToolCall
	switch provider {
	case ProviderAnthropic:
		content, _ := doc["content"].([]any)
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok || stringField(block, "type", "") != "tool_use" {
				continue
			}
			args := ""
			if input, ok := block["input"]; ok && input != nil {
				if b, err := json.Marshal(input); err == nil {
					args = string(b)
				}
			}
			out = append(out, identifiedToolCall{
				ID:       stringField(block, "id", ""),
				Name:     stringField(block, "name", ""),
				ArgsJSON: args,
			})
		}
	case ProviderOpenAI, ProviderOllama:
		calls := listField(doc, "tool_calls")
		if len(calls) == 0 {
			if embedded, ok := doc["message"].(map[string]any); ok {
				calls = listField(embedded, "tool_calls")
			}
		}
		for _, raw := range calls {
			tc, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := tc["function"].(map[string]any)
			args := ""
			switch v := fn["arguments"].(type) {
			case string:
				args = v
			case map[string]any:
				if b, err := json.Marshal(v); err == nil {
					args = string(b)
				}
			}
			out = append(out, identifiedToolCall{
				ID:       stringField(tc, "id", ""),
				Name:     stringField(fn, "name", ""),
				ArgsJSON: args,
			})
		}
	}
	return out
}

// toolResultCallID recovers the id linking a tool output back to the call
// that produced it.
func toolResultCallID(payload []byte, provider ProviderType) string {
	doc := decodeObject(payload)
	if doc == nil {
		return ""
	}
	if id := stringField(doc, "tool_call_id", ""); id != "" {
		return id
	}
	if provider == ProviderAnthropic {
		content, _ := doc["content"].([]any)
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok || stringField(block, "type", "") != "tool_result" {
				continue
			}
			if id := stringField(block, "tool_use_id", ""); id != "" {
				return id
			}
		}
	}
	return ""
}
