package llm

import (
	"encoding/json"
	"strings"
)

// DisplayInfo is the uniform projection derived from a native payload at
// write time. The payload itself stays the source of truth for replay;
// these fields are a cache invalidated only by rewriting the row.
type DisplayInfo struct {
	Role        string
	ContentText string
	Kind        MessageKind
}

// ToolCall is one tool invocation recovered from a native payload.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ExtractDisplayInfo derives (role, display text, message kind) from a
// native payload. It is a pure function over the payload bytes: missing or
// malformed fields default, and a payload that does not decode at all
// yields an empty text with the assistant role. It never fails.
func ExtractDisplayInfo(payload []byte, provider ProviderType) DisplayInfo {
	doc := decodeObject(payload)

	switch provider {
	case ProviderAnthropic:
		return extractAnthropic(doc)
	case ProviderOpenAI:
		return extractOpenAI(doc)
	case ProviderOllama:
		return extractOllama(doc)
	default:
		// Unknown shapes pass through: content as-is, plain text.
		return DisplayInfo{
			Role:        stringField(doc, "role", "assistant"),
			ContentText: stringField(doc, "content", ""),
			Kind:        KindText,
		}
	}
}

func extractAnthropic(doc map[string]any) DisplayInfo {
	role := stringField(doc, "role", "assistant")

	var (
		parts         []string
		hasToolUse    bool
		hasToolResult bool
	)
	switch content := doc["content"].(type) {
	case string:
		parts = append(parts, content)
	case []any:
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch stringField(block, "type", "") {
			case "text":
				if txt := stringField(block, "text", ""); txt != "" {
					parts = append(parts, txt)
				}
			case "tool_use":
				hasToolUse = true
			case "tool_result":
				hasToolResult = true
				if txt := stringField(block, "content", ""); txt != "" {
					parts = append(parts, txt)
				}
			}
		}
	}

	text := strings.Join(parts, "\n")
	kind := classify(role, hasToolUse, text)
	if hasToolResult && !hasToolUse {
		kind = KindToolResult
	}
	return DisplayInfo{Role: role, ContentText: text, Kind: kind}
}

func extractOpenAI(doc map[string]any) DisplayInfo {
	role := stringField(doc, "role", "assistant")
	text := stringField(doc, "content", "")
	hasTools := len(listField(doc, "tool_calls")) > 0
	return DisplayInfo{Role: role, ContentText: text, Kind: classify(role, hasTools, text)}
}

func extractOllama(doc map[string]any) DisplayInfo {
	// Older Ollama responses nest the message one level down.
	embedded, _ := doc["message"].(map[string]any)

	role := stringField(doc, "role", "")
	if role == "" {
		role = stringField(embedded, "role", "assistant")
	}
	text := stringField(doc, "content", "")
	if text == "" {
		text = stringField(embedded, "content", "")
	}

	hasTools := len(listField(doc, "tool_calls")) > 0
	if !hasTools {
		hasTools = len(listField(embedded, "tool_calls")) > 0
	}
	return DisplayInfo{Role: role, ContentText: text, Kind: classify(role, hasTools, text)}
}

func classify(role string, hasTools bool, text string) MessageKind {
	if strings.EqualFold(strings.TrimSpace(role), "tool") {
		return KindToolResult
	}
	switch {
	case hasTools && strings.TrimSpace(text) != "":
		return KindMixed
	case hasTools:
		return KindToolCall
	default:
		return KindText
	}
}

// CollectToolCalls recovers every tool invocation from a native payload as
// {name, arguments} pairs, using the same per-provider shapes as
// ExtractDisplayInfo. Argument blobs that fail to parse as JSON are kept
// verbatim under the "raw_args" key rather than dropped.
func CollectToolCalls(payload []byte, provider ProviderType) []ToolCall {
	doc := decodeObject(payload)

	var out []ToolCall
	switch provider {
	case ProviderAnthropic:
		content, _ := doc["content"].([]any)
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok || stringField(block, "type", "") != "tool_use" {
				continue
			}
			name := stringField(block, "name", "")
			if name == "" {
				continue
			}
			args, _ := block["input"].(map[string]any)
			out = append(out, ToolCall{Name: name, Args: args})
		}
	case ProviderOpenAI:
		out = appendFlatToolCalls(out, listField(doc, "tool_calls"))
	case ProviderOllama:
		calls := listField(doc, "tool_calls")
		if len(calls) == 0 {
			if embedded, ok := doc["message"].(map[string]any); ok {
				calls = listField(embedded, "tool_calls")
			}
		}
		out = appendFlatToolCalls(out, calls)
	}
	return out
}

// appendFlatToolCalls handles the OpenAI-shaped tool_calls array, which
// Ollama also emits; Ollama additionally allows {name, arguments} directly
// on the call object.
func appendFlatToolCalls(out []ToolCall, calls []any) []ToolCall {
	for _, raw := range calls {
		tc, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		name := ""
		var argsRaw any
		if fn, ok := tc["function"].(map[string]any); ok {
			name = stringField(fn, "name", "")
			argsRaw = fn["arguments"]
		} else if n := stringField(tc, "name", ""); n != "" {
			name = n
			argsRaw = tc["arguments"]
			if argsRaw == nil {
				argsRaw = tc["parameters"]
			}
		}
		if name == "" {
			continue
		}
		out = append(out, ToolCall{Name: name, Args: coerceArgs(argsRaw)})
	}
	return out
}

func coerceArgs(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return map[string]any{"raw_args": v}
		}
		return parsed
	default:
		return nil
	}
}

func decodeObject(payload []byte) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	return doc
}

func stringField(m map[string]any, key string, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return fallback
}

func listField(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}
