package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ErickCHIN000/BinAssist/internal/llm"
)

const (
	maxArgStringLen  = 30
	maxToolResultLen = 200
)

// CleanUserMessage strips the context the plugin injects before sending a
// prompt: the MCP tool listing, the RAG section, and the tool-use nudge.
// The first marker found wins; everything from it onward is dropped.
func CleanUserMessage(content string) string {
	if idx := strings.Index(content, "Available MCP Tools"); idx >= 0 {
		return strings.TrimSpace(content[:idx])
	}
	if idx := strings.Index(content, "**RAG Context**"); idx >= 0 {
		return strings.TrimSpace(content[:idx])
	}
	content = strings.ReplaceAll(content, "\n\nUse the available tool calls as needed.", "")
	return strings.TrimSpace(content)
}

// FormatAssistantMessage renders an assistant turn. Tool calls are
// re-derived from the native payload rather than trusted from the stored
// text, and any bracketed tool marker already present in the text is
// stripped first so re-rendering a rendered transcript is stable.
func FormatAssistantMessage(content string, payload []byte, provider llm.ProviderType) string {
	clean := stripToolPrefix(strings.TrimSpace(content))

	calls := llm.CollectToolCalls(payload, provider)
	if len(calls) == 0 {
		return clean
	}

	block := formatToolCalls(calls)
	if clean == "" {
		return block
	}
	return block + "\n\n" + clean
}

// stripToolPrefix removes a leading "[Tool: ...]" or "[Tools ...]" marker.
// The marker occupies the whole first line (argument values may themselves
// contain brackets, so scanning for "]" is not safe). The multi-call form is
// followed by indented numbered lines; those belong to the marker too and
// are dropped through the blank line that separates them from free text.
func stripToolPrefix(content string) string {
	multi := strings.HasPrefix(content, "[Tools")
	if !multi && !strings.HasPrefix(content, "[Tool:") {
		return content
	}
	line, rest, _ := strings.Cut(content, "\n")
	if !strings.HasSuffix(strings.TrimSpace(line), "]") {
		return content
	}
	if multi {
		if idx := strings.Index(rest, "\n\n"); idx >= 0 {
			rest = rest[idx:]
		} else {
			rest = ""
		}
	}
	return strings.TrimSpace(rest)
}

func formatToolCalls(calls []llm.ToolCall) string {
	if len(calls) == 1 {
		name := calls[0].Name
		args := formatArgsCompact(calls[0].Args)
		if args == "" {
			return "[Tool: " + name + "]"
		}
		return "[Tool: " + name + "(" + args + ")]"
	}

	lines := make([]string, 0, len(calls)+1)
	lines = append(lines, "[Tools called:]")
	for i, call := range calls {
		args := formatArgsCompact(call.Args)
		if args == "" {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, call.Name))
		} else {
			lines = append(lines, fmt.Sprintf("  %d. %s(%s)", i+1, call.Name, args))
		}
	}
	return strings.Join(lines, "\n")
}

// formatArgsCompact renders arguments as key=value pairs. Long strings are
// truncated, compound values reduced to their size. Keys are sorted so the
// rendering is deterministic.
func formatArgsCompact(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatArgValue(args[k]))
	}
	return strings.Join(parts, ", ")
}

func formatArgValue(v any) string {
	switch val := v.(type) {
	case string:
		if utf8.RuneCountInString(val) > maxArgStringLen {
			return `"` + truncateRunes(val, maxArgStringLen) + `..."`
		}
		return `"` + val + `"`
	case bool:
		return strconv.FormatBool(val)
	case float64:
		// JSON numbers decode as float64; render integral values without
		// a fractional part.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []any:
		return fmt.Sprintf("[%d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{%d keys}", len(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

// FormatToolMessage renders a tool result as a named fenced block. The tool
// name comes from the payload when present, else from a "Tool:" line in the
// content, else the generic "Tool". Results past 200 characters are
// truncated with an explicit marker.
func FormatToolMessage(content string, payload []byte) string {
	clean := strings.TrimSpace(content)
	if clean == "" {
		return ""
	}

	name := toolNameFromPayload(payload)
	if name == "" {
		name = toolNameFromContent(clean)
	}
	if name == "" {
		name = "Tool"
	}

	body := clean
	if utf8.RuneCountInString(body) > maxToolResultLen {
		body = truncateRunes(body, maxToolResultLen) + "...\n\n[Tool result truncated for display]"
	}
	return "**" + name + " Result:**\n```\n" + body + "\n```"
}

// truncateRunes cuts s after max runes without splitting a multi-byte rune.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return s[:i]
		}
		n++
	}
	return s
}

func toolNameFromPayload(payload []byte) string {
	info := struct {
		Name string `json:"name"`
	}{}
	if err := json.Unmarshal(payload, &info); err != nil {
		return ""
	}
	return strings.TrimSpace(info.Name)
}

// toolNameFromContent pulls the name out of a line like
// "Tool: get_disassembly completed" or "**Tool:** get_disassembly".
func toolNameFromContent(content string) string {
	if !strings.Contains(content, "Tool:") {
		return ""
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Tool:") && !strings.HasPrefix(line, "**Tool:**") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			name := strings.NewReplacer("`", "", "*", "").Replace(fields[1])
			return name
		}
		break
	}
	return ""
}
