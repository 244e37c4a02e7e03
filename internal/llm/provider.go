package llm

import (
	"fmt"
	"strings"
)

// ProviderType identifies which wire format a native message payload follows.
//
// The set is closed: every stored native message carries one of these tags,
// and the normalizer dispatches on it. An unknown tag is rejected at write
// time, never silently coerced.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
	ProviderOther     ProviderType = "other"
)

// ValidationError reports input rejected before any write.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// ParseProviderType validates a provider tag supplied by a caller.
func ParseProviderType(raw string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderOllama:
		return ProviderOllama, nil
	case ProviderOther:
		return ProviderOther, nil
	default:
		return "", &ValidationError{Field: "provider_type", Value: raw}
	}
}

// MessageKind is the display classification derived from a native payload.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindToolCall   MessageKind = "tool_call"
	KindToolResult MessageKind = "tool_result"
	KindMixed      MessageKind = "mixed"
)
