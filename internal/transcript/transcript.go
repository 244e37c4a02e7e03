// Package transcript turns stored native chat rows into a readable
// conversation. Provider payloads are noisy: retries produce consecutive
// assistant rows for the same turn, user prompts carry injected tool and
// retrieval context, and tool output arrives raw. Build collapses and
// renders all of that.
package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/ErickCHIN000/BinAssist/internal/store"
)

// Message is one rendered conversation turn.
type Message struct {
	ID              int64  `json:"id" yaml:"id"`
	MessageOrder    int64  `json:"message_order" yaml:"message_order"`
	Role            string `json:"role" yaml:"role"`
	Content         string `json:"content" yaml:"content"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms" yaml:"created_at_unix_ms"`
}

// Build renders rows (already in conversation order) for display. System
// rows are dropped, consecutive assistant rows are folded to the best one,
// and turns that render to nothing are omitted.
func Build(rows []store.NativeMessage) []Message {
	deduped := dedupe(rows)

	out := make([]Message, 0, len(deduped))
	for _, row := range deduped {
		content := render(row)
		if content == "" {
			continue
		}
		out = append(out, Message{
			ID:              row.ID,
			MessageOrder:    row.MessageOrder,
			Role:            row.Role,
			Content:         content,
			CreatedAtUnixMs: row.CreatedAtUnixMs,
		})
	}
	return out
}

// dedupe folds each run of consecutive assistant rows into its single best
// representative. Provider retries store near-duplicates back to back; the
// run never spans an intervening user or tool row.
func dedupe(rows []store.NativeMessage) []store.NativeMessage {
	out := make([]store.NativeMessage, 0, len(rows))
	for i := 0; i < len(rows); {
		row := rows[i]
		if strings.EqualFold(row.Role, "system") {
			i++
			continue
		}
		if !strings.EqualFold(row.Role, "assistant") {
			out = append(out, row)
			i++
			continue
		}

		best := row
		j := i + 1
		for j < len(rows) && strings.EqualFold(rows[j].Role, "assistant") {
			best = betterAssistant(best, rows[j])
			j++
		}
		out = append(out, best)
		i = j
	}
	return out
}

// betterAssistant prefers the row with strictly more trimmed display text,
// counted in runes; on a tie the later row wins.
func betterAssistant(a, b store.NativeMessage) store.NativeMessage {
	la := utf8.RuneCountInString(strings.TrimSpace(a.ContentText))
	lb := utf8.RuneCountInString(strings.TrimSpace(b.ContentText))
	if lb > la {
		return b
	}
	if la > lb {
		return a
	}
	if b.MessageOrder > a.MessageOrder {
		return b
	}
	return a
}

func render(row store.NativeMessage) string {
	switch strings.ToLower(strings.TrimSpace(row.Role)) {
	case "user":
		return CleanUserMessage(row.ContentText)
	case "assistant":
		return FormatAssistantMessage(row.ContentText, row.NativeJSON, row.Provider)
	case "tool":
		return FormatToolMessage(row.ContentText, row.NativeJSON)
	default:
		return strings.TrimSpace(row.ContentText)
	}
}
