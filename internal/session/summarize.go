package session

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/prompts"
)

// Completer is the one-shot completion surface used to label sessions.
// The engine's helper completion satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// titleWindow bounds how much history the title prompt sees; the
// intent of a session shows in its opening exchange.
const titleWindow = 10

// maxTranscriptEntry clips one rendered message so helper prompts stay
// small even when the history carries whole files.
const maxTranscriptEntry = 2000

// Title produces a short label for the session from its history.
func Title(ctx context.Context, c Completer, history []engine.Message) (string, error) {
	if len(history) == 0 {
		return "New session", nil
	}
	window := history
	if len(window) > titleWindow {
		window = window[:titleWindow]
	}
	out, err := c.Complete(ctx, prompts.Title(), Transcript(window))
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return firstLine(out), nil
}

// Summary produces the carry-over context saved with the session.
func Summary(ctx context.Context, c Completer, history []engine.Message) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	out, err := c.Complete(ctx, prompts.Summary(), Transcript(history))
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Transcript renders history as labeled turns for the helper prompts.
// System scaffolding and tool results stay out; the assistant's own
// narration already restates what the tools found.
func Transcript(history []engine.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role == engine.RoleSystem || m.Role == engine.RoleTool {
			continue
		}
		text := strings.TrimSpace(m.TextContent())
		if text == "" {
			continue
		}
		if len(text) > maxTranscriptEntry {
			cut := maxTranscriptEntry
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut] + " [clipped]"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", m.Role, text)
	}
	return b.String()
}

// firstLine normalizes a model-produced title: one line, no wrapping
// quotes, no trailing period.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, `"'`)
	return strings.TrimSuffix(s, ".")
}
