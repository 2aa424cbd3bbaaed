// Token estimation. The heuristic is deliberately cheap; determinism
// matters more than accuracy because the numbers only back-fill Stats
// when the provider omits usage.

package engine

import (
	"crypto/sha256"
	"strings"
)

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English/code.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))

	// Whitespace-heavy text has fewer tokens per character.
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)

	// Minimum of 1 token for non-empty text.
	if estimated < 1 {
		return 1
	}

	return estimated
}

// tokensPerMessage covers per-message formatting overhead (role name,
// separators) in the chat template.
const tokensPerMessage = 4

// estimateMessageTokens counts one message: content, tool call payloads,
// and the fixed overhead.
func estimateMessageTokens(m Message) int {
	total := tokensPerMessage
	total += EstimateTokens(m.TextContent())
	for _, p := range m.Parts {
		if p.Type == PartImage {
			// Images are billed per tile by real providers; a flat
			// charge keeps the estimate deterministic.
			total += 512
		}
	}
	for _, tc := range m.ToolCalls {
		total += EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
	}
	if m.Name != "" {
		total += EstimateTokens(m.Name)
	}
	return total
}

// Estimator memoizes token estimates. History messages are keyed by their
// append sequence number, which is an identity key because messages are
// immutable once appended; tool definitions are keyed by a content hash
// so re-built definition lists still hit the cache.
type Estimator struct {
	messages map[uint64]int
	defs     map[[sha256.Size]byte]int
}

// NewEstimator returns an empty estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		messages: make(map[uint64]int),
		defs:     make(map[[sha256.Size]byte]int),
	}
}

// Estimate is the raw heuristic, exposed for callers sizing a bare string.
func (e *Estimator) Estimate(text string) int { return EstimateTokens(text) }

// EstimateMessages sums the estimates of every message in the history.
func (e *Estimator) EstimateMessages(h *History) int {
	total := 0
	for _, entry := range h.entries() {
		n, ok := e.messages[entry.seq]
		if !ok {
			n = estimateMessageTokens(entry.msg)
			e.messages[entry.seq] = n
		}
		total += n
	}
	return total
}

// EstimateToolDefinitions sums the estimates of the tool definitions sent
// with a request.
func (e *Estimator) EstimateToolDefinitions(defs []ToolDefinition) int {
	total := 0
	for _, def := range defs {
		key := sha256.Sum256([]byte(def.Name + "\x00" + def.Description + "\x00" + string(def.Schema)))
		n, ok := e.defs[key]
		if !ok {
			n = EstimateTokens(def.Name) + EstimateTokens(def.Description) + EstimateTokens(string(def.Schema))
			e.defs[key] = n
		}
		total += n
	}
	return total
}
