package engine

import (
	"errors"
	"fmt"
)

// History is the ordered conversation log for one session. It is owned by
// the engine and mutated only on the turn goroutine. Appends enforce the
// structural invariants: index 0 is the single system message, and every
// tool call of an assistant message is answered exactly once before any
// other non-tool message follows.
type History struct {
	items   []histEntry
	nextSeq uint64

	// Unanswered tool call ids of the most recent assistant message.
	pending map[string]bool

	// Prompt size as of the last round-trip. Advances only; an API
	// failure leaves it untouched.
	promptSize          int
	promptSizeEstimated bool
}

type histEntry struct {
	msg Message
	seq uint64
}

// NewHistory returns an empty history. AppendSystem must run before any
// other append.
func NewHistory() *History {
	return &History{pending: make(map[string]bool)}
}

func (h *History) entries() []histEntry { return h.items }

// Len returns the number of messages.
func (h *History) Len() int { return len(h.items) }

// Messages returns the messages in order. The slice is a copy; the
// messages themselves are shared and must not be mutated.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.items))
	for i, e := range h.items {
		out[i] = e.msg
	}
	return out
}

// Last returns the final message, if any.
func (h *History) Last() (Message, bool) {
	if len(h.items) == 0 {
		return Message{}, false
	}
	return h.items[len(h.items)-1].msg, true
}

func (h *History) push(msg Message) {
	h.nextSeq++
	h.items = append(h.items, histEntry{msg: msg, seq: h.nextSeq})
}

// AppendSystem seeds the history with its single system message.
func (h *History) AppendSystem(text string) error {
	if len(h.items) > 0 {
		return errors.New("history already has a system message")
	}
	h.push(NewTextMessage(RoleSystem, text))
	return nil
}

// AppendUser appends a user message. It fails while tool calls are still
// unanswered, which keeps every tool result ahead of the next user input.
func (h *History) AppendUser(msg Message) error {
	if len(h.items) == 0 {
		return errors.New("history has no system message")
	}
	if msg.Role != RoleUser {
		return fmt.Errorf("appendUser got role %q", msg.Role)
	}
	if len(h.pending) > 0 {
		return fmt.Errorf("%d tool calls still unanswered", len(h.pending))
	}
	h.push(msg)
	return nil
}

// AppendAssistant appends an assistant message and registers its tool
// calls as pending.
func (h *History) AppendAssistant(msg Message) error {
	if len(h.items) == 0 {
		return errors.New("history has no system message")
	}
	if msg.Role != RoleAssistant {
		return fmt.Errorf("appendAssistant got role %q", msg.Role)
	}
	if len(h.pending) > 0 {
		return fmt.Errorf("%d tool calls still unanswered", len(h.pending))
	}
	for _, tc := range msg.ToolCalls {
		if h.pending[tc.ID] {
			return fmt.Errorf("duplicate tool call id %q", tc.ID)
		}
		h.pending[tc.ID] = true
	}
	h.push(msg)
	return nil
}

// AppendTool answers one pending tool call.
func (h *History) AppendTool(toolCallID, name, content string) error {
	if !h.pending[toolCallID] {
		return fmt.Errorf("tool call id %q is not awaiting a result", toolCallID)
	}
	delete(h.pending, toolCallID)
	h.push(NewToolMessage(toolCallID, name, content))
	return nil
}

// PendingToolCalls reports how many tool calls still need answers.
func (h *History) PendingToolCalls() int { return len(h.pending) }

// Snapshot returns a deep copy of the messages, suitable for persisting.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.items))
	for i, e := range h.items {
		out[i] = copyMessage(e.msg)
	}
	return out
}

func copyMessage(m Message) Message {
	cp := m
	if m.ToolCalls != nil {
		cp.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Parts != nil {
		cp.Parts = make([]ContentPart, len(m.Parts))
		for i, p := range m.Parts {
			cp.Parts[i] = p
			if p.Data != nil {
				cp.Parts[i].Data = append([]byte(nil), p.Data...)
			}
		}
	}
	return cp
}

// Restore replaces the history with a persisted snapshot after validating
// it. Trailing unanswered tool calls are re-registered as pending so a
// resumed turn picks up where it stopped.
func (h *History) Restore(msgs []Message) error {
	if err := ValidateHistory(msgs); err != nil {
		return err
	}
	h.items = nil
	h.pending = make(map[string]bool)
	for _, m := range msgs {
		h.push(copyMessage(m))
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == RoleTool {
			continue
		}
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			answered := make(map[string]bool)
			for j := i + 1; j < len(msgs); j++ {
				if msgs[j].Role == RoleTool {
					answered[msgs[j].ToolCallID] = true
				}
			}
			for _, tc := range m.ToolCalls {
				if !answered[tc.ID] {
					h.pending[tc.ID] = true
				}
			}
		}
		break
	}
	return nil
}

// Reset clears the history for a fresh session.
func (h *History) Reset() {
	h.items = nil
	h.pending = make(map[string]bool)
	h.promptSize = 0
	h.promptSizeEstimated = false
}

// PromptSize returns the last recorded prompt size and whether it was
// estimated locally.
func (h *History) PromptSize() (int, bool) {
	return h.promptSize, h.promptSizeEstimated
}

func (h *History) setPromptSize(size int, estimated bool) {
	h.promptSize = size
	h.promptSizeEstimated = estimated
}

// ValidateHistory checks the structural invariants of a message sequence:
// a single leading system message, no orphaned tool messages, and every
// tool call answered exactly once before the next user message.
func ValidateHistory(msgs []Message) error {
	if len(msgs) == 0 {
		return errors.New("history is empty")
	}
	if msgs[0].Role != RoleSystem {
		return errors.New("history does not start with a system message")
	}
	pending := make(map[string]bool)
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if i != 0 {
				return fmt.Errorf("extra system message at index %d", i)
			}
		case RoleTool:
			if !pending[m.ToolCallID] {
				return fmt.Errorf("orphaned tool message at index %d (id %q)", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		case RoleUser:
			if len(pending) > 0 {
				return fmt.Errorf("user message at index %d before %d tool calls were answered", i, len(pending))
			}
		case RoleAssistant:
			if len(pending) > 0 {
				return fmt.Errorf("assistant message at index %d before %d tool calls were answered", i, len(pending))
			}
			for _, tc := range m.ToolCalls {
				if pending[tc.ID] {
					return fmt.Errorf("duplicate tool call id %q at index %d", tc.ID, i)
				}
				pending[tc.ID] = true
			}
		default:
			return fmt.Errorf("unknown role %q at index %d", m.Role, i)
		}
	}
	return nil
}
