package engine

import (
	"encoding/json"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{
			name: "empty",
			text: "",
			want: 0,
		},
		{
			name: "short word",
			text: "hello",
			want: 1, // 5 chars / 4 = 1
		},
		{
			name: "sentence",
			text: "hello world this is a test",
			want: 6, // 26 chars / 4 = 6 + whitespace/6 ~ 0 = 6
		},
		{
			name: "code snippet",
			text: "func main() { fmt.Println(\"hello\") }",
			want: 9, // 36 chars / 4 = 9 + whitespace/6 ~ 0 = 9
		},
		{
			name: "single char floors to one",
			text: "a",
			want: 1,
		},
		{
			name: "whitespace heavy",
			text: "a b c d e f g h i j k l m n o p q r s t u v w x y z",
			want: 16, // 51 runes / 4 = 12 + 25 spaces / 6 = 4
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.text)
			if got != tt.want {
				t.Errorf("EstimateTokens() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	msg := NewTextMessage(RoleUser, "abcdefgh")
	if got, want := estimateMessageTokens(msg), tokensPerMessage+2; got != want {
		t.Errorf("plain message = %d, want %d", got, want)
	}

	plain := estimateMessageTokens(Message{Role: RoleAssistant})
	withCalls := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "t1", Name: "read_file", Arguments: `{"path":"main.go"}`},
		},
	}
	if got := estimateMessageTokens(withCalls); got <= plain {
		t.Errorf("tool calls did not add to the estimate: %d <= %d", got, plain)
	}

	withImage := Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Type: PartText, Text: "look at this"},
			{Type: PartImage, MIME: "image/png", Data: []byte{1, 2, 3}},
		},
	}
	if got := estimateMessageTokens(withImage); got < 512 {
		t.Errorf("image part estimate = %d, want at least the flat image charge", got)
	}
}

func TestEstimateMessagesMemoized(t *testing.T) {
	h := NewHistory()
	if err := h.AppendSystem("you are terse"); err != nil {
		t.Fatal(err)
	}
	if err := h.AppendUser(NewTextMessage(RoleUser, "hello there, engine")); err != nil {
		t.Fatal(err)
	}

	e := NewEstimator()
	first := e.EstimateMessages(h)
	if first <= 0 {
		t.Fatalf("estimate = %d, want positive", first)
	}
	if got := e.EstimateMessages(h); got != first {
		t.Errorf("second estimate = %d, want %d", got, first)
	}
	if len(e.messages) != 2 {
		t.Errorf("cached %d messages, want 2", len(e.messages))
	}

	if err := h.AppendAssistant(NewTextMessage(RoleAssistant, "hi")); err != nil {
		t.Fatal(err)
	}
	grown := e.EstimateMessages(h)
	if grown <= first {
		t.Errorf("estimate after append = %d, want more than %d", grown, first)
	}
	if len(e.messages) != 3 {
		t.Errorf("cached %d messages after append, want 3", len(e.messages))
	}
}

func TestEstimateToolDefinitionsCached(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "read_file", Description: "Read a file from disk", Schema: json.RawMessage(`{"type":"object"}`)},
		{Name: "grep", Description: "Search file contents", Schema: json.RawMessage(`{"type":"object"}`)},
	}
	e := NewEstimator()
	first := e.EstimateToolDefinitions(defs)
	if first <= 0 {
		t.Fatalf("estimate = %d, want positive", first)
	}

	// A rebuilt slice with identical content must hit the cache.
	rebuilt := []ToolDefinition{
		{Name: "read_file", Description: "Read a file from disk", Schema: json.RawMessage(`{"type":"object"}`)},
		{Name: "grep", Description: "Search file contents", Schema: json.RawMessage(`{"type":"object"}`)},
	}
	if got := e.EstimateToolDefinitions(rebuilt); got != first {
		t.Errorf("rebuilt defs estimate = %d, want %d", got, first)
	}
	if len(e.defs) != 2 {
		t.Errorf("cached %d definitions, want 2", len(e.defs))
	}

	changed := append(rebuilt, ToolDefinition{Name: "write_file", Description: "Write a file", Schema: json.RawMessage(`{"type":"object"}`)})
	if got := e.EstimateToolDefinitions(changed); got <= first {
		t.Errorf("extended defs estimate = %d, want more than %d", got, first)
	}
}
