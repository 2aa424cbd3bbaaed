package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire types for the OpenAI-compatible chat completions request. Optional
// sampling fields are pointers so omitted knobs never reach the provider.

type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []wireMessage  `json:"messages"`
	Temperature       *float64       `json:"temperature,omitempty"`
	TopP              *float64       `json:"top_p,omitempty"`
	TopK              *int           `json:"top_k,omitempty"`
	RepetitionPenalty *float64       `json:"repetition_penalty,omitempty"`
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
	StreamOptions     *streamOptions `json:"stream_options,omitempty"`
	Tools             []wireTool     `json:"tools,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// emptyParameters replaces a tool schema that is not valid JSON.
var emptyParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// RequestBuilder assembles request bodies from history, config and the
// active tool list.
type RequestBuilder struct {
	cfg Config
	ui  UISink
}

// NewRequestBuilder returns a builder bound to the config and UI sink.
func NewRequestBuilder(cfg Config, ui UISink) *RequestBuilder {
	if ui == nil {
		ui = NopUISink{}
	}
	return &RequestBuilder{cfg: cfg, ui: ui}
}

// Build marshals one request. defs is the tool list already filtered for
// the current mode; it is dropped entirely when disableTools is set.
// Sampling knobs follow the inclusion rules: temperature whenever set,
// top_p only when not 1.0, top_k only when not 0, repetition_penalty only
// when not 1.0.
func (b *RequestBuilder) Build(h *History, defs []ToolDefinition, streaming, disableTools bool) ([]byte, error) {
	req := chatRequest{
		Model:    b.cfg.Model,
		Messages: make([]wireMessage, 0, h.Len()),
	}
	for _, entry := range h.entries() {
		req.Messages = append(req.Messages, toWireMessage(entry.msg))
	}

	if v := b.cfg.Temperature; v != nil {
		req.Temperature = v
	}
	if v := b.cfg.TopP; v != nil && *v != 1.0 {
		req.TopP = v
	}
	if v := b.cfg.TopK; v != nil && *v != 0 {
		req.TopK = v
	}
	if v := b.cfg.RepetitionPenalty; v != nil && *v != 1.0 {
		req.RepetitionPenalty = v
	}
	if v := b.cfg.MaxTokens; v != nil {
		req.MaxTokens = v
	}

	if streaming {
		req.Stream = true
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if !disableTools && len(defs) > 0 {
		req.Tools = make([]wireTool, 0, len(defs))
		for _, def := range defs {
			req.Tools = append(req.Tools, b.toWireTool(def))
		}
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

// toWireTool converts a definition, substituting an empty object schema
// when the declared parameters are not serializable JSON. That is a
// diagnostic, never a hard failure: the model just sees an argument-less
// tool.
func (b *RequestBuilder) toWireTool(def ToolDefinition) wireTool {
	params := def.Schema
	if len(params) == 0 || !json.Valid(params) {
		b.ui.Notice(NoticeDiagnostic, fmt.Sprintf("tool %s has a malformed parameters schema; sending an empty one", def.Name))
		params = emptyParameters
	}
	return wireTool{
		Type: "function",
		Function: wireFunctionDef{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		},
	}
}

// toWireMessage converts a history message to the provider shape. Two
// provider quirks: an assistant message whose content is empty but which
// carries tool calls sends a single space (several gateways reject null
// content), and an empty tool result sends "{}".
func toWireMessage(m Message) wireMessage {
	w := wireMessage{Role: string(m.Role)}

	switch {
	case m.Multipart():
		parts := make([]wirePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case PartImage:
				uri := "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
				parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: uri}})
			default:
				parts = append(parts, wirePart{Type: "text", Text: p.Text})
			}
		}
		w.Content = parts
	default:
		w.Content = m.Content
	}

	switch m.Role {
	case RoleAssistant:
		if len(m.ToolCalls) > 0 {
			if m.Content == "" && !m.Multipart() {
				w.Content = " "
			}
			w.ToolCalls = make([]wireToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				w.ToolCalls = append(w.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		}
	case RoleTool:
		w.ToolCallID = m.ToolCallID
		w.Name = m.Name
		if m.Content == "" {
			w.Content = "{}"
		}
	}

	return w
}
