// Package engine implements the conversation engine: it owns message
// history, talks to an OpenAI-compatible chat-completions endpoint over
// streamed or plain HTTP, parses tool calls out of the response, dispatches
// them through a pluggable tool registry, and loops until the model yields
// a final assistant message.
package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageKind distinguishes synthetic messages from model output.
type MessageKind string

// KindError marks an assistant message fabricated by the engine after a
// fatal transport error, so the UI and the history snapshot can tell it
// apart from real model output.
const KindError MessageKind = "error"

// PartType is the discriminator for multipart message content.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multipart user or assistant message.
// Text parts carry Text; image parts carry MIME and raw Data (base64 in
// JSON form).
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	MIME string   `json:"mime,omitempty"`
	Data []byte   `json:"data,omitempty"`
}

// Message is one entry in the conversation history. Content holds plain
// text; Parts, when non-empty, holds multipart content and takes
// precedence on the wire. Messages are never mutated after they are
// appended to history.
type Message struct {
	Role       Role          `json:"role"`
	Kind       MessageKind   `json:"kind,omitempty"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// NewTextMessage builds a plain text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

// NewToolMessage builds the tool message answering one tool call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Name: name, Content: content}
}

// Multipart reports whether the message carries content parts.
func (m Message) Multipart() bool { return len(m.Parts) > 0 }

// TextContent returns the textual content of the message: Content for
// plain messages, the concatenated text parts for multipart ones.
func (m Message) TextContent() string {
	if !m.Multipart() {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCall is a model-emitted request to invoke a named tool. Arguments is
// the exact string the model produced; it is parsed only by the
// dispatcher, so malformed JSON surfaces as a tool result instead of an
// engine failure. ID is unique within its assistant message; the engine
// synthesizes one when the provider omits it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of one dispatched tool call. Hidden results
// are kept in history but not displayed. Guidance, when non-empty, is
// appended to history as a user message after all results of the batch,
// steering the next request.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Hidden     bool   `json:"hidden,omitempty"`
	Guidance   string `json:"guidance,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolKind selects the execution path for a tool.
type ToolKind string

const (
	// ToolInternal runs a registered function in-process.
	ToolInternal ToolKind = "internal"
	// ToolCommand spawns a subprocess from an argv template.
	ToolCommand ToolKind = "command"
	// ToolJSONRPC posts a JSON-RPC 2.0 request to an HTTP endpoint.
	ToolJSONRPC ToolKind = "jsonrpc"
	// ToolMCPStdio calls a tool on a long-lived MCP stdio server.
	ToolMCPStdio ToolKind = "mcp-stdio"
)

// PlanPolicy declares how a tool behaves while plan mode is active.
// PlanDefault defers to the built-in write-kind deny-list.
type PlanPolicy int

const (
	PlanDefault PlanPolicy = iota
	PlanAllowed
	PlanBlocked
)

// ToolFunc is the implementation of an internal tool.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// ToolOutput is what an internal tool invocation produces: the content
// appended to history, plus optional guidance the dispatcher forwards as
// a user message once the whole batch is answered.
type ToolOutput struct {
	Content  string
	Guidance string
}

// ToolDefinition describes one tool the model may call. Schema is what the
// model sees; the engine checks only that tool arguments are well-formed
// JSON, never their values.
type ToolDefinition struct {
	Name        string
	Kind        ToolKind
	Description string
	Schema      json.RawMessage

	// Approval policy.
	AutoApproved              bool
	ApprovalKey               func(args map[string]any) string
	ApprovalExcludesArguments bool
	ApprovalIgnoredFields     []string

	// Presentation and gating.
	HideResults bool
	PlanPolicy  PlanPolicy
	Serialize   bool

	// EncodeBinary makes the dispatcher base64-encode results that are
	// not valid UTF-8 instead of replacing the bad bytes. Internal tools
	// only.
	EncodeBinary bool

	// Kind-specific configuration.
	Command  []string      // argv template for ToolCommand; {name} tokens substitute args
	Endpoint string        // URL for ToolJSONRPC
	Server   string        // server name for ToolMCPStdio
	Remote   string        // tool name on the MCP server (defaults to Name)
	Timeout  time.Duration // per-invocation cap for command/jsonrpc kinds
}

// Usage is the token accounting block an OpenAI-compatible provider may
// attach to a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageSnapshot summarizes the cost of one successful turn. Estimated is
// true when the numbers come from the local token estimator rather than a
// provider usage block.
type UsageSnapshot struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Estimated        bool          `json:"estimated"`
	WallTime         time.Duration `json:"wall_time"`
}

// ToolRegistry is the engine's view of the tool set.
type ToolRegistry interface {
	// Definitions returns every registered tool in registration order.
	Definitions() []ToolDefinition
	// Resolve looks up one tool by name.
	Resolve(name string) (ToolDefinition, bool)
	// InvokeInternal runs an internal tool with parsed arguments.
	InvokeInternal(ctx context.Context, name string, args map[string]any) (ToolOutput, error)
}

// MCPCaller relays a tool call to an already-launched MCP stdio server.
// The dispatcher serializes calls per server; implementations only need to
// survive sequential use per server name.
type MCPCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}
