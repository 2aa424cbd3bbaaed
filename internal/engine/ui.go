package engine

import "context"

// NoticeKind labels out-of-band messages the engine pushes to the UI.
type NoticeKind string

const (
	NoticeAuthFailed        NoticeKind = "auth-failed"
	NoticeBadRequest        NoticeKind = "bad-request"
	NoticeRateLimited       NoticeKind = "rate-limited"
	NoticeServerTransient   NoticeKind = "server-transient"
	NoticeHTTPTimeout       NoticeKind = "http-timeout"
	NoticeConnectionDropped NoticeKind = "connection-dropped"
	NoticeStreamDecode      NoticeKind = "stream-decode-error"
	NoticeToolParse         NoticeKind = "tool-parse-error"
	NoticeToolExec          NoticeKind = "tool-exec-error"
	NoticeCancelled         NoticeKind = "cancelled"
	// NoticeDiagnostic carries non-error diagnostics, e.g. a tool
	// definition whose parameters schema had to be replaced.
	NoticeDiagnostic NoticeKind = "diagnostic"
)

// Approval is the user's answer to an approval prompt.
type Approval int

const (
	ApprovalDeny Approval = iota
	ApprovalOnce
	ApprovalSession
)

// UISink is everything the engine needs from the surrounding user
// interface. The engine never prints; it hands text and events to the
// sink. Implementations must tolerate calls from the turn goroutine only.
type UISink interface {
	// StreamChunk delivers a piece of assistant text as it arrives.
	StreamChunk(s string)
	// Notice delivers an out-of-band message (errors, retries, hints).
	Notice(kind NoticeKind, msg string)
	// AskApproval blocks until the user answers an approval prompt. The
	// context is cancelled when the turn is cancelled.
	AskApproval(ctx context.Context, toolName string, args map[string]any) Approval
	// BeforeUserPrompt runs right before the UI reads the next user line.
	BeforeUserPrompt()
	// BeforeAIPrompt runs right before assistant output starts.
	BeforeAIPrompt()
}

// NopUISink discards everything. Approval prompts deny, which keeps
// unattended runs safe.
type NopUISink struct{}

func (NopUISink) StreamChunk(string)                                         {}
func (NopUISink) Notice(NoticeKind, string)                                  {}
func (NopUISink) AskApproval(context.Context, string, map[string]any) Approval { return ApprovalDeny }
func (NopUISink) BeforeUserPrompt()                                          {}
func (NopUISink) BeforeAIPrompt()                                            {}
