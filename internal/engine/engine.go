package engine

import (
	"context"
	"errors"
)

// Options wires an Engine together. Config must pass Validate. UI, MCP,
// and Hooks may be nil.
type Options struct {
	Config   Config
	UI       UISink
	Registry ToolRegistry
	MCP      MCPCaller
	Hooks    []Hook

	// WorkDir is where command tools run; empty inherits the process
	// working directory.
	WorkDir string

	// MaxSteps caps the assistant/tool iterations of one turn; zero
	// means unbounded.
	MaxSteps int
}

// Engine owns one conversation: the message history, the transport to an
// OpenAI-compatible endpoint, and the tool dispatch pipeline. Turn and
// the other mutating methods must be called from a single goroutine;
// Cancel and Signal are safe from any.
type Engine struct {
	cfg      Config
	ui       UISink
	registry ToolRegistry
	hooks    Hooks

	sig        *CancelSignal
	history    *History
	stats      *Stats
	approvals  *ApprovalCache
	mode       *ModeGate
	estimator  *Estimator
	builder    *RequestBuilder
	transport  *TransportClient
	decoder    *StreamDecoder
	dispatcher *ToolDispatcher
	policy     RetryPolicy

	// attempt is the retry counter shared across the whole turn; a
	// successful response resets it.
	attempt  int
	maxSteps int
}

// New builds an Engine and seeds its history with the system prompt.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		return nil, errors.New("engine: nil tool registry")
	}
	ui := opts.UI
	if ui == nil {
		ui = NopUISink{}
	}

	sig := NewCancelSignal()
	hooks := Hooks(opts.Hooks)
	e := &Engine{
		cfg:       cfg,
		ui:        ui,
		registry:  opts.Registry,
		hooks:     hooks,
		sig:       sig,
		history:   NewHistory(),
		stats:     &Stats{},
		approvals: NewApprovalCache(),
		mode:      NewModeGate(),
		estimator: NewEstimator(),
		builder:   NewRequestBuilder(cfg, ui),
		transport: NewTransportClient(cfg, sig),
		decoder:   NewStreamDecoder(ui),
		policy:    cfg.retryPolicy(),
		maxSteps:  opts.MaxSteps,
	}
	if err := e.history.AppendSystem(cfg.SystemPrompt); err != nil {
		return nil, err
	}
	e.dispatcher = NewToolDispatcher(DispatcherOptions{
		Registry:  opts.Registry,
		Approvals: e.approvals,
		Mode:      e.mode,
		UI:        ui,
		Signal:    sig,
		MCP:       opts.MCP,
		YoloMode:  cfg.YoloMode,
		Hooks:     hooks,
		WorkDir:   opts.WorkDir,
	})
	return e, nil
}

// History exposes the conversation for saving and inspection.
func (e *Engine) History() *History { return e.history }

// Stats returns a copy of the session counters.
func (e *Engine) Stats() Stats { return e.stats.Snapshot() }

// Signal returns the cancel signal consumers may watch or raise.
func (e *Engine) Signal() *CancelSignal { return e.sig }

// Cancel aborts the in-flight turn at its next poll point.
func (e *Engine) Cancel() { e.sig.Raise() }

// ResetApprovals forgets every session-scoped tool approval.
func (e *Engine) ResetApprovals() { e.approvals.RevokeAll() }

// PlanModeActive reports whether the engine is in its read-only posture.
func (e *Engine) PlanModeActive() bool { return e.mode.PlanActive() }

// EnterPlanMode switches to the read-only posture. It reports whether the
// state changed.
func (e *Engine) EnterPlanMode(ctx context.Context) bool {
	if !e.mode.EnterPlan() {
		return false
	}
	e.hooks.OnModeChange(ctx, true)
	return true
}

// ExitPlanMode returns to the full tool set. It reports whether the state
// changed.
func (e *Engine) ExitPlanMode(ctx context.Context) bool {
	if !e.mode.ExitPlan() {
		return false
	}
	e.hooks.OnModeChange(ctx, false)
	return true
}

// Restore replaces the conversation with a previously saved snapshot.
func (e *Engine) Restore(msgs []Message) error {
	return e.history.Restore(msgs)
}

// Complete runs a one-shot helper completion outside the conversation:
// non-streaming, no tools, quiet. History and Stats are untouched, so it
// is safe to call between turns for summarization and similar chores.
func (e *Engine) Complete(ctx context.Context, system, prompt string) (string, error) {
	scratch := NewHistory()
	if err := scratch.AppendSystem(system); err != nil {
		return "", err
	}
	if err := scratch.AppendUser(NewTextMessage(RoleUser, prompt)); err != nil {
		return "", err
	}
	body, err := e.builder.Build(scratch, nil, false, true)
	if err != nil {
		return "", err
	}
	resp, err := e.transport.Send(ctx, body)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", errors.New("completion response carried no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		return msg.Content, nil
	}
	return msg.Reasoning, nil
}
