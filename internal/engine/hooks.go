package engine

import (
	"context"
	"time"
)

// Hook observes the life of a turn. Implementations must not block; the
// engine calls them inline on the turn goroutine.
type Hook interface {
	OnTurnStart(ctx context.Context, prompt string)
	OnRequest(ctx context.Context, messages int, promptTokens int, estimated bool)
	OnResponse(ctx context.Context, finish string, usage Usage)
	OnToolCall(ctx context.Context, call ToolCall)
	OnToolResult(ctx context.Context, call ToolCall, result ToolResult)
	OnRetryAttempt(ctx context.Context, attempt int, maxAttempts int, delay time.Duration, err error)
	OnRetryExhausted(ctx context.Context, err error)
	OnModeChange(ctx context.Context, planActive bool)
	OnTurnEnd(ctx context.Context, stats Stats)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnTurnStart(context.Context, string)                            {}
func (NopHook) OnRequest(context.Context, int, int, bool)                      {}
func (NopHook) OnResponse(context.Context, string, Usage)                      {}
func (NopHook) OnToolCall(context.Context, ToolCall)                           {}
func (NopHook) OnToolResult(context.Context, ToolCall, ToolResult)             {}
func (NopHook) OnRetryAttempt(context.Context, int, int, time.Duration, error) {}
func (NopHook) OnRetryExhausted(context.Context, error)                        {}
func (NopHook) OnModeChange(context.Context, bool)                             {}
func (NopHook) OnTurnEnd(context.Context, Stats)                               {}
