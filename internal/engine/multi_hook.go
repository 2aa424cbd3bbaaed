package engine

import (
	"context"
	"time"
)

type Hooks []Hook

func (hs Hooks) OnTurnStart(ctx context.Context, prompt string) {
	for _, h := range hs {
		h.OnTurnStart(ctx, prompt)
	}
}
func (hs Hooks) OnRequest(ctx context.Context, messages int, promptTokens int, estimated bool) {
	for _, h := range hs {
		h.OnRequest(ctx, messages, promptTokens, estimated)
	}
}
func (hs Hooks) OnResponse(ctx context.Context, finish string, usage Usage) {
	for _, h := range hs {
		h.OnResponse(ctx, finish, usage)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, call ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, call)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, call ToolCall, result ToolResult) {
	for _, h := range hs {
		h.OnToolResult(ctx, call, result)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, attempt int, maxAttempts int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, attempt, maxAttempts, delay, err)
	}
}
func (hs Hooks) OnRetryExhausted(ctx context.Context, err error) {
	for _, h := range hs {
		h.OnRetryExhausted(ctx, err)
	}
}
func (hs Hooks) OnModeChange(ctx context.Context, planActive bool) {
	for _, h := range hs {
		h.OnModeChange(ctx, planActive)
	}
}
func (hs Hooks) OnTurnEnd(ctx context.Context, stats Stats) {
	for _, h := range hs {
		h.OnTurnEnd(ctx, stats)
	}
}
