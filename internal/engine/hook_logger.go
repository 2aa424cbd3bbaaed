package engine

import (
	"context"
	"log"
	"time"
)

type LoggerHook struct{ L *log.Logger }

func (h LoggerHook) OnTurnStart(_ context.Context, prompt string) {
	h.L.Printf("turn start: prompt=%d chars", len(prompt))
}
func (h LoggerHook) OnRequest(_ context.Context, messages int, promptTokens int, estimated bool) {
	marker := ""
	if estimated {
		marker = "~"
	}
	h.L.Printf("request: %d msgs | prompt tokens=%s%d", messages, marker, promptTokens)
}
func (h LoggerHook) OnResponse(_ context.Context, finish string, usage Usage) {
	h.L.Printf("finish=%s tokens: prompt=%d completion=%d total=%d",
		finish, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}
func (h LoggerHook) OnToolCall(_ context.Context, c ToolCall) {
	args := c.Arguments
	if len(args) > 200 {
		args = args[:200] + "..."
	}
	h.L.Printf("tool → %s args=%s", c.Name, args)
}
func (h LoggerHook) OnToolResult(_ context.Context, c ToolCall, r ToolResult) {
	if r.IsError {
		h.L.Printf("tool %s error: %s", c.Name, r.Content)
		return
	}
	preview := r.Content
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.L.Printf("tool %s result: %s", c.Name, preview)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, attempt int, maxAttempts int, delay time.Duration, err error) {
	if maxAttempts == 0 {
		h.L.Printf("retry attempt=%d delay=%v error=%v", attempt, delay, err)
		return
	}
	h.L.Printf("retry attempt=%d/%d delay=%v error=%v", attempt, maxAttempts, delay, err)
}
func (h LoggerHook) OnRetryExhausted(_ context.Context, err error) {
	h.L.Printf("retries exhausted: %v", err)
}
func (h LoggerHook) OnModeChange(_ context.Context, planActive bool) {
	if planActive {
		h.L.Printf("mode: plan")
	} else {
		h.L.Printf("mode: build")
	}
}
func (h LoggerHook) OnTurnEnd(_ context.Context, st Stats) {
	h.L.Printf("turn end: requests=%d tool_calls=%d tokens=%d/%d",
		st.APIRequests, st.ToolCalls, st.PromptTokens, st.CompletionTokens)
}
