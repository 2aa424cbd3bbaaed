package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Turn runs one line of user input through the conversation loop.
func (e *Engine) Turn(ctx context.Context, input string) (UsageSnapshot, error) {
	return e.TurnMessage(ctx, NewTextMessage(RoleUser, input))
}

// TurnMessage runs a prepared user message, which may be multipart. The
// loop sends the history, appends the model's reply, dispatches its tool
// calls, and repeats until a reply arrives without tool calls. The
// returned snapshot sums the usage of every round-trip in the turn.
func (e *Engine) TurnMessage(ctx context.Context, msg Message) (UsageSnapshot, error) {
	started := time.Now()
	e.sig.Lower()
	e.attempt = 0

	e.hooks.OnTurnStart(ctx, msg.TextContent())
	defer func() { e.hooks.OnTurnEnd(ctx, e.stats.Snapshot()) }()

	if reminder := e.mode.Reminder(); reminder != "" {
		if msg.Multipart() {
			msg.Parts = append(msg.Parts, ContentPart{Type: PartText, Text: reminder})
		} else {
			msg.Content += "\n\n" + reminder
		}
	}
	if err := e.history.AppendUser(msg); err != nil {
		return UsageSnapshot{}, err
	}

	var total UsageSnapshot
	finish := func() (UsageSnapshot, error) {
		total.WallTime = time.Since(started)
		return total, nil
	}

	for step := 0; e.maxSteps == 0 || step < e.maxSteps; step++ {
		if e.sig.Raised() {
			e.ui.Notice(NoticeCancelled, "cancelled by user")
			return finish()
		}

		resp, promptEst, err := e.exchange(ctx)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				if aerr := e.keepPartial(resp.Message); aerr != nil {
					return total, aerr
				}
				e.ui.Notice(NoticeCancelled, "cancelled by user")
				return finish()
			}
			e.failTurn(err)
			total.WallTime = time.Since(started)
			return total, err
		}

		if err := e.history.AppendAssistant(resp.Message); err != nil {
			return total, err
		}
		snap := e.accountUsage(resp.Usage, promptEst, resp.Message)
		total.PromptTokens += snap.PromptTokens
		total.CompletionTokens += snap.CompletionTokens
		total.Estimated = total.Estimated || snap.Estimated

		if len(resp.Message.ToolCalls) == 0 {
			return finish()
		}

		results := e.dispatcher.RunAll(ctx, resp.Message.ToolCalls)
		if err := e.appendResults(resp.Message, results); err != nil {
			return total, err
		}
	}
	return finish()
}

// exchange performs one round-trip with the retry wrapper. The request
// body is built once and resent verbatim on every retry, so the model
// sees identical tool-call expectations. The second return value is the
// estimated prompt size of the request.
func (e *Engine) exchange(ctx context.Context) (Response, int, error) {
	defs := e.mode.FilterDefinitions(e.registry.Definitions())
	body, err := e.builder.Build(e.history, defs, e.cfg.Streaming, false)
	if err != nil {
		return Response{}, 0, err
	}
	promptEst := e.estimator.EstimateMessages(e.history) + e.estimator.EstimateToolDefinitions(defs)
	e.hooks.OnRequest(ctx, e.history.Len(), promptEst, true)
	e.ui.BeforeAIPrompt()

	// High-water mark of content bytes already streamed to the UI by
	// failed attempts of this exchange.
	echoed := 0
	for {
		if e.sig.Raised() {
			return Response{}, promptEst, ErrCancelled
		}

		e.stats.recordRequest()
		begun := time.Now()
		resp, err := e.roundTrip(ctx, body)
		elapsed := time.Since(begun)
		if err == nil {
			e.stats.recordSuccess(elapsed)
			e.attempt = 0
			e.hooks.OnResponse(ctx, resp.Finish, usageOrZero(resp.Usage))
			return resp, promptEst, nil
		}
		if errors.Is(err, ErrCancelled) {
			return resp, promptEst, ErrCancelled
		}
		e.stats.recordError(elapsed)

		if !Classify(err).Retryable() {
			e.ui.Notice(noticeKindFor(err), err.Error())
			return Response{}, promptEst, err
		}
		if e.policy.Exhausted(e.attempt) {
			wrapped := &RetryExhaustedError{Err: err, Attempts: e.attempt + 1}
			e.hooks.OnRetryExhausted(ctx, wrapped)
			e.ui.Notice(noticeKindFor(err), wrapped.Error())
			return Response{}, promptEst, wrapped
		}

		// A dropped stream may already have shown part of the reply. The
		// retry decodes the resent request with that prefix suppressed so
		// the user does not see it twice. Trailing whitespace is excluded
		// because the display gate held it back.
		if n := len(strings.TrimRightFunc(resp.Message.Content, unicode.IsSpace)); n > echoed {
			echoed = n
		}
		if echoed > 0 {
			e.decoder.SuppressEcho(echoed)
		}

		delay := e.policy.DelayFor(err, e.attempt)
		e.ui.Notice(noticeKindFor(err), fmt.Sprintf("%v; retrying in %s", err, delay.Round(time.Millisecond)))
		e.hooks.OnRetryAttempt(ctx, e.attempt+1, e.policy.MaxAttempts, delay, err)
		e.attempt++
		if !e.policy.Sleep(e.sig, delay) {
			return Response{}, promptEst, ErrCancelled
		}
	}
}

// roundTrip performs one attempt, streamed or plain.
func (e *Engine) roundTrip(ctx context.Context, body []byte) (Response, error) {
	if !e.cfg.Streaming {
		resp, err := e.transport.Send(ctx, body)
		if err != nil {
			return Response{}, err
		}
		if len(resp.Choices) == 0 {
			return Response{}, errors.New("response carried no choices")
		}
		choice := resp.Choices[0]
		msg := e.decoder.SealResponse(choice.Message)
		if text := strings.TrimSpace(msg.Content); text != "" {
			e.ui.StreamChunk(text)
		}
		return Response{Message: msg, Usage: resp.Usage, Finish: choice.FinishReason}, nil
	}

	handle, err := e.transport.Open(ctx, body)
	if err != nil {
		return Response{}, err
	}
	defer handle.Close()
	return e.decoder.Decode(handle)
}

// keepPartial appends whatever content arrived before cancellation, with
// incomplete tool calls discarded, so the user keeps what they saw.
func (e *Engine) keepPartial(msg Message) error {
	if msg.Content == "" {
		return nil
	}
	msg.Role = RoleAssistant
	msg.ToolCalls = nil
	return e.history.AppendAssistant(msg)
}

// failTurn records a fatal transport failure as a synthetic assistant
// message so the conversation survives the error. The notice was already
// emitted by the retry wrapper.
func (e *Engine) failTurn(err error) {
	msg := Message{Role: RoleAssistant, Kind: KindError, Content: "Error: " + err.Error()}
	if aerr := e.history.AppendAssistant(msg); aerr != nil {
		e.ui.Notice(NoticeDiagnostic, fmt.Sprintf("could not record error message: %v", aerr))
	}
}

// accountUsage folds one round-trip's usage into Stats and the running
// prompt size. The provider's prompt count is authoritative only when
// TrustUsage is set; otherwise sizes come from the local estimator and
// are flagged as such. Prompt size is never updated on failure, so it
// only advances.
func (e *Engine) accountUsage(usage *Usage, promptEst int, msg Message) UsageSnapshot {
	snap := UsageSnapshot{Estimated: usage == nil}
	if usage != nil {
		snap.PromptTokens = usage.PromptTokens
		snap.CompletionTokens = usage.CompletionTokens
	} else {
		snap.PromptTokens = promptEst
		snap.CompletionTokens = estimateMessageTokens(msg)
	}
	e.stats.recordTokens(snap.PromptTokens, snap.CompletionTokens)

	if usage != nil && e.cfg.TrustUsage && usage.PromptTokens > 0 {
		e.history.setPromptSize(usage.PromptTokens, false)
		e.stats.recordPromptSize(usage.PromptTokens, false)
	} else {
		defs := e.mode.FilterDefinitions(e.registry.Definitions())
		est := e.estimator.EstimateMessages(e.history) + e.estimator.EstimateToolDefinitions(defs)
		e.history.setPromptSize(est, true)
		e.stats.recordPromptSize(est, true)
	}
	return snap
}

// appendResults writes a batch of tool results to history in original
// call order, then any guidance the tools produced. Guidance waits until
// the whole batch is answered so no user message lands between an
// assistant message and its tool results.
func (e *Engine) appendResults(assistant Message, results []ToolResult) error {
	var guidance []string
	for i, r := range results {
		if err := e.history.AppendTool(r.ToolCallID, assistant.ToolCalls[i].Name, r.Content); err != nil {
			return err
		}
		e.stats.recordToolResult(r.IsError)
		if r.Guidance != "" {
			guidance = append(guidance, r.Guidance)
		}
	}
	for _, g := range guidance {
		if err := e.history.AppendUser(NewTextMessage(RoleUser, g)); err != nil {
			return err
		}
	}
	return nil
}

func usageOrZero(u *Usage) Usage {
	if u == nil {
		return Usage{}
	}
	return *u
}
