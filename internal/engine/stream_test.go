package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingSink captures everything the engine pushes to the UI. Shared
// by the decoder, dispatcher, and end-to-end tests.
type recordingSink struct {
	mu       sync.Mutex
	chunks   []string
	notices  []NoticeKind
	messages []string
	answer   Approval
	prompts  int
}

func (r *recordingSink) StreamChunk(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, s)
}

func (r *recordingSink) Notice(kind NoticeKind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, kind)
	r.messages = append(r.messages, msg)
}

func (r *recordingSink) AskApproval(_ context.Context, _ string, _ map[string]any) Approval {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts++
	return r.answer
}

func (r *recordingSink) BeforeUserPrompt() {}
func (r *recordingSink) BeforeAIPrompt()   {}

func (r *recordingSink) streamed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.chunks, "")
}

func (r *recordingSink) noticeCount(kind NoticeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.notices {
		if k == kind {
			n++
		}
	}
	return n
}

// streamFrom fabricates a StreamHandle over a fixed SSE payload.
func streamFrom(payload string, sig *CancelSignal) *StreamHandle {
	if sig == nil {
		sig = NewCancelSignal()
	}
	body := io.NopCloser(strings.NewReader(payload))
	h := &StreamHandle{
		lines:      make(chan streamLine, 64),
		activity:   newActivityReader(body),
		inactivity: 5 * time.Second,
		sig:        sig,
		cancel:     func() {},
		body:       body,
	}
	go h.pump()
	return h
}

func TestDecodeContent(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"finish_reason":"stop","delta":{}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	sink := &recordingSink{}
	d := NewStreamDecoder(sink)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Message.Content != "Hello" {
		t.Errorf("content = %q, want %q", resp.Message.Content, "Hello")
	}
	if resp.Finish != "stop" {
		t.Errorf("finish = %q, want stop", resp.Finish)
	}
	if len(resp.Message.ToolCalls) != 0 {
		t.Errorf("tool calls = %d, want 0", len(resp.Message.ToolCalls))
	}
	if got := sink.streamed(); got != "Hello" {
		t.Errorf("streamed = %q, want %q", got, "Hello")
	}
}

func TestDecodeWhitespaceGate(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"\n\n"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" "}}]}`,
		`data: {"choices":[{"delta":{"content":"world"}}]}`,
		`data: {"choices":[{"delta":{"content":"\n\n"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	sink := &recordingSink{}
	d := NewStreamDecoder(sink)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	// The UI sees neither the leading nor the trailing blank lines.
	if got := sink.streamed(); got != "Hello world" {
		t.Errorf("streamed = %q, want %q", got, "Hello world")
	}
	// The sealed message keeps the raw buffer.
	if resp.Message.Content != "\n\nHello world\n\n" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestDecodeReasoningFallback(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"reasoning":"thinking"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	d := NewStreamDecoder(nil)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Message.Content != "thinking" {
		t.Errorf("content = %q, want reasoning fallback", resp.Message.Content)
	}
}

func TestDecodeToolCallMerging(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"read_","arguments":"{\"pa"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"file","arguments":"th\":\"a\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":null,"function":{"name":"grep","arguments":null}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"finish_reason":"tool_calls","delta":{}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	d := NewStreamDecoder(nil)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	calls := resp.Message.ToolCalls
	if len(calls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(calls))
	}
	if calls[0].ID != "call_a" || calls[0].Name != "read_file" || calls[0].Arguments != `{"path":"a"}` {
		t.Errorf("call 0 = %+v", calls[0])
	}
	if calls[1].Name != "grep" || calls[1].Arguments != "{}" {
		t.Errorf("call 1 = %+v", calls[1])
	}
	// Null id fragments leave the id empty, so one is synthesized.
	if !strings.HasPrefix(calls[1].ID, "tool_call_1_") {
		t.Errorf("call 1 id = %q, want synthesized", calls[1].ID)
	}
}

func TestDecodeDropsBlankNameCalls(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	sink := &recordingSink{}
	d := NewStreamDecoder(sink)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(resp.Message.ToolCalls) != 0 {
		t.Errorf("nameless call should be dropped, got %+v", resp.Message.ToolCalls)
	}
	if sink.noticeCount(NoticeDiagnostic) != 1 {
		t.Errorf("diagnostic notices = %d, want 1", sink.noticeCount(NoticeDiagnostic))
	}
}

func TestDecodeSkipsUnparseableChunks(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"good"}}]}`,
		`data: {not json at all`,
		`: sse comment, skipped`,
		`event: ping`,
		`data: {"choices":[{"delta":{"content":" still good"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")

	sink := &recordingSink{}
	d := NewStreamDecoder(sink)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Message.Content != "good still good" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if sink.noticeCount(NoticeStreamDecode) != 1 {
		t.Errorf("decode notices = %d, want 1", sink.noticeCount(NoticeStreamDecode))
	}
}

func TestDecodeEOFWithUsage(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"done"}}]}`,
		`data: {"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
		``,
	}, "\n")

	d := NewStreamDecoder(nil)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err != nil {
		t.Fatalf("EOF with usage should succeed, got %v", err)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Message.Content != "done" {
		t.Errorf("content = %q", resp.Message.Content)
	}
}

func TestDecodeEOFWithFinishReason(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"done"}}]}`,
		`data: {"choices":[{"finish_reason":"stop","delta":{}}]}`,
		``,
	}, "\n")

	d := NewStreamDecoder(nil)
	if _, err := d.Decode(streamFrom(payload, nil)); err != nil {
		t.Fatalf("EOF with finish reason should succeed, got %v", err)
	}
}

func TestDecodeEOFWithoutCompletion(t *testing.T) {
	payload := `data: {"choices":[{"delta":{"content":"par"}}]}` + "\n"

	d := NewStreamDecoder(nil)
	resp, err := d.Decode(streamFrom(payload, nil))
	if err == nil {
		t.Fatal("bare EOF should fail as connection-dropped")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Class != RetryTransient {
		t.Errorf("error = %v, want transient transport error", err)
	}
	if resp.Message.Content != "par" {
		t.Errorf("partial content = %q, want %q", resp.Message.Content, "par")
	}
	if len(resp.Message.ToolCalls) != 0 {
		t.Error("partial message must not carry tool calls")
	}
}

func TestDecodeResetBetweenStreams(t *testing.T) {
	d := NewStreamDecoder(nil)

	first := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"first"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")
	resp, err := d.Decode(streamFrom(first, nil))
	if err != nil || resp.Message.Content != "first" {
		t.Fatalf("first decode = %q, %v", resp.Message.Content, err)
	}

	// A failed stream in between must not leak state either.
	if _, err := d.Decode(streamFrom(`data: {"choices":[{"delta":{"content":"junk"}}]}`+"\n", nil)); err == nil {
		t.Fatal("dropped stream should fail")
	}

	second := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"second"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")
	resp, err = d.Decode(streamFrom(second, nil))
	if err != nil {
		t.Fatalf("second decode error = %v", err)
	}
	if resp.Message.Content != "second" {
		t.Errorf("second decode content = %q, state leaked", resp.Message.Content)
	}
}

func TestDecodeSuppressEchoSkipsStreamedPrefix(t *testing.T) {
	sink := &recordingSink{}
	d := NewStreamDecoder(sink)

	dropped := `data: {"choices":[{"delta":{"content":"Hello wor"}}]}` + "\n"
	resp, err := d.Decode(streamFrom(dropped, nil))
	if err == nil {
		t.Fatal("dropped stream should fail")
	}
	if got := sink.streamed(); got != "Hello wor" {
		t.Fatalf("streamed before retry = %q", got)
	}

	d.SuppressEcho(len(resp.Message.Content))
	full := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n")
	resp, err = d.Decode(streamFrom(full, nil))
	if err != nil {
		t.Fatalf("second decode error = %v", err)
	}
	if resp.Message.Content != "Hello world" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	// Across both attempts the user sees the reply exactly once.
	if got := sink.streamed(); got != "Hello world" {
		t.Errorf("streamed across retry = %q, want %q", got, "Hello world")
	}
}

func TestDecodeCancelledReturnsPartial(t *testing.T) {
	sig := NewCancelSignal()
	// The stream never terminates on its own; cancellation must cut it.
	pr, pw := io.Pipe()
	h := &StreamHandle{
		lines:      make(chan streamLine, 64),
		activity:   newActivityReader(pr),
		inactivity: 5 * time.Second,
		sig:        sig,
		cancel:     func() {},
		body:       pr,
	}
	go h.pump()
	go func() {
		pw.Write([]byte(`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n"))
		time.Sleep(50 * time.Millisecond)
		sig.Raise()
		time.Sleep(200 * time.Millisecond)
		pw.Close()
	}()

	d := NewStreamDecoder(nil)
	start := time.Now()
	resp, err := d.Decode(h)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Decode() error = %v, want ErrCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Decode returned after %v", elapsed)
	}
	if resp.Message.Content != "Hel" {
		t.Errorf("partial content = %q, want %q", resp.Message.Content, "Hel")
	}
	h.Close()
}

func TestSealResponse(t *testing.T) {
	d := NewStreamDecoder(nil)
	p := &messagePayload{
		Role:    "assistant",
		Content: "hello",
		ToolCalls: []wireToolCall{
			{ID: "t1", Type: "function", Function: wireFunction{Name: "read_file", Arguments: `{"path":"a"}`}},
			{Type: "function", Function: wireFunction{Name: "grep", Arguments: "{}"}},
			{ID: "t3", Type: "function", Function: wireFunction{Arguments: "{}"}},
		},
	}
	msg := d.SealResponse(p)
	if msg.Role != RoleAssistant || msg.Content != "hello" {
		t.Errorf("sealed = %+v", msg)
	}
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2 (blank name dropped)", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].ID != "t1" {
		t.Errorf("kept id = %q", msg.ToolCalls[0].ID)
	}
	if !strings.HasPrefix(msg.ToolCalls[1].ID, "tool_call_1_") {
		t.Errorf("synthesized id = %q", msg.ToolCalls[1].ID)
	}
}

func TestSealResponseNil(t *testing.T) {
	d := NewStreamDecoder(nil)
	msg := d.SealResponse(nil)
	if msg.Role != RoleAssistant || msg.Content != "" || len(msg.ToolCalls) != 0 {
		t.Errorf("sealed nil payload = %+v", msg)
	}
}
