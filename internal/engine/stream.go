package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
)

// Response is one sealed model response: the assistant message plus the
// provider's finish reason and usage block when present.
type Response struct {
	Message Message
	Usage   *Usage
	Finish  string
}

// StreamDecoder reassembles one assistant message from a stream of SSE
// deltas. All per-decode state is cleared on entry and again on every
// exit path, so sequential decodes are independent; only the id sequence
// for synthesized tool call ids survives, keeping ids unique across the
// session.
type StreamDecoder struct {
	ui UISink

	content strings.Builder
	calls   map[int]*callAccumulator
	order   []int
	usage   *Usage
	finish  string
	sawDone bool

	// Whitespace gate for UI output: leading whitespace is dropped,
	// trailing whitespace is buffered until a printable rune follows.
	printed   bool
	pendingWS strings.Builder

	// suppress is the count of content bytes to swallow before anything
	// reaches the UI. Set between decodes, consumed by the next one.
	suppress int

	idSeq int
}

type callAccumulator struct {
	index int
	id    strings.Builder
	name  strings.Builder
	args  strings.Builder
}

// NewStreamDecoder returns a decoder that forwards display text to ui.
func NewStreamDecoder(ui UISink) *StreamDecoder {
	if ui == nil {
		ui = NopUISink{}
	}
	return &StreamDecoder{ui: ui, calls: make(map[int]*callAccumulator)}
}

func (d *StreamDecoder) reset() {
	d.content.Reset()
	d.calls = make(map[int]*callAccumulator)
	d.order = nil
	d.usage = nil
	d.finish = ""
	d.sawDone = false
	d.printed = false
	d.pendingWS.Reset()
}

func (d *StreamDecoder) nextSyntheticID(index int) string {
	d.idSeq++
	return fmt.Sprintf("tool_call_%d_%d", index, d.idSeq)
}

// Decode consumes the stream until [DONE], a clean EOF, an error, or
// cancellation. On cancellation or a dropped connection it returns the
// partially decoded message (content only, tool calls discarded) together
// with the error, so the caller can keep what the user already saw.
func (d *StreamDecoder) Decode(h *StreamHandle) (Response, error) {
	d.reset()
	defer d.reset()
	defer func() { d.suppress = 0 }()

	for {
		line, err := h.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Response{Message: d.sealPartial()}, err
		}

		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			d.sawDone = true
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.ui.Notice(NoticeStreamDecode, fmt.Sprintf("dropping unparseable stream chunk: %v", err))
			continue
		}
		d.merge(&chunk)
	}

	// A stream may end without [DONE]: that is still success when the
	// provider signalled logical completion through a finish reason or a
	// usage block. Anything else is a dropped connection.
	if !d.sawDone && d.finish == "" && d.usage == nil {
		return Response{Message: d.sealPartial()}, newStreamDroppedError()
	}

	return Response{Message: d.seal(), Usage: d.usage, Finish: d.finish}, nil
}

func (d *StreamDecoder) merge(chunk *chatResponse) {
	if chunk.Usage != nil {
		u := *chunk.Usage
		d.usage = &u
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		d.finish = choice.FinishReason
	}
	delta := choice.Delta
	if delta == nil {
		return
	}

	switch {
	case delta.Content != nil && *delta.Content != "":
		d.content.WriteString(*delta.Content)
		d.forward(*delta.Content)
	case delta.Reasoning != nil && *delta.Reasoning != "":
		// Reasoning-only providers: fall back to the reasoning channel
		// so the user still sees output.
		d.content.WriteString(*delta.Reasoning)
		d.forward(*delta.Reasoning)
	}

	for _, tc := range delta.ToolCalls {
		acc, ok := d.calls[tc.Index]
		if !ok {
			acc = &callAccumulator{index: tc.Index}
			d.calls[tc.Index] = acc
			d.order = append(d.order, tc.Index)
		}
		// Null fragments count as empty strings; non-null fragments are
		// concatenated in arrival order.
		if tc.ID != nil {
			acc.id.WriteString(*tc.ID)
		}
		if tc.Function.Name != nil {
			acc.name.WriteString(*tc.Function.Name)
		}
		if tc.Function.Arguments != nil {
			acc.args.WriteString(*tc.Function.Arguments)
		}
	}
}

// SuppressEcho makes the next decode swallow the first n content bytes
// before anything reaches the UI. The retry loop uses it so a resent
// request does not re-stream the prefix the user already saw; history
// still receives the full reply.
func (d *StreamDecoder) SuppressEcho(n int) { d.suppress = n }

// forward hands content to the whitespace gate, first swallowing any
// prefix an earlier attempt of the same request already streamed.
func (d *StreamDecoder) forward(text string) {
	if d.suppress > 0 {
		if len(text) < d.suppress {
			d.suppress -= len(text)
			return
		}
		text = text[d.suppress:]
		d.suppress = 0
		// The suppressed prefix was already displayed, so whatever
		// follows continues mid-stream and must not be re-trimmed.
		d.printed = true
		if text == "" {
			return
		}
	}
	d.emit(text)
}

// emit forwards display text through the whitespace gate: whitespace
// before the first printable rune is dropped, trailing whitespace is held
// back until more printable text arrives, and whatever is still held when
// the stream ends is discarded with the decoder state.
func (d *StreamDecoder) emit(text string) {
	if !d.printed {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
		if text == "" {
			return
		}
		d.printed = true
	}
	body := strings.TrimRightFunc(text, unicode.IsSpace)
	if body == "" {
		d.pendingWS.WriteString(text)
		return
	}
	if d.pendingWS.Len() > 0 {
		d.ui.StreamChunk(d.pendingWS.String())
		d.pendingWS.Reset()
	}
	d.ui.StreamChunk(body)
	d.pendingWS.WriteString(text[len(body):])
}

// seal builds the finished assistant message. Tool calls are ordered by
// index; calls whose name never arrived are dropped because nothing could
// answer them.
func (d *StreamDecoder) seal() Message {
	msg := Message{Role: RoleAssistant, Content: d.content.String()}
	if len(d.order) == 0 {
		return msg
	}
	indices := append([]int(nil), d.order...)
	sort.Ints(indices)
	for _, idx := range indices {
		acc := d.calls[idx]
		name := acc.name.String()
		if name == "" {
			d.ui.Notice(NoticeDiagnostic, fmt.Sprintf("dropping tool call %d: no function name arrived", idx))
			continue
		}
		id := acc.id.String()
		if id == "" {
			id = d.nextSyntheticID(idx)
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        id,
			Name:      name,
			Arguments: acc.args.String(),
		})
	}
	return msg
}

// sealPartial keeps decoded content but discards incomplete tool calls.
func (d *StreamDecoder) sealPartial() Message {
	return Message{Role: RoleAssistant, Content: d.content.String()}
}

// SealResponse converts a non-streaming response message into the
// history shape, applying the same id synthesis and blank-name rules as
// the streaming path.
func (d *StreamDecoder) SealResponse(p *messagePayload) Message {
	msg := Message{Role: RoleAssistant}
	if p == nil {
		return msg
	}
	msg.Content = p.Content
	if msg.Content == "" && p.Reasoning != "" {
		msg.Content = p.Reasoning
	}
	for i, tc := range p.ToolCalls {
		if tc.Function.Name == "" {
			d.ui.Notice(NoticeDiagnostic, fmt.Sprintf("dropping tool call %d: no function name", i))
			continue
		}
		id := tc.ID
		if id == "" {
			id = d.nextSyntheticID(i)
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}
