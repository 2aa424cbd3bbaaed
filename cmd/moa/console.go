package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/moabird/moa/internal/engine"
)

// lineReader hands out whole lines from one shared bufio.Scanner. The
// REPL prompt and the approval prompt both read from it, so a single
// owner keeps their reads from interleaving.
type lineReader struct {
	mu sync.Mutex
	sc *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &lineReader{sc: sc}
}

// Next returns the next input line. ok is false once the input closes.
func (l *lineReader) Next() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sc.Scan() {
		return "", false
	}
	return l.sc.Text(), true
}

// consoleSink renders engine output on the terminal. Streamed text goes
// to stdout; notices and approval prompts go to stderr so redirecting
// stdout still leaves them visible.
type consoleSink struct {
	out    io.Writer
	errOut io.Writer
	lines  *lineReader
}

func (c *consoleSink) StreamChunk(s string) { fmt.Fprint(c.out, s) }

func (c *consoleSink) Notice(kind engine.NoticeKind, msg string) {
	fmt.Fprintf(c.errOut, "\n[%s] %s\n", kind, msg)
}

func (c *consoleSink) BeforeUserPrompt() {}

func (c *consoleSink) BeforeAIPrompt() { fmt.Fprint(c.out, "\nmoa> ") }

// AskApproval reads the verdict from the shared line reader. The read
// ignores ctx: a cancelled turn still consumes the pending answer, so
// the next prompt starts on a clean line instead of eating input.
func (c *consoleSink) AskApproval(ctx context.Context, toolName string, args map[string]any) engine.Approval {
	if ctx.Err() != nil {
		return engine.ApprovalDeny
	}
	fmt.Fprintf(c.errOut, "\napprove %s%s? [y]es once / [a]lways / [N]o: ", toolName, renderArgs(args))
	answer, ok := c.lines.Next()
	if !ok {
		return engine.ApprovalDeny
	}
	return approvalFromAnswer(answer)
}

func approvalFromAnswer(s string) engine.Approval {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return engine.ApprovalOnce
	case "a", "always":
		return engine.ApprovalSession
	default:
		return engine.ApprovalDeny
	}
}

const argPreviewLimit = 300

// renderArgs shows the call arguments on the approval prompt, clipped
// so a large file write does not flood the terminal.
func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return " " + clip(string(data), argPreviewLimit)
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
