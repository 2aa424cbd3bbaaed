package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/workspace"
)

const (
	defaultReadLimit = 2000
	maxReadBytes     = 5 << 20
)

func newReadTool(tr *workspace.Tracker) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "read_file",
		Kind:        engine.ToolInternal,
		Description: "Read a file and return its content as numbered lines. Use offset and limit to window large files.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the workspace root"},
				"offset": {"type": "integer", "minimum": 1, "description": "1-based line number to start from"},
				"limit": {"type": "integer", "minimum": 1, "description": "Maximum number of lines to return"}
			},
			"required": ["path"]
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		path := tools.StringArg(args, "path")
		abs, err := tr.Resolve(path)
		if err != nil {
			return engine.ToolOutput{}, err
		}

		info, err := os.Stat(abs)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if info.IsDir() {
			return engine.ToolOutput{}, fmt.Errorf("%s is a directory, use list_files instead", path)
		}
		if info.Size() > maxReadBytes {
			return engine.ToolOutput{}, fmt.Errorf("%s is %d bytes, too large to read; use grep to locate the part you need", path, info.Size())
		}

		// Check before MarkRead refreshes the stamp, so the model is
		// told when the content it remembers is out of date.
		changed := tr.Stale(path)

		data, err := os.ReadFile(abs)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if !utf8.Valid(data) {
			return engine.ToolOutput{}, fmt.Errorf("%s is not a text file", path)
		}

		lines := splitLines(string(data))
		offset := tools.IntArg(args, "offset", 1, 1)
		limit := tools.IntArg(args, "limit", defaultReadLimit, 1)

		if len(lines) == 0 {
			tr.MarkRead(path)
			return engine.ToolOutput{Content: "(file is empty)"}, nil
		}
		if offset > len(lines) {
			return engine.ToolOutput{}, fmt.Errorf("offset %d is past the end of %s (%d lines)", offset, path, len(lines))
		}

		end := offset - 1 + limit
		if end > len(lines) {
			end = len(lines)
		}
		tr.MarkRead(path)

		var b strings.Builder
		if changed {
			b.WriteString("Note: this file changed on disk after it was last read. The content below is current.\n")
		}
		for i, line := range lines[offset-1 : end] {
			fmt.Fprintf(&b, "%6d\t%s\n", offset+i, line)
		}
		if rest := len(lines) - end; rest > 0 {
			fmt.Fprintf(&b, "... %d more lines, call read_file with offset=%d to continue", rest, end+1)
		}
		return engine.ToolOutput{Content: b.String()}, nil
	}
	return def, h
}

// splitLines drops the empty element a trailing newline produces, so
// line counts match what an editor shows.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
