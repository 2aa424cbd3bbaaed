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

func newEditTool(tr *workspace.Tracker) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "edit_file",
		Kind:        engine.ToolInternal,
		Description: "Replace an exact string in a file. old_string must match the file byte for byte, including indentation; read the file first and copy the text exactly. Set replace_all to change every occurrence.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the workspace root"},
				"old_string": {"type": "string", "description": "Exact text to replace"},
				"new_string": {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace every occurrence instead of requiring a unique match"}
			},
			"required": ["path", "old_string", "new_string"]
		}`),
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		path := tools.StringArg(args, "path")
		abs, err := tr.Resolve(path)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if tr.Stale(path) {
			return engine.ToolOutput{}, fmt.Errorf("%s changed on disk after it was last read, read it again before editing", path)
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if !utf8.Valid(data) {
			return engine.ToolOutput{}, fmt.Errorf("%s is not a text file", path)
		}
		content := string(data)

		if marker, ok := generatedMarker(content); ok {
			return engine.ToolOutput{}, fmt.Errorf("%s looks generated (found %q), edit the generator instead", path, marker)
		}

		old := tools.StringArg(args, "old_string")
		replacement := tools.StringArg(args, "new_string")
		if old == "" {
			return engine.ToolOutput{}, fmt.Errorf("old_string must not be empty")
		}
		if old == replacement {
			return engine.ToolOutput{}, fmt.Errorf("old_string and new_string are identical")
		}

		count := strings.Count(content, old)
		if count == 0 {
			return engine.ToolOutput{}, notFoundError(path, content, old)
		}
		replaceAll := tools.BoolArg(args, "replace_all")
		if count > 1 && !replaceAll {
			return engine.ToolOutput{}, fmt.Errorf("old_string appears %d times in %s, add surrounding context to make it unique or set replace_all", count, path)
		}

		n := 1
		if replaceAll {
			n = count
		}
		updated := strings.Replace(content, old, replacement, n)
		if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
			return engine.ToolOutput{}, fmt.Errorf("write %s: %w", path, err)
		}
		tr.MarkRead(path)

		return engine.ToolOutput{Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", n, path)}, nil
	}
	return def, h
}

// notFoundError explains why an exact match failed. The usual culprit
// is indentation copied loosely, so the hint names what the file
// actually indents with.
func notFoundError(path, content, old string) error {
	normalize := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	if strings.Contains(normalize(content), normalize(old)) {
		return fmt.Errorf("old_string not found in %s: the text exists with different whitespace, copy it exactly from read_file output", path)
	}
	if indent := detectIndentation(content); indent != "" {
		return fmt.Errorf("old_string not found in %s: check the exact text, the file indents with %s", path, indent)
	}
	return fmt.Errorf("old_string not found in %s", path)
}

func detectIndentation(content string) string {
	switch {
	case strings.Contains(content, "\n\t"):
		return "tabs"
	case strings.Contains(content, "\n    "):
		return "4 spaces"
	case strings.Contains(content, "\n  "):
		return "2 spaces"
	}
	return ""
}

// generatedMarker scans the head of the file for markers that
// conventionally flag machine-written code.
func generatedMarker(content string) (string, bool) {
	head := content
	if len(head) > 500 {
		head = head[:500]
	}
	markers := []string{
		"Code generated",
		"DO NOT EDIT",
		"Auto-generated",
		"automatically generated",
	}
	for _, marker := range markers {
		if strings.Contains(head, marker) {
			return marker, true
		}
	}
	return "", false
}
