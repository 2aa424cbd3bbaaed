package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/workspace"
)

func newWriteTool(tr *workspace.Tracker) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "write_file",
		Kind:        engine.ToolInternal,
		Description: "Create or overwrite a file with the given content. Parent directories are created as needed. Prefer edit_file for small changes to existing files.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the workspace root"},
				"content": {"type": "string", "description": "Full content to write"}
			},
			"required": ["path", "content"]
		}`),
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		path := tools.StringArg(args, "path")
		abs, err := tr.Resolve(path)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if tr.Stale(path) {
			return engine.ToolOutput{}, fmt.Errorf("%s changed on disk after it was last read, read it again before overwriting", path)
		}

		exists := false
		if info, err := os.Stat(abs); err == nil {
			if info.IsDir() {
				return engine.ToolOutput{}, fmt.Errorf("%s is a directory", path)
			}
			exists = true
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return engine.ToolOutput{}, fmt.Errorf("create parent directory for %s: %w", path, err)
		}
		content := tools.StringArg(args, "content")
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return engine.ToolOutput{}, fmt.Errorf("write %s: %w", path, err)
		}
		tr.MarkRead(path)

		verb := "Created"
		if exists {
			verb = "Overwrote"
		}
		return engine.ToolOutput{Content: fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content))}, nil
	}
	return def, h
}
