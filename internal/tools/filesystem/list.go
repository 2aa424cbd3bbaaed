package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/workspace"
)

const (
	defaultListDepth = 3
	defaultListLimit = 500
)

func newListTool(tr *workspace.Tracker) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "list_files",
		Kind:        engine.ToolInternal,
		Description: "List files and directories under a path, honoring gitignore rules. Directories end with a slash.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list, relative to the workspace root; defaults to the root"},
				"max_depth": {"type": "integer", "minimum": 1, "description": "How many levels to descend, default 3"},
				"limit": {"type": "integer", "minimum": 1, "description": "Maximum number of entries, default 500"}
			}
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		path := tools.StringArg(args, "path")
		if path == "" {
			path = "."
		}
		abs, err := tr.Resolve(path)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if !info.IsDir() {
			return engine.ToolOutput{}, fmt.Errorf("%s is not a directory", path)
		}

		maxDepth := tools.IntArg(args, "max_depth", defaultListDepth, 1)
		limit := tools.IntArg(args, "limit", defaultListLimit, 1)

		var entries []string
		truncated := false
		err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
			if err != nil || p == abs {
				return nil
			}
			relRoot, err := filepath.Rel(tr.Root(), p)
			if err != nil {
				return nil
			}
			if tr.Ignored(relRoot) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(abs, p)
			if err != nil {
				return nil
			}
			name := rel
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
			if len(entries) >= limit {
				truncated = true
				return filepath.SkipAll
			}

			depth := strings.Count(rel, string(filepath.Separator)) + 1
			if d.IsDir() && depth >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil {
			return engine.ToolOutput{}, fmt.Errorf("walk %s: %w", path, err)
		}

		if len(entries) == 0 {
			return engine.ToolOutput{Content: "(empty directory)"}, nil
		}
		sort.Strings(entries)

		out := strings.Join(entries, "\n")
		if truncated {
			out += fmt.Sprintf("\n... truncated at %d entries, list a subdirectory or raise the limit", limit)
		}
		return engine.ToolOutput{Content: out}, nil
	}
	return def, h
}
