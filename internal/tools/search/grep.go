// Package search provides the grep tool, a gitignore-aware regular
// expression search over the workspace tree.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/workspace"
)

const (
	defaultMaxResults = 100
	maxSearchBytes    = 1 << 20
)

// Register adds the grep tool to the registry.
func Register(reg *tools.Registry, tr *workspace.Tracker) error {
	def, h := newGrepTool(tr)
	return reg.Register(def, h)
}

func newGrepTool(tr *workspace.Tracker) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "grep",
		Kind:        engine.ToolInternal,
		Description: "Search file contents with a regular expression (Go syntax). Returns path:line: text for each match, honoring gitignore rules.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Regular expression to search for"},
				"path": {"type": "string", "description": "Directory to search, relative to the workspace root; defaults to the root"},
				"glob": {"type": "string", "description": "Only search files whose name matches this glob, e.g. *.go"},
				"case_insensitive": {"type": "boolean"},
				"max_results": {"type": "integer", "minimum": 1, "description": "Stop after this many matches, default 100"}
			},
			"required": ["pattern"]
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		raw := tools.StringArg(args, "pattern")
		if raw == "" {
			return engine.ToolOutput{}, fmt.Errorf("pattern must not be empty")
		}
		pattern := raw
		if tools.BoolArg(args, "case_insensitive") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return engine.ToolOutput{}, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}

		glob := tools.StringArg(args, "glob")
		if glob != "" {
			if _, err := filepath.Match(glob, "probe"); err != nil {
				return engine.ToolOutput{}, fmt.Errorf("invalid glob %q", glob)
			}
		}

		dir := tools.StringArg(args, "path")
		if dir == "" {
			dir = "."
		}
		start, err := tr.Resolve(dir)
		if err != nil {
			return engine.ToolOutput{}, err
		}

		maxResults := tools.IntArg(args, "max_results", defaultMaxResults, 1)
		var matches []string
		truncated := false

		err = filepath.WalkDir(start, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			rel, err := filepath.Rel(tr.Root(), p)
			if err != nil {
				return nil
			}
			if p != start && tr.Ignored(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if glob != "" {
				if ok, _ := filepath.Match(glob, d.Name()); !ok {
					return nil
				}
			}
			if info, err := d.Info(); err != nil || info.Size() > maxSearchBytes {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil || !utf8.Valid(data) {
				return nil
			}

			for i, line := range strings.Split(string(data), "\n") {
				if !re.MatchString(line) {
					continue
				}
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxResults {
					truncated = true
					return filepath.SkipAll
				}
			}
			return nil
		})
		if err != nil {
			return engine.ToolOutput{}, err
		}

		if len(matches) == 0 {
			return engine.ToolOutput{Content: fmt.Sprintf("No matches for %q", raw)}, nil
		}
		out := strings.Join(matches, "\n")
		if truncated {
			out += fmt.Sprintf("\n... stopped at %d matches, narrow the pattern or raise max_results", maxResults)
		}
		return engine.ToolOutput{Content: out}, nil
	}
	return def, h
}
