// Package memory exposes the persistent note store as agent tools.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moabird/moa/internal/engine"
	memstore "github.com/moabird/moa/internal/memory"
	"github.com/moabird/moa/internal/tools"
)

const maxSearchResults = 20

// Register adds memory_save and memory_search to the registry.
func Register(reg *tools.Registry, store *memstore.Store) error {
	constructors := []func(*memstore.Store) (engine.ToolDefinition, tools.Handler){
		newSaveTool,
		newSearchTool,
	}
	for _, construct := range constructors {
		def, h := construct(store)
		if err := reg.Register(def, h); err != nil {
			return err
		}
	}
	return nil
}

func newSaveTool(store *memstore.Store) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "memory_save",
		Kind:        engine.ToolInternal,
		Description: "Save a durable note about this codebase or the user's preferences. Notes persist across sessions; add tags to make them easier to find.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "The fact to remember, one self-contained sentence or two"},
				"tags": {"type": "array", "items": {"type": "string"}, "description": "Short lowercase labels, e.g. build, style, deploy"}
			},
			"required": ["text"]
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		note, err := store.Save(ctx, tools.StringArg(args, "text"), tools.StringsArg(args, "tags"))
		if err != nil {
			return engine.ToolOutput{}, err
		}
		return engine.ToolOutput{Content: "Saved note " + note.ID}, nil
	}
	return def, h
}

func newSearchTool(store *memstore.Store) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "memory_search",
		Kind:        engine.ToolInternal,
		Description: "Search saved notes with a full-text query. Returns the best matches with relevance scores.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Words to search for"},
				"k": {"type": "integer", "minimum": 1, "maximum": 20, "description": "How many results, default 5"}
			},
			"required": ["query"]
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		query := tools.StringArg(args, "query")
		if strings.TrimSpace(query) == "" {
			return engine.ToolOutput{}, fmt.Errorf("query must not be empty")
		}
		k := tools.IntArg(args, "k", 5, 1)
		if k > maxSearchResults {
			k = maxSearchResults
		}

		hits, err := store.Search(ctx, query, k)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		if len(hits) == 0 {
			return engine.ToolOutput{Content: fmt.Sprintf("No saved notes match %q.", query)}, nil
		}

		var b strings.Builder
		for i, hit := range hits {
			fmt.Fprintf(&b, "%d. [%.2f] %s", i+1, hit.Score, hit.Note.Text)
			if len(hit.Note.Tags) > 0 {
				fmt.Fprintf(&b, " (tags: %s)", strings.Join(hit.Note.Tags, ", "))
			}
			b.WriteByte('\n')
		}
		return engine.ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
	}
	return def, h
}
