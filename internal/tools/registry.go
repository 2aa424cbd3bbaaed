// Package tools hosts the registry the conversation engine dispatches
// against. Built-in tools register a definition plus a handler; command
// and MCP tools register a definition only, and the engine runs them
// through its own dispatch paths.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/moabird/moa/internal/engine"
)

// Handler executes an internal tool call and returns its output.
type Handler func(ctx context.Context, args map[string]any) (engine.ToolOutput, error)

// Registry maps tool names to definitions and handlers. It implements
// engine.ToolRegistry.
type Registry struct {
	mu       sync.RWMutex
	defs     []engine.ToolDefinition
	index    map[string]int
	handlers map[string]Handler
	schemas  map[string]*gojsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		index:    make(map[string]int),
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. Internal tools must carry a handler, other
// kinds must not. The parameter schema is compiled here so a broken
// schema fails at startup rather than on first call.
func (r *Registry) Register(def engine.ToolDefinition, h Handler) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if def.Kind == "" {
		def.Kind = engine.ToolInternal
	}
	if def.Kind == engine.ToolInternal && h == nil {
		return fmt.Errorf("internal tool %q has no handler", def.Name)
	}
	if def.Kind != engine.ToolInternal && h != nil {
		return fmt.Errorf("%s tool %q cannot carry a handler", def.Kind, def.Name)
	}

	var schema *gojsonschema.Schema
	if len(def.Schema) > 0 {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.Schema))
		if err != nil {
			return fmt.Errorf("tool %q has an invalid parameter schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	r.index[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	if h != nil {
		r.handlers[def.Name] = h
	}
	if schema != nil {
		r.schemas[def.Name] = schema
	}
	return nil
}

// RegisterFunc registers an internal tool whose handler produces plain
// text with no guidance.
func (r *Registry) RegisterFunc(def engine.ToolDefinition, fn engine.ToolFunc) error {
	return r.Register(def, func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		content, err := fn(ctx, args)
		if err != nil {
			return engine.ToolOutput{}, err
		}
		return engine.ToolOutput{Content: content}, nil
	})
}

// Definitions returns all registered tools in registration order.
func (r *Registry) Definitions() []engine.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]engine.ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (engine.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return engine.ToolDefinition{}, false
	}
	return r.defs[i], true
}

// InvokeInternal validates the arguments against the tool's schema and
// runs its handler. Schema violations come back as the tool result, not
// as an error, so the model sees what to fix and can retry the call.
func (r *Registry) InvokeInternal(ctx context.Context, name string, args map[string]any) (engine.ToolOutput, error) {
	r.mu.RLock()
	i, ok := r.index[name]
	var def engine.ToolDefinition
	if ok {
		def = r.defs[i]
	}
	h := r.handlers[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return engine.ToolOutput{}, fmt.Errorf("unknown tool %q", name)
	}
	if def.Kind != engine.ToolInternal || h == nil {
		return engine.ToolOutput{}, fmt.Errorf("tool %q is not an internal tool", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if schema != nil {
		result, err := schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return engine.ToolOutput{}, fmt.Errorf("validating arguments for %s: %w", name, err)
		}
		if !result.Valid() {
			return engine.ToolOutput{Content: validationMessage(name, result)}, nil
		}
	}
	return h(ctx, args)
}

func validationMessage(name string, result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	sort.Strings(msgs)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: invalid arguments for %s:", name)
	for _, m := range msgs {
		b.WriteString("\n- ")
		b.WriteString(m)
	}
	return b.String()
}
