// Package reasoning provides the agent's scratchpad tools. Neither
// touches the filesystem: think keeps working notes out of the visible
// transcript, and plan records an execution plan the user can review.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
)

// Register adds the think and plan tools to the registry.
func Register(reg *tools.Registry) error {
	constructors := []func() (engine.ToolDefinition, tools.Handler){
		newThinkTool,
		newPlanTool,
	}
	for _, construct := range constructors {
		def, h := construct()
		if err := reg.Register(def, h); err != nil {
			return err
		}
	}
	return nil
}

func newThinkTool() (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "think",
		Kind:        engine.ToolInternal,
		Description: "Record your reasoning before acting. Use it to work through a problem, note a discovery, or weigh options. The thought stays in the conversation but is not shown to the user.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"thought": {"type": "string", "description": "What you are thinking, concretely: files, symbols, next steps"}
			},
			"required": ["thought"]
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
		HideResults:  true,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		if strings.TrimSpace(tools.StringArg(args, "thought")) == "" {
			return engine.ToolOutput{}, fmt.Errorf("thought must not be empty")
		}
		return engine.ToolOutput{Content: "Noted."}, nil
	}
	return def, h
}

func newPlanTool() (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "plan",
		Kind:        engine.ToolInternal,
		Description: "Record an execution plan before starting non-trivial work. Write numbered steps that name the files and functions involved, so the user can review the approach.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"plan": {"type": "string", "description": "The plan, as numbered steps"}
			},
			"required": ["plan"]
		}`),
		AutoApproved: true,
		PlanPolicy:   engine.PlanAllowed,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		text := strings.TrimSpace(tools.StringArg(args, "plan"))
		if text == "" {
			return engine.ToolOutput{}, fmt.Errorf("plan must not be empty")
		}
		return engine.ToolOutput{Content: "Plan recorded:\n\n" + text}, nil
	}
	return def, h
}
