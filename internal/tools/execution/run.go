// Package execution provides the run_command tool, which executes
// shell commands through the configured sandbox, and a pair of
// read-only git helpers the engine runs as plain subprocesses.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/sandbox"
	"github.com/moabird/moa/internal/tools"
)

const (
	defaultTimeoutSecs = 120
	maxTimeoutSecs     = 600
	maxOutputBytes     = 48 * 1024
)

// Register adds run_command and the git helpers to the registry.
func Register(reg *tools.Registry, runner sandbox.Runner, root string) error {
	def, h := newRunTool(runner, root)
	if err := reg.Register(def, h); err != nil {
		return err
	}
	for _, def := range gitTools() {
		if err := reg.Register(def, nil); err != nil {
			return err
		}
	}
	return nil
}

func newRunTool(runner sandbox.Runner, root string) (engine.ToolDefinition, tools.Handler) {
	def := engine.ToolDefinition{
		Name:        "run_command",
		Kind:        engine.ToolInternal,
		Description: "Run a shell command in the workspace and return its output and exit status. Commands run inside the configured sandbox.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to execute"},
				"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 600, "description": "Deadline for the command, default 120"}
			},
			"required": ["command"]
		}`),
		PlanPolicy: engine.PlanBlocked,
	}

	h := func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
		command := tools.StringArg(args, "command")
		if strings.TrimSpace(command) == "" {
			return engine.ToolOutput{}, fmt.Errorf("command must not be empty")
		}
		secs := tools.IntArg(args, "timeout_seconds", defaultTimeoutSecs, 1)
		if secs > maxTimeoutSecs {
			secs = maxTimeoutSecs
		}
		timeout := time.Duration(secs) * time.Second

		res, err := runner.Run(ctx, root, command, timeout)
		if err != nil && res == (sandbox.Result{}) {
			return engine.ToolOutput{}, err
		}
		return engine.ToolOutput{Content: formatResult(res, timeout)}, nil
	}
	return def, h
}

// formatResult renders a command outcome for the model. Nonzero exits
// and timeouts are reported in the content rather than as errors, so
// the model can read the output and react.
func formatResult(res sandbox.Result, timeout time.Duration) string {
	var b strings.Builder
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		b.WriteString(clip(out))
	}
	if errOut := strings.TrimRight(res.Stderr, "\n"); errOut != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("stderr:\n")
		b.WriteString(clip(errOut))
	}
	if b.Len() == 0 {
		b.WriteString("(no output)")
	}

	if res.TimedOut {
		fmt.Fprintf(&b, "\ncommand timed out after %s", timeout)
	} else if res.Code != 0 {
		fmt.Fprintf(&b, "\nexit status %d", res.Code)
	}
	return b.String()
}

func clip(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... output truncated"
}

// gitTools returns read-only git commands the engine can execute
// directly, without a sandbox round trip.
func gitTools() []engine.ToolDefinition {
	emptySchema := json.RawMessage(`{"type": "object", "properties": {}}`)
	return []engine.ToolDefinition{
		{
			Name:         "git_status",
			Kind:         engine.ToolCommand,
			Description:  "Show the git working tree status, short format.",
			Schema:       emptySchema,
			Command:      []string{"git", "status", "--short", "--branch"},
			AutoApproved: true,
			PlanPolicy:   engine.PlanAllowed,
			Timeout:      10 * time.Second,
		},
		{
			Name:         "git_diff",
			Kind:         engine.ToolCommand,
			Description:  "Show unstaged changes in the working tree.",
			Schema:       emptySchema,
			Command:      []string{"git", "diff"},
			AutoApproved: true,
			PlanPolicy:   engine.PlanAllowed,
			Timeout:      15 * time.Second,
		},
	}
}
