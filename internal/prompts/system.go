package prompts

import (
	"fmt"
	"strings"
)

func init() {
	registry := DefaultRegistry()

	registry.Register(&Prompt{
		ID:      "system",
		Version: PromptV1,
		Content: `You are Moa, a careful coding assistant working in a single repository.

Rules:
- Always read the relevant file content before proposing a change.
- Make small, focused edits.
- Do not reformat the entire file; only change what is necessary.
- If you are unsure, say you need more information instead of guessing.`,
		Description: "Original terse system prompt",
		Tags:        []string{"system", "coding"},
		Deprecated:  true,
	})

	registry.Register(&Prompt{
		ID:      "system",
		Version: PromptV2,
		Content: `You are Moa, a coding agent working in one repository from the terminal.

Rules:
- Read the exact target code before any change.
- Make small, focused edits; do not reformat unrelated code.
- Apply edits with 'edit_file' using enough surrounding context for a unique match.
- Orient with 'grep' and 'list_files' before reading whole files.
- If uncertain, ask briefly instead of guessing.

Tools:
- 'read_file' returns numbered lines; pass offset and limit for large files.
- 'edit_file' replaces one exact text match; copy indentation exactly.
- 'run_command' executes shell commands; prefer quiet flags to keep output small.
- 'memory_save' stores a durable note; 'memory_search' recalls notes from past sessions.
- Use 'think' to reason privately and 'plan' to share a numbered plan with the user.

Parallel tool calls:
- Batch independent calls in a single response; they run in parallel.
- Do not batch when one call depends on another call's result.

Plan mode:
- While plan mode is active, only read and analyze. Present a plan and wait
  for the user to leave plan mode before modifying anything.

Completion:
- Stop when the request is satisfied; do not keep improving working code.
- If the same error persists after three attempts, try a different approach.

{{workspace}}`,
		Description: "Interactive agent system prompt",
		Tags:        []string{"system", "coding", "interactive"},
	})

	registry.Register(&Prompt{
		ID:      "title",
		Version: PromptV1,
		Content: `Write a title of at most six words for the conversation below.
Reply with the title only, no quotes and no trailing punctuation.`,
		Description: "Session title generation",
		Tags:        []string{"session"},
	})

	registry.Register(&Prompt{
		ID:      "summary",
		Version: PromptV1,
		Content: `Summarize the conversation below in at most three sentences.
Mention what was asked, what was changed, and anything left unfinished.
Reply with the summary only.`,
		Description: "Session summary generation",
		Tags:        []string{"session"},
	})
}

// Workspace describes the environment the system prompt mentions.
type Workspace struct {
	Dir      string
	Platform string
	Date     string
	Project  string
}

// System assembles the default system prompt for the given workspace.
func System(ws Workspace) string {
	builder, err := NewPromptBuilder(DefaultRegistry(), "system", PromptV2)
	if err != nil {
		return ""
	}
	builder.SetVariable("workspace", workspaceFragment(ws))
	return builder.Build()
}

// Title returns the prompt used to generate a short session title.
func Title() string {
	return latestContent("title")
}

// Summary returns the prompt used to generate a session summary.
func Summary() string {
	return latestContent("summary")
}

func latestContent(id string) string {
	p, err := DefaultRegistry().GetLatest(id)
	if err != nil {
		return ""
	}
	return p.Content
}

func workspaceFragment(ws Workspace) string {
	var b strings.Builder
	b.WriteString("<workspace>\n")
	fmt.Fprintf(&b, "Directory: %s\n", ws.Dir)
	fmt.Fprintf(&b, "Platform: %s\n", ws.Platform)
	fmt.Fprintf(&b, "Date: %s\n", ws.Date)
	if ws.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", ws.Project)
	}
	b.WriteString("</workspace>")
	return b.String()
}
