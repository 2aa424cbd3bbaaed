// Package prompts holds the versioned prompt texts the agent is driven
// by and the small builder used to assemble them with runtime context.
package prompts

// PromptVersion identifies one revision of a prompt text.
type PromptVersion string

const (
	// PromptV1 is the original prompt wording.
	PromptV1 PromptVersion = "1.0.0"
	// PromptV2 is the current wording.
	PromptV2 PromptVersion = "2.0.0"
)

// Prompt is a versioned prompt with metadata.
type Prompt struct {
	ID          string
	Version     PromptVersion
	Content     string
	Description string
	Tags        []string
	Deprecated  bool
}
