package engine

import "time"

// Stats accumulates per-session counters. All fields are mutated only on
// the turn goroutine, serialized with history appends, so no locking is
// needed; Snapshot hands out a copy for display.
type Stats struct {
	APIRequests  int           `json:"api_requests"`
	APISuccess   int           `json:"api_success"`
	APIErrors    int           `json:"api_errors"`
	APITimeSpent time.Duration `json:"api_time_spent"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	ToolCalls  int `json:"tool_calls"`
	ToolErrors int `json:"tool_errors"`

	// Size of the prompt as of the last round-trip, and whether it came
	// from the local estimator rather than provider usage.
	CurrentPromptSize          int  `json:"current_prompt_size"`
	CurrentPromptSizeEstimated bool `json:"current_prompt_size_estimated"`
}

func (s *Stats) recordRequest()                { s.APIRequests++ }
func (s *Stats) recordSuccess(d time.Duration) { s.APISuccess++; s.APITimeSpent += d }
func (s *Stats) recordError(d time.Duration)   { s.APIErrors++; s.APITimeSpent += d }

func (s *Stats) recordTokens(prompt, completion int) {
	s.PromptTokens += prompt
	s.CompletionTokens += completion
}

func (s *Stats) recordPromptSize(size int, estimated bool) {
	s.CurrentPromptSize = size
	s.CurrentPromptSizeEstimated = estimated
}

func (s *Stats) recordToolResult(isError bool) {
	s.ToolCalls++
	if isError {
		s.ToolErrors++
	}
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Stats { return *s }
