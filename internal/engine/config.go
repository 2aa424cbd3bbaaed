package engine

import (
	"errors"
	"time"
)

// Config is the engine's complete configuration, constructed once at
// startup from the environment and passed down by value. Optional
// sampling knobs are pointers: nil means the environment did not set
// them and the field stays off the wire.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string

	Temperature       *float64
	TopP              *float64
	TopK              *int
	RepetitionPenalty *float64
	MaxTokens         *int

	HTTPTimeout   time.Duration // total request deadline
	StreamTimeout time.Duration // per-read inactivity deadline

	Streaming bool

	ExponentialRetry  bool
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryFixedDelay   time.Duration
	RetryMaxAttempts  int

	// TrustUsage makes provider-reported prompt token counts
	// authoritative for prompt-size accounting.
	TrustUsage bool

	// YoloMode auto-approves every tool call.
	YoloMode bool

	SystemPrompt string
}

// DefaultConfig returns a Config with every documented default filled in.
// Endpoint, APIKey and Model stay empty; Validate rejects the config
// until they are set.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       300 * time.Second,
		StreamTimeout:     60 * time.Second,
		Streaming:         true,
		ExponentialRetry:  true,
		RetryInitialDelay: 2 * time.Second,
		RetryMaxDelay:     64 * time.Second,
		RetryFixedDelay:   10 * time.Second,
		RetryMaxAttempts:  0,
	}
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("api endpoint is required")
	}
	if c.APIKey == "" {
		return errors.New("api key is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

// retryPolicy derives the retry policy from the retry knobs.
func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{
		Exponential:  c.ExponentialRetry,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		FixedDelay:   c.RetryFixedDelay,
		MaxAttempts:  c.RetryMaxAttempts,
	}
}
