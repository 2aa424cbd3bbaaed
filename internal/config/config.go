// Package config reads the process environment once, at startup, into
// the immutable configuration the rest of the program consumes.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/moabird/moa/internal/engine"
)

// Sandbox selection modes for the shell tool.
const (
	SandboxAuto   = "auto"
	SandboxDocker = "docker"
	SandboxHost   = "host"
)

// App bundles the engine configuration with the application-level knobs
// around it.
type App struct {
	Engine engine.Config

	// SandboxMode picks the command execution backend: docker, host, or
	// auto (docker when a daemon answers, host otherwise).
	SandboxMode  string
	SandboxImage string

	// DataDir roots the session files and the memory store.
	DataDir string

	// MCPConfigPath points at the optional mcp.json declaring stdio
	// servers. Empty means no MCP servers.
	MCPConfigPath string
}

// FromEnv reads the whole configuration surface. Missing required keys
// produce a descriptive error; malformed optional values log a warning
// and keep their defaults.
func FromEnv() (App, error) {
	eng := engine.DefaultConfig()
	eng.Endpoint = os.Getenv("API_ENDPOINT")
	eng.APIKey = os.Getenv("API_KEY")
	eng.Model = os.Getenv("MODEL")

	eng.Temperature = envFloat("TEMPERATURE")
	eng.TopP = envFloat("TOP_P")
	eng.TopK = envInt("TOP_K")
	eng.RepetitionPenalty = envFloat("REPETITION_PENALTY")
	eng.MaxTokens = envInt("MAX_TOKENS")

	eng.HTTPTimeout = envSeconds("HTTP_TIMEOUT", eng.HTTPTimeout)
	eng.StreamTimeout = envSeconds("STREAMING_TIMEOUT", eng.StreamTimeout)
	eng.Streaming = envBool("ENABLE_STREAMING", eng.Streaming)

	eng.ExponentialRetry = envBool("ENABLE_EXPONENTIAL_WAIT_RETRY", eng.ExponentialRetry)
	eng.RetryInitialDelay = envSeconds("RETRY_INITIAL_DELAY", eng.RetryInitialDelay)
	eng.RetryMaxDelay = envSeconds("RETRY_MAX_DELAY", eng.RetryMaxDelay)
	eng.RetryFixedDelay = envSeconds("RETRY_FIXED_DELAY", eng.RetryFixedDelay)
	eng.RetryMaxAttempts = envCount("RETRY_MAX_ATTEMPTS", eng.RetryMaxAttempts)

	eng.TrustUsage = envBool("TRUST_USAGE_INFO_PROMPT_TOKENS", false)
	eng.YoloMode = envBool("YOLO_MODE", false)
	eng.SystemPrompt = os.Getenv("SYSTEM_PROMPT")

	if err := eng.Validate(); err != nil {
		return App{}, err
	}

	dir, err := resolveDataDir()
	if err != nil {
		return App{}, err
	}

	return App{
		Engine:        eng,
		SandboxMode:   envChoice("MOA_SANDBOX", SandboxAuto, SandboxDocker, SandboxHost),
		SandboxImage:  os.Getenv("MOA_SANDBOX_IMAGE"),
		DataDir:       dir,
		MCPConfigPath: os.Getenv("MOA_MCP_CONFIG"),
	}, nil
}

// resolveDataDir honors MOA_DATA_DIR, defaulting under the user config
// dir. The directory is created so later consumers can write into it.
func resolveDataDir() (string, error) {
	dir := os.Getenv("MOA_DATA_DIR")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve user config dir: %w", err)
		}
		dir = filepath.Join(base, "moa")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

func envBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("WARNING: invalid %s value %q, using default %v", key, raw, def)
		return def
	}
	return v
}

// envSeconds parses a duration given in whole seconds.
func envSeconds(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		log.Printf("WARNING: invalid %s value %q, using default %s", key, raw, def)
		return def
	}
	return time.Duration(secs) * time.Second
}

func envCount(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		log.Printf("WARNING: invalid %s value %q, using default %d", key, raw, def)
		return def
	}
	return n
}

// envFloat returns nil when the key is unset, so the knob stays off the
// wire entirely.
func envFloat(key string) *float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("WARNING: invalid %s value %q, leaving unset", key, raw)
		return nil
	}
	return &v
}

func envInt(key string) *int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("WARNING: invalid %s value %q, leaving unset", key, raw)
		return nil
	}
	return &v
}

// envChoice accepts only the listed values, first one the default.
func envChoice(key string, choices ...string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return choices[0]
	}
	for _, c := range choices {
		if raw == c {
			return raw
		}
	}
	log.Printf("WARNING: invalid %s value %q, using %q", key, raw, choices[0])
	return choices[0]
}
