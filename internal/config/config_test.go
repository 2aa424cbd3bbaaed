package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// allKeys lists every environment key FromEnv reads, so tests can start
// from a clean slate regardless of the ambient environment.
var allKeys = []string{
	"API_ENDPOINT", "API_KEY", "MODEL",
	"TEMPERATURE", "TOP_P", "TOP_K", "REPETITION_PENALTY", "MAX_TOKENS",
	"HTTP_TIMEOUT", "STREAMING_TIMEOUT", "ENABLE_STREAMING",
	"ENABLE_EXPONENTIAL_WAIT_RETRY", "RETRY_INITIAL_DELAY",
	"RETRY_MAX_DELAY", "RETRY_FIXED_DELAY", "RETRY_MAX_ATTEMPTS",
	"TRUST_USAGE_INFO_PROMPT_TOKENS", "YOLO_MODE", "SYSTEM_PROMPT",
	"MOA_SANDBOX", "MOA_SANDBOX_IMAGE", "MOA_DATA_DIR", "MOA_MCP_CONFIG",
}

func resetEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
	t.Setenv("API_ENDPOINT", "https://api.example.com/v1/chat/completions")
	t.Setenv("API_KEY", "test-key")
	t.Setenv("MODEL", "test-model")
	t.Setenv("MOA_DATA_DIR", t.TempDir())
}

func TestFromEnvDefaults(t *testing.T) {
	resetEnv(t)

	app, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	eng := app.Engine
	if eng.Endpoint != "https://api.example.com/v1/chat/completions" {
		t.Errorf("endpoint = %q", eng.Endpoint)
	}
	if eng.HTTPTimeout != 300*time.Second || eng.StreamTimeout != 60*time.Second {
		t.Errorf("timeouts = %s, %s", eng.HTTPTimeout, eng.StreamTimeout)
	}
	if !eng.Streaming || !eng.ExponentialRetry {
		t.Errorf("streaming = %v, exponential retry = %v", eng.Streaming, eng.ExponentialRetry)
	}
	if eng.RetryInitialDelay != 2*time.Second || eng.RetryMaxDelay != 64*time.Second ||
		eng.RetryFixedDelay != 10*time.Second || eng.RetryMaxAttempts != 0 {
		t.Errorf("retry knobs = %s %s %s %d",
			eng.RetryInitialDelay, eng.RetryMaxDelay, eng.RetryFixedDelay, eng.RetryMaxAttempts)
	}
	if eng.TrustUsage || eng.YoloMode {
		t.Errorf("trust usage = %v, yolo = %v", eng.TrustUsage, eng.YoloMode)
	}
	if eng.Temperature != nil || eng.TopP != nil || eng.TopK != nil ||
		eng.RepetitionPenalty != nil || eng.MaxTokens != nil {
		t.Error("expected unset sampling knobs to stay nil")
	}
	if app.SandboxMode != SandboxAuto {
		t.Errorf("sandbox mode = %q, want auto", app.SandboxMode)
	}
}

func TestFromEnvMissingRequired(t *testing.T) {
	resetEnv(t)
	t.Setenv("API_KEY", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for missing API_KEY")
	}
}

func TestFromEnvParsesValues(t *testing.T) {
	resetEnv(t)
	t.Setenv("TEMPERATURE", "0.2")
	t.Setenv("TOP_P", "0.9")
	t.Setenv("TOP_K", "40")
	t.Setenv("REPETITION_PENALTY", "1.1")
	t.Setenv("MAX_TOKENS", "2048")
	t.Setenv("HTTP_TIMEOUT", "30")
	t.Setenv("STREAMING_TIMEOUT", "15")
	t.Setenv("ENABLE_STREAMING", "false")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("TRUST_USAGE_INFO_PROMPT_TOKENS", "true")
	t.Setenv("YOLO_MODE", "1")
	t.Setenv("SYSTEM_PROMPT", "be brief")
	t.Setenv("MOA_SANDBOX", "docker")
	t.Setenv("MOA_SANDBOX_IMAGE", "alpine:3.20")
	t.Setenv("MOA_MCP_CONFIG", "/tmp/mcp.json")

	app, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	eng := app.Engine
	if eng.Temperature == nil || *eng.Temperature != 0.2 {
		t.Errorf("temperature = %v", eng.Temperature)
	}
	if eng.TopP == nil || *eng.TopP != 0.9 {
		t.Errorf("top_p = %v", eng.TopP)
	}
	if eng.TopK == nil || *eng.TopK != 40 {
		t.Errorf("top_k = %v", eng.TopK)
	}
	if eng.RepetitionPenalty == nil || *eng.RepetitionPenalty != 1.1 {
		t.Errorf("repetition penalty = %v", eng.RepetitionPenalty)
	}
	if eng.MaxTokens == nil || *eng.MaxTokens != 2048 {
		t.Errorf("max tokens = %v", eng.MaxTokens)
	}
	if eng.HTTPTimeout != 30*time.Second || eng.StreamTimeout != 15*time.Second {
		t.Errorf("timeouts = %s, %s", eng.HTTPTimeout, eng.StreamTimeout)
	}
	if eng.Streaming {
		t.Error("expected streaming disabled")
	}
	if eng.RetryMaxAttempts != 5 {
		t.Errorf("retry max attempts = %d", eng.RetryMaxAttempts)
	}
	if !eng.TrustUsage || !eng.YoloMode {
		t.Errorf("trust usage = %v, yolo = %v", eng.TrustUsage, eng.YoloMode)
	}
	if eng.SystemPrompt != "be brief" {
		t.Errorf("system prompt = %q", eng.SystemPrompt)
	}
	if app.SandboxMode != SandboxDocker || app.SandboxImage != "alpine:3.20" {
		t.Errorf("sandbox = %q image %q", app.SandboxMode, app.SandboxImage)
	}
	if app.MCPConfigPath != "/tmp/mcp.json" {
		t.Errorf("mcp config = %q", app.MCPConfigPath)
	}
}

func TestFromEnvMalformedValuesKeepDefaults(t *testing.T) {
	resetEnv(t)
	t.Setenv("TEMPERATURE", "warm")
	t.Setenv("HTTP_TIMEOUT", "-5")
	t.Setenv("ENABLE_STREAMING", "yes")
	t.Setenv("RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("MOA_SANDBOX", "vm")

	app, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if app.Engine.Temperature != nil {
		t.Errorf("temperature = %v, want nil", app.Engine.Temperature)
	}
	if app.Engine.HTTPTimeout != 300*time.Second {
		t.Errorf("http timeout = %s, want default", app.Engine.HTTPTimeout)
	}
	if !app.Engine.Streaming {
		t.Error("expected streaming to keep default true")
	}
	if app.Engine.RetryMaxAttempts != 0 {
		t.Errorf("retry max attempts = %d, want 0", app.Engine.RetryMaxAttempts)
	}
	if app.SandboxMode != SandboxAuto {
		t.Errorf("sandbox mode = %q, want auto", app.SandboxMode)
	}
}

func TestFromEnvCreatesDataDir(t *testing.T) {
	resetEnv(t)
	dir := filepath.Join(t.TempDir(), "nested", "moa")
	t.Setenv("MOA_DATA_DIR", dir)

	app, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if app.DataDir != dir {
		t.Errorf("data dir = %q, want %q", app.DataDir, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
}
