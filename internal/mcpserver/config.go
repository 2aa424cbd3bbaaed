package mcpserver

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config mirrors the mcp.json layout: named stdio servers, each a
// command to spawn plus optional args and an environment overlay.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// ServerConfig declares one stdio server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadConfig reads mcp.json from path. An empty path or a missing file
// both mean no servers. Malformed JSON and command-less entries are
// errors so a typo never silently drops a server.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	for name, sc := range cfg.Servers {
		if strings.TrimSpace(sc.Command) == "" {
			return Config{}, fmt.Errorf("mcp server %q has no command", name)
		}
	}
	return cfg, nil
}

// ServerNames returns the configured names sorted, so startup order and
// tool listing order are stable across runs.
func (c Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
