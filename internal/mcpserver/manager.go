// Package mcpserver launches the MCP stdio servers declared in mcp.json
// and bridges their tools into the conversation engine. Each server's
// tools are listed once at connect time and registered under
// server__tool names; calls relay over the persistent stdio pipe.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/moabird/moa/internal/engine"
)

// Manager owns the client session of every connected server and
// satisfies the engine's MCPCaller. The dispatcher serializes calls per
// server, so sessions only ever see sequential use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*mcp.ClientSession
	defs     []engine.ToolDefinition
}

// Connect spawns every server in cfg, performs the MCP handshake over
// stdio, and lists its tools. A server that fails to come up is skipped
// so one broken entry does not take down the rest; the skipped errors
// come back joined and the manager is usable either way. The context
// scopes the subprocess lifetimes, not just the handshake, so pass one
// that stays alive for the whole run.
func Connect(ctx context.Context, cfg Config, clientVersion string) (*Manager, error) {
	m := &Manager{sessions: make(map[string]*mcp.ClientSession)}
	var errs []error
	for _, name := range cfg.ServerNames() {
		session, defs, err := connectServer(ctx, name, cfg.Servers[name], clientVersion)
		if err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", name, err))
			continue
		}
		m.sessions[name] = session
		m.defs = append(m.defs, defs...)
	}
	return m, errors.Join(errs...)
}

func connectServer(ctx context.Context, name string, sc ServerConfig, clientVersion string) (*mcp.ClientSession, []engine.ToolDefinition, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "moa", Version: clientVersion}, nil)

	cmd := exec.CommandContext(ctx, sc.Command, sc.Args...)
	if len(sc.Env) > 0 {
		// Overlay on the inherited environment rather than replacing
		// it, or the child loses PATH and friends.
		env := os.Environ()
		for k, v := range sc.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}
	defs := make([]engine.ToolDefinition, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		defs = append(defs, toolDefinition(name, t.Name, t.Description, t.InputSchema))
	}
	return session, defs, nil
}

// toolDefinition shapes one remote tool for the registry. The server
// prefix keeps two servers exporting the same tool from colliding; the
// dispatcher routes on Server and Remote, never by parsing the name.
// Remote tools stay approval-gated because the model decides what they
// do, not this process.
func toolDefinition(server, name, description string, schema any) engine.ToolDefinition {
	return engine.ToolDefinition{
		Name:        server + "__" + name,
		Kind:        engine.ToolMCPStdio,
		Description: fmt.Sprintf("[%s] %s", server, description),
		Schema:      marshalSchema(schema),
		Server:      server,
		Remote:      name,
	}
}

func marshalSchema(schema any) json.RawMessage {
	fallback := json.RawMessage(`{"type":"object"}`)
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return data
}

// Definitions returns the tools of every connected server, ready to
// merge into the registry.
func (m *Manager) Definitions() []engine.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.ToolDefinition, len(m.defs))
	copy(out, m.defs)
	return out
}

// Servers returns the names of the servers that connected successfully,
// in sorted order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallTool relays one call to a connected server and flattens the reply
// to text. A result flagged IsError surfaces as a Go error so the
// dispatcher renders it as error content the model can react to.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	m.mu.RLock()
	session := m.sessions[server]
	m.mu.RUnlock()
	if session == nil {
		return "", fmt.Errorf("mcp server %s is not connected", server)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", tool, server, err)
	}
	text := flattenContent(res.Content)
	if res.IsError {
		detail := strings.TrimSpace(text)
		if detail == "" {
			detail = "no detail provided"
		}
		return "", fmt.Errorf("%s reported an error: %s", tool, detail)
	}
	return text, nil
}

// Close shuts down every session, which also reaps the subprocesses.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*mcp.ClientSession)
	m.mu.Unlock()

	var errs []error
	for name, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// flattenContent joins the content blocks of a result into plain text.
// Non-text blocks degrade to their JSON encoding.
func flattenContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			b.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				b.Write(data)
			}
		}
	}
	return b.String()
}
