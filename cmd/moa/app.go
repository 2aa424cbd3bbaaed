package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/moabird/moa/internal/config"
	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/mcpserver"
	memstore "github.com/moabird/moa/internal/memory"
	"github.com/moabird/moa/internal/prompts"
	"github.com/moabird/moa/internal/sandbox"
	"github.com/moabird/moa/internal/session"
	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/tools/toolset"
	"github.com/moabird/moa/internal/workspace"
)

// app owns the long-lived collaborators of one chat run and wires them
// into the engine.
type app struct {
	cfg      config.App
	root     string
	tracker  *workspace.Tracker
	memory   *memstore.Store
	registry *tools.Registry
	mcp      *mcpserver.Manager
	engine   *engine.Engine
	sessions *session.Store

	closeOnce sync.Once
}

type appOptions struct {
	Repo     string
	MaxSteps int
	Debug    bool
	Sink     engine.UISink
	ErrOut   io.Writer
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	root, err := resolveRepo(opts.Repo)
	if err != nil {
		return nil, err
	}

	a := &app{root: root}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	tracker, err := workspace.NewTracker(root)
	if err != nil {
		return nil, fmt.Errorf("watch workspace: %w", err)
	}
	a.tracker = tracker
	if err := tracker.Start(); err != nil {
		return nil, fmt.Errorf("watch workspace: %w", err)
	}

	sandboxCfg := sandbox.DefaultConfig()
	if cfg.SandboxImage != "" {
		sandboxCfg.Image = cfg.SandboxImage
	}
	runner := sandbox.New(sandbox.Mode(cfg.SandboxMode), sandboxCfg)

	mem, err := memstore.Open(ctx, filepath.Join(cfg.DataDir, "memory"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	a.memory = mem

	registry, err := toolset.New(toolset.Options{Tracker: tracker, Runner: runner, Memory: mem})
	if err != nil {
		return nil, err
	}
	a.registry = registry

	mcpCfg, err := mcpserver.LoadConfig(cfg.MCPConfigPath)
	if err != nil {
		return nil, err
	}
	mgr, err := mcpserver.Connect(ctx, mcpCfg, version)
	if err != nil {
		// The manager still carries the servers that did come up.
		fmt.Fprintf(opts.ErrOut, "Warning: %v\n", err)
	}
	a.mcp = mgr
	for _, def := range mgr.Definitions() {
		if err := registry.Register(def, nil); err != nil {
			fmt.Fprintf(opts.ErrOut, "Warning: skipping mcp tool %s: %v\n", def.Name, err)
		}
	}

	if cfg.Engine.SystemPrompt == "" {
		cfg.Engine.SystemPrompt = prompts.System(prompts.Workspace{
			Dir:      root,
			Platform: runtime.GOOS,
			Date:     time.Now().Format("2006-01-02"),
			Project:  string(workspace.DetectProjectType(root)),
		})
	}
	a.cfg = cfg

	var hooks []engine.Hook
	if opts.Debug {
		hooks = append(hooks, engine.LoggerHook{L: log.New(opts.ErrOut, "engine: ", log.Ltime)})
	}

	eng, err := engine.New(engine.Options{
		Config:   cfg.Engine,
		UI:       opts.Sink,
		Registry: registry,
		MCP:      mgr,
		Hooks:    hooks,
		WorkDir:  root,
		MaxSteps: opts.MaxSteps,
	})
	if err != nil {
		return nil, err
	}
	a.engine = eng
	a.sessions = session.NewStore(cfg.DataDir)

	ok = true
	return a, nil
}

// Close releases collaborators in reverse construction order. It is
// safe on a partially built app, and the signal handler may race the
// deferred call, so it only ever runs once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.mcp != nil {
			a.mcp.Close()
		}
		if a.memory != nil {
			a.memory.Close()
		}
		if a.tracker != nil {
			a.tracker.Stop()
		}
	})
}

func resolveRepo(repo string) (string, error) {
	if repo == "" {
		repo = "."
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", fmt.Errorf("resolve repo path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repo path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repo path %s is not a directory", abs)
	}
	return abs, nil
}
