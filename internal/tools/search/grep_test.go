package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moabird/moa/internal/tools"
	"github.com/moabird/moa/internal/workspace"
)

func grepWorkspace(t *testing.T) (*workspace.Tracker, tools.Handler) {
	t.Helper()
	tr, err := workspace.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tr.Stop() })
	_, h := newGrepTool(tr)
	return tr, h
}

func seedFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestGrepFindsMatches(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "main.go", "package main\n\nfunc Run() error {\n\treturn nil\n}\n")
	seedFile(t, tr.Root(), "notes.txt", "nothing here\n")

	out, err := h(context.Background(), map[string]any{"pattern": `func \w+\(`})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "main.go:3: func Run() error {") {
		t.Errorf("content = %q", out.Content)
	}
	if strings.Contains(out.Content, "notes.txt") {
		t.Errorf("matched a file without the pattern: %q", out.Content)
	}
}

func TestGrepCaseInsensitive(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "readme.md", "# Moa Agent\n")

	out, err := h(context.Background(), map[string]any{"pattern": "moa agent"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "No matches") {
		t.Errorf("case-sensitive search matched: %q", out.Content)
	}

	out, err = h(context.Background(), map[string]any{
		"pattern":          "moa agent",
		"case_insensitive": true,
	})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "readme.md:1:") {
		t.Errorf("content = %q", out.Content)
	}
}

func TestGrepGlobFilter(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "a.go", "target\n")
	seedFile(t, tr.Root(), "b.txt", "target\n")

	out, err := h(context.Background(), map[string]any{"pattern": "target", "glob": "*.go"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "a.go:1:") || strings.Contains(out.Content, "b.txt") {
		t.Errorf("glob not applied: %q", out.Content)
	}
}

func TestGrepHonorsIgnoreRules(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "src.go", "needle\n")
	seedFile(t, tr.Root(), "node_modules/dep/index.js", "needle\n")

	out, err := h(context.Background(), map[string]any{"pattern": "needle"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "src.go") {
		t.Errorf("missing real match: %q", out.Content)
	}
	if strings.Contains(out.Content, "node_modules") {
		t.Errorf("searched an ignored directory: %q", out.Content)
	}
}

func TestGrepScopesToPath(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "pkg/a.go", "needle\n")
	seedFile(t, tr.Root(), "other/b.go", "needle\n")

	out, err := h(context.Background(), map[string]any{"pattern": "needle", "path": "pkg"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "pkg/a.go") || strings.Contains(out.Content, "other/b.go") {
		t.Errorf("path scope not applied: %q", out.Content)
	}
}

func TestGrepMaxResults(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "many.txt", strings.Repeat("hit\n", 10))

	out, err := h(context.Background(), map[string]any{"pattern": "hit", "max_results": float64(3)})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if got := strings.Count(out.Content, "many.txt:"); got != 3 {
		t.Errorf("returned %d matches, want 3", got)
	}
	if !strings.Contains(out.Content, "stopped at 3 matches") {
		t.Errorf("missing truncation note: %q", out.Content)
	}
}

func TestGrepSkipsBinary(t *testing.T) {
	tr, h := grepWorkspace(t)
	seedFile(t, tr.Root(), "blob.bin", "needle\x00\xff\xfe\n")

	out, err := h(context.Background(), map[string]any{"pattern": "needle"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(out.Content, "No matches") {
		t.Errorf("matched inside a binary file: %q", out.Content)
	}
}

func TestGrepInvalidInputs(t *testing.T) {
	_, h := grepWorkspace(t)
	ctx := context.Background()

	if _, err := h(ctx, map[string]any{"pattern": "[unclosed"}); err == nil {
		t.Error("invalid pattern accepted")
	}
	if _, err := h(ctx, map[string]any{"pattern": "x", "glob": "[bad"}); err == nil {
		t.Error("invalid glob accepted")
	}
	if _, err := h(ctx, map[string]any{"pattern": "x", "path": "../.."}); err == nil {
		t.Error("path escape accepted")
	}
}
