package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tr.Stop() })
	return tr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStaleNeverReadFile(t *testing.T) {
	tr := newTestTracker(t)
	writeFile(t, filepath.Join(tr.Root(), "a.txt"), "one")

	if tr.Stale("a.txt") {
		t.Error("file never read should not be stale")
	}
}

func TestStaleAfterExternalChange(t *testing.T) {
	tr := newTestTracker(t)
	path := filepath.Join(tr.Root(), "a.txt")
	writeFile(t, path, "one")
	tr.MarkRead("a.txt")

	if tr.Stale("a.txt") {
		t.Fatal("freshly read file should not be stale")
	}

	writeFile(t, path, "a longer replacement body")
	if !tr.Stale("a.txt") {
		t.Error("rewritten file should be stale")
	}
}

func TestMarkReadRefreshesStamp(t *testing.T) {
	tr := newTestTracker(t)
	path := filepath.Join(tr.Root(), "a.txt")
	writeFile(t, path, "one")
	tr.MarkRead("a.txt")

	writeFile(t, path, "rewritten by the model itself")
	tr.MarkRead("a.txt")

	if tr.Stale("a.txt") {
		t.Error("stamp refresh after own write should clear staleness")
	}
}

func TestStaleAfterDelete(t *testing.T) {
	tr := newTestTracker(t)
	path := filepath.Join(tr.Root(), "a.txt")
	writeFile(t, path, "one")
	tr.MarkRead("a.txt")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !tr.Stale("a.txt") {
		t.Error("deleted file should be stale")
	}
}

func TestIgnoredPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".gitignore"), "*.log\ntmp/\n")

	tr, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tr.Stop() })

	tests := []struct {
		rel  string
		want bool
	}{
		{"debug.log", true},
		{"tmp/scratch.txt", true},
		{"node_modules/lib/index.js", true},
		{"main.go", false},
		{"internal/app/server.go", false},
	}
	for _, tt := range tests {
		if got := tr.Ignored(tt.rel); got != tt.want {
			t.Errorf("Ignored(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestAbsResolvesAgainstRoot(t *testing.T) {
	tr := newTestTracker(t)

	got := tr.Abs("sub/file.txt")
	want := filepath.Join(tr.Root(), "sub", "file.txt")
	if got != want {
		t.Errorf("Abs(rel) = %q, want %q", got, want)
	}
	if got := tr.Abs(want); got != want {
		t.Errorf("Abs(abs) = %q, want %q", got, want)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	tr := newTestTracker(t)

	if _, err := tr.Resolve("sub/file.txt"); err != nil {
		t.Errorf("Resolve(rel) = %v, want nil", err)
	}
	for _, path := range []string{"", "   ", "../outside.txt", "/etc/passwd", tr.Root() + "-sibling/x"} {
		if _, err := tr.Resolve(path); err == nil {
			t.Errorf("Resolve(%q) succeeded, want error", path)
		}
	}

	// Dot segments that stay inside the root are fine.
	if _, err := tr.Resolve("sub/../file.txt"); err != nil {
		t.Errorf("Resolve(sub/../file.txt) = %v, want nil", err)
	}
}

func TestWatcherFlagsExternalChange(t *testing.T) {
	tr := newTestTracker(t)
	tr.debounce = 20 * time.Millisecond

	path := filepath.Join(tr.Root(), "a.txt")
	writeFile(t, path, "one")
	tr.MarkRead("a.txt")

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeFile(t, path, "changed behind the model's back")

	waitFor(t, 5*time.Second, func() bool {
		for _, rel := range tr.Changes() {
			if rel == "a.txt" {
				return true
			}
		}
		return false
	})

	// Re-reading clears the flag.
	tr.MarkRead("a.txt")
	if got := tr.Changes(); len(got) != 0 {
		t.Errorf("Changes after re-read = %v, want empty", got)
	}
}

func TestDrainChangesReportsOnce(t *testing.T) {
	tr := newTestTracker(t)
	tr.debounce = 20 * time.Millisecond

	path := filepath.Join(tr.Root(), "a.txt")
	writeFile(t, path, "one")
	tr.MarkRead("a.txt")

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	writeFile(t, path, "changed behind the model's back")

	waitFor(t, 5*time.Second, func() bool { return len(tr.Changes()) > 0 })

	got := tr.DrainChanges()
	if len(got) != 1 || got[0] != "a.txt" {
		t.Fatalf("DrainChanges() = %v, want [a.txt]", got)
	}
	if rest := tr.DrainChanges(); len(rest) != 0 {
		t.Errorf("second DrainChanges() = %v, want empty", rest)
	}
	// The stamp is still outdated, so per-file checks keep warning.
	if !tr.Stale("a.txt") {
		t.Error("drained file should still be stale")
	}
}

func TestStaleHonorsWatcherFlag(t *testing.T) {
	tr := newTestTracker(t)
	path := filepath.Join(tr.Root(), "a.txt")
	writeFile(t, path, "one")
	tr.MarkRead("a.txt")

	// Simulate a watcher hit whose stat the filesystem may not reflect,
	// e.g. a same-size rewrite within the mtime granularity.
	tr.mu.Lock()
	tr.changed["a.txt"] = true
	tr.mu.Unlock()

	if !tr.Stale("a.txt") {
		t.Error("watcher-flagged file should be stale")
	}
}
