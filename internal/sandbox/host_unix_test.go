//go:build !windows

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHostRunnerCapturesOutput(t *testing.T) {
	r := &HostRunner{}
	res, err := r.Run(context.Background(), t.TempDir(), "echo out; echo err >&2", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.Code != 0 || res.TimedOut {
		t.Errorf("code = %d, timed out = %v", res.Code, res.TimedOut)
	}
}

func TestHostRunnerExitCode(t *testing.T) {
	r := &HostRunner{}
	res, err := r.Run(context.Background(), t.TempDir(), "echo oops; exit 3", 0)
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	if res.Code != 3 {
		t.Errorf("code = %d, want 3", res.Code)
	}
	if strings.TrimSpace(res.Stdout) != "oops" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestHostRunnerRunsInDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("present"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &HostRunner{}
	res, err := r.Run(context.Background(), dir, "cat marker.txt", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "present" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestHostRunnerTimeout(t *testing.T) {
	r := &HostRunner{}
	start := time.Now()
	res, err := r.Run(context.Background(), t.TempDir(), "sleep 10", 50*time.Millisecond)
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the command promptly")
	}
	if err == nil {
		t.Fatal("expected error after timeout")
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
}

func TestNewHostMode(t *testing.T) {
	if _, ok := New(ModeHost, DefaultConfig()).(*HostRunner); !ok {
		t.Error("ModeHost should select the host runner")
	}
	if _, ok := New(Mode("bogus"), DefaultConfig()).(*HostRunner); !ok {
		t.Error("unknown mode should fall back to the host runner")
	}
}
