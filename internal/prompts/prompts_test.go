package prompts

import (
	"strings"
	"testing"
)

func TestSystemIncludesWorkspace(t *testing.T) {
	got := System(Workspace{Dir: "/work/repo", Platform: "linux", Date: "2026-08-24"})

	if !strings.Contains(got, "You are Moa") {
		t.Error("missing agent identity")
	}
	if !strings.Contains(got, "Directory: /work/repo") {
		t.Error("missing workspace directory")
	}
	if !strings.Contains(got, "Platform: linux") || !strings.Contains(got, "Date: 2026-08-24") {
		t.Error("missing platform or date")
	}
	if strings.Contains(got, "{{workspace}}") {
		t.Error("workspace placeholder left unsubstituted")
	}
}

func TestGetLatestSkipsDeprecated(t *testing.T) {
	reg := NewPromptRegistry()
	reg.Register(&Prompt{ID: "p", Version: PromptV1, Content: "old"})
	reg.Register(&Prompt{ID: "p", Version: PromptV2, Content: "new", Deprecated: true})

	p, err := reg.GetLatest("p")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if p.Content != "old" {
		t.Errorf("content = %q, want non-deprecated %q", p.Content, "old")
	}
}

func TestGetLatestFallsBackToDeprecated(t *testing.T) {
	reg := NewPromptRegistry()
	reg.Register(&Prompt{ID: "p", Version: PromptV1, Content: "old", Deprecated: true})

	p, err := reg.GetLatest("p")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if p.Content != "old" {
		t.Errorf("content = %q", p.Content)
	}
}

func TestGetUnknownPrompt(t *testing.T) {
	reg := NewPromptRegistry()
	if _, err := reg.Get("nope", PromptV1); err == nil {
		t.Error("expected error for unknown prompt")
	}
	if _, err := reg.GetLatest("nope"); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestBuilderFragmentsAndVariables(t *testing.T) {
	reg := NewPromptRegistry()
	reg.Register(&Prompt{ID: "base", Version: PromptV1, Content: "Hello {{name}}."})

	b, err := NewPromptBuilder(reg, "base", PromptV1)
	if err != nil {
		t.Fatalf("NewPromptBuilder: %v", err)
	}
	b.AddFragment("Second part about {{name}}.")
	b.SetVariable("name", "world")

	got := b.Build()
	want := "Hello world.\n\nSecond part about world."
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestTitleAndSummaryRegistered(t *testing.T) {
	if Title() == "" {
		t.Error("title prompt missing")
	}
	if Summary() == "" {
		t.Error("summary prompt missing")
	}
}
