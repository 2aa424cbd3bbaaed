package reasoning

import (
	"context"
	"strings"
	"testing"

	"github.com/moabird/moa/internal/engine"
	"github.com/moabird/moa/internal/tools"
)

func TestRegisterPolicies(t *testing.T) {
	reg := tools.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	think, ok := reg.Resolve("think")
	if !ok {
		t.Fatal("think not registered")
	}
	if !think.AutoApproved || !think.HideResults || think.PlanPolicy != engine.PlanAllowed {
		t.Errorf("think flags = %+v", think)
	}

	plan, ok := reg.Resolve("plan")
	if !ok {
		t.Fatal("plan not registered")
	}
	if !plan.AutoApproved || plan.HideResults || plan.PlanPolicy != engine.PlanAllowed {
		t.Errorf("plan flags = %+v", plan)
	}
}

func TestThink(t *testing.T) {
	_, h := newThinkTool()
	ctx := context.Background()

	out, err := h(ctx, map[string]any{"thought": "the bug is in the retry loop"})
	if err != nil {
		t.Fatalf("think: %v", err)
	}
	if out.Content != "Noted." {
		t.Errorf("content = %q", out.Content)
	}

	if _, err := h(ctx, map[string]any{"thought": "  "}); err == nil {
		t.Error("blank thought accepted")
	}
}

func TestPlan(t *testing.T) {
	_, h := newPlanTool()
	ctx := context.Background()

	out, err := h(ctx, map[string]any{"plan": "1. read config.go\n2. add the flag"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out.Content, "Plan recorded:") || !strings.Contains(out.Content, "2. add the flag") {
		t.Errorf("content = %q", out.Content)
	}

	if _, err := h(ctx, map[string]any{"plan": ""}); err == nil {
		t.Error("empty plan accepted")
	}
}
