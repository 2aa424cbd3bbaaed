package engine

import "strings"

// writeKindDenyList blocks destructive tools in plan mode when a tool
// does not declare an explicit PlanPolicy. Matching is on the leading
// underscore-separated token of the lowercased name, so write_file,
// edit_file and backup_restore are all covered.
var writeKindDenyList = map[string]bool{
	"write":  true,
	"edit":   true,
	"backup": true,
}

const planModeReminder = `<system-reminder>
Plan mode is active. You may only inspect the project: destructive tools
(writing, editing, backups) are unavailable. Investigate, then present a
plan for the user to approve. Do not attempt to modify anything.
</system-reminder>`

const leftPlanModeReminder = `<system-reminder>
Plan mode is off. All tools, including writing and editing, are available
again. Carry out the plan the user approved.
</system-reminder>`

// ModeGate tracks the plan/build posture. Plan mode filters write-kind
// tools out of requests and tags the next user message with a read-only
// reminder; leaving plan mode tags the next user message once with the
// all-tools-available reminder.
type ModeGate struct {
	planActive   bool
	justLeftPlan bool
}

// NewModeGate starts in build mode.
func NewModeGate() *ModeGate { return &ModeGate{} }

// PlanActive reports whether plan mode is on.
func (g *ModeGate) PlanActive() bool { return g.planActive }

// EnterPlan switches to plan mode. Reports whether the state changed.
func (g *ModeGate) EnterPlan() bool {
	if g.planActive {
		return false
	}
	g.planActive = true
	g.justLeftPlan = false
	return true
}

// ExitPlan switches back to build mode. Reports whether the state
// changed; a real exit arms the one-shot left-plan reminder.
func (g *ModeGate) ExitPlan() bool {
	if !g.planActive {
		return false
	}
	g.planActive = false
	g.justLeftPlan = true
	return true
}

// Allowed reports whether the tool may run under the current mode. In
// build mode everything passes. In plan mode an explicit PlanPolicy wins;
// tools without one fall back to the write-kind deny-list.
func (g *ModeGate) Allowed(def ToolDefinition) bool {
	if !g.planActive {
		return true
	}
	switch def.PlanPolicy {
	case PlanAllowed:
		return true
	case PlanBlocked:
		return false
	}
	return !deniedByName(def.Name)
}

func deniedByName(name string) bool {
	lower := strings.ToLower(name)
	if writeKindDenyList[lower] {
		return true
	}
	head, _, _ := strings.Cut(lower, "_")
	return writeKindDenyList[head]
}

// FilterDefinitions returns the tools permitted under the current mode,
// preserving order. In build mode the input is returned as-is.
func (g *ModeGate) FilterDefinitions(defs []ToolDefinition) []ToolDefinition {
	if !g.planActive {
		return defs
	}
	out := make([]ToolDefinition, 0, len(defs))
	for _, def := range defs {
		if g.Allowed(def) {
			out = append(out, def)
		}
	}
	return out
}

// Reminder returns the text to inject into the next user message, or ""
// when none applies. The left-plan reminder is one-shot: returning it
// consumes it.
func (g *ModeGate) Reminder() string {
	if g.planActive {
		return planModeReminder
	}
	if g.justLeftPlan {
		g.justLeftPlan = false
		return leftPlanModeReminder
	}
	return ""
}

// RestrictionResult is the tool result text for a call blocked by plan
// mode.
func (g *ModeGate) RestrictionResult(name string) string {
	return "Error: tool " + name + " is unavailable while plan mode is active. " +
		"Present a plan and ask the user to leave plan mode before modifying anything."
}
