package ui

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/wordwrap"

	"github.com/cexll/collab/internal/planner"
)

const planWidth = 70

// RenderPlan renders the plan header box and task table. Verbose mode adds
// each task's full prompt, word-wrapped.
func RenderPlan(plan *planner.Plan, verbose bool) string {
	var b strings.Builder

	header := Bold.Render("PLAN: " + truncateLine(plan.Goal, planWidth-10))
	if plan.Summary != "" {
		header += "\n" + Dim.Render(truncateLine(plan.Summary, planWidth-4))
	}
	b.WriteString("\n" + planBox.Render(header) + "\n\n")

	fmt.Fprintf(&b, "  %2s  %-8s  %s\n", "#", "Agent", "Title")
	b.WriteString("  " + strings.Repeat("─", planWidth-4) + "\n")

	for _, t := range plan.Tasks {
		line := fmt.Sprintf("  %2d  %s  %s", t.ID, AgentBadge(t.Agent), t.Title)
		if len(t.DependsOn) > 0 {
			line += Dim.Render(fmt.Sprintf("  (after %v)", t.DependsOn))
		}
		if t.Parallel {
			line += Warn.Render("  ∥parallel")
		}
		b.WriteString(line + "\n")

		if verbose {
			wrapped := wordwrap.String(t.Prompt, planWidth-8)
			for _, pl := range strings.Split(wrapped, "\n") {
				b.WriteString(Dim.Render("        "+pl) + "\n")
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

// RenderTaskDetail renders one task's full prompt for the `v` command.
func RenderTaskDetail(t *planner.Task) string {
	var b strings.Builder
	b.WriteString("\n" + Bold.Render(fmt.Sprintf("Task %d: %s", t.ID, t.Title)) + "\n")
	b.WriteString("Agent: " + AgentBadge(t.Agent) + "\n")
	b.WriteString("\nPrompt:\n" + t.Prompt + "\n")
	return b.String()
}
