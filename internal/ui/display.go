package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cexll/collab/internal/research"
)

// StepMeta describes one of the six research steps for display.
type StepMeta struct {
	ID     int
	Key    string
	Name   string
	Agents string
	Color  string
}

// ResearchSteps is the display table for the research workflow.
var ResearchSteps = []StepMeta{
	{1, "understand", "Goal Understanding", "claude", "cyan"},
	{2, "analyze", "Problem Analysis", "claude×N", "cyan"},
	{3, "methodology", "Methodology & Implementation", "claude+codex×N", "yellow"},
	{4, "experiment", "Experiment Execution", "codex×N", "green"},
	{5, "results", "Result Analysis", "claude", "cyan"},
	{6, "conclusion", "Conclusion", "claude", "cyan"},
}

func stepMeta(id int) StepMeta {
	if id >= 1 && id <= len(ResearchSteps) {
		return ResearchSteps[id-1]
	}
	return StepMeta{ID: id, Name: fmt.Sprintf("Step %d", id), Color: "cyan"}
}

// Printer writes research progress to a terminal. A zero Printer writes to
// stdout.
type Printer struct {
	Out io.Writer
}

func (p *Printer) out() io.Writer {
	if p.Out != nil {
		return p.Out
	}
	return os.Stdout
}

// SessionHeader prints the research session banner.
func (p *Printer) SessionHeader(goal string, totalRounds int) {
	title := Bold.Render("AI RESEARCH MODE") + Dim.Render(fmt.Sprintf("  —  %d round(s)", totalRounds))
	body := title + "\n" + fmt.Sprintf("Goal: %s", truncateLine(goal, 62))
	fmt.Fprintln(p.out(), "\n"+headerBox.Render(body))
}

// RoundHeader prints the round banner and the step overview table.
func (p *Printer) RoundHeader(roundNum, totalRounds int) {
	bar := Accent.Render(strings.Repeat("─", 60))
	fmt.Fprintf(p.out(), "\n%s\n%s\n%s\n\n", bar, Accent.Render(fmt.Sprintf("  ROUND %d/%d", roundNum, totalRounds)), bar)
	for _, m := range ResearchSteps {
		fmt.Fprintf(p.out(), "  %s  %-40s  %s\n",
			Dim.Render(fmt.Sprintf("Step %d/6", m.ID)),
			stepColor(m.Color).Render(m.Name),
			Dim.Render(m.Agents))
	}
	fmt.Fprintln(p.out())
}

// StepStart announces a step with its agent count.
func (p *Printer) StepStart(stepID int, stepName string, agents int) {
	m := stepMeta(stepID)
	suffix := ""
	if agents > 1 {
		suffix = fmt.Sprintf(" ×%d", agents)
	}
	fmt.Fprintf(p.out(), "\n%s%s\n",
		stepColor(m.Color).Bold(true).Render(fmt.Sprintf("▶ Step %d/6  %s", stepID, stepName)),
		Dim.Render(fmt.Sprintf("  [%s%s]", m.Agents, suffix)))
}

// StepDone prints the step output preview and completion line.
func (p *Printer) StepDone(step *research.StepResult) {
	out := strings.TrimSpace(step.PrimaryOutput())
	if out == "" {
		return
	}
	m := stepMeta(step.StepID)

	fmt.Fprintln(p.out(), Dim.Render(strings.Repeat("─", 60)))
	lines := strings.Split(out, "\n")
	shown := lines
	if len(shown) > 60 {
		shown = shown[:60]
	}
	for _, line := range shown {
		fmt.Fprintln(p.out(), "  "+line)
	}
	if len(lines) > 60 {
		fmt.Fprintln(p.out(), Dim.Render(fmt.Sprintf("  ... [%d more lines]", len(lines)-60)))
	}

	agents := map[string]bool{}
	for _, o := range step.Outputs {
		agents[o.Agent] = true
	}
	names := make([]string, 0, len(agents))
	for a := range agents {
		names = append(names, a)
	}
	sort.Strings(names)

	fmt.Fprintf(p.out(), "\n%s%s\n\n",
		stepColor(m.Color).Render(fmt.Sprintf("  ✓ %s complete  (%.1fs)", step.StepName, step.Duration)),
		Dim.Render("  ["+strings.Join(names, ", ")+"]"))
}

// RoundSummary prints the metric and hypotheses of a finished round.
func (p *Printer) RoundSummary(round *research.RoundResult) {
	fmt.Fprintln(p.out(), Accent.Render("\n  ╔══ ROUND SUMMARY ══╗"))
	if round.BestMetric != "" {
		fmt.Fprintln(p.out(), Good.Bold(true).Render("  Best Metric:  "+round.BestMetric))
	}
	if len(round.NextHypotheses) > 0 {
		fmt.Fprintln(p.out(), Warn.Render("  Next Hypotheses:"))
		hyps := round.NextHypotheses
		if len(hyps) > 4 {
			hyps = hyps[:4]
		}
		for _, h := range hyps {
			fmt.Fprintf(p.out(), "    • %s\n", h)
		}
	}
	var total float64
	for _, s := range round.Steps {
		total += s.Duration
	}
	fmt.Fprintln(p.out(), Dim.Render(fmt.Sprintf("  Total time: %.0fs", total)))
	fmt.Fprintln(p.out())
}

// FinalSummary prints the per-round metric table after the session ends.
func (p *Printer) FinalSummary(state *research.State) {
	fmt.Fprintln(p.out(), "\n"+headerBox.Render(Bold.Render("RESEARCH SESSION COMPLETE")))
	fmt.Fprintf(p.out(), "\nGoal: %s\nRounds: %d\n\n", state.Goal, len(state.Rounds))
	for _, r := range state.Rounds {
		metric := r.BestMetric
		if metric == "" {
			metric = "—"
		}
		fmt.Fprintf(p.out(), "  Round %d: %s\n", r.RoundNum, Good.Render(metric))
	}
	fmt.Fprintln(p.out())
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
