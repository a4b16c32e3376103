package main

import (
	"context"
	"fmt"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/budget"
	"github.com/cexll/collab/internal/executor"
	"github.com/cexll/collab/internal/planner"
	"github.com/cexll/collab/internal/planui"
	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
	"github.com/cexll/collab/internal/ui"
)

// runGoal drives the plan → review → execute pipeline for one goal.
func (a *app) runGoal(ctx context.Context, goal string, planOnly bool) error {
	goal = a.attachFiles(goal)
	fmt.Fprintln(a.out, ui.Bold.Render(fmt.Sprintf("\n⚙  Generating plan for: %.120s", goal)))

	sp := &ui.Spinner{Label: "Planning"}
	sp.Start()
	plan, err := planner.New(a.claude).GeneratePlan(ctx, goal, a.cwd)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	if plan.GlobalContext == "" {
		plan.GlobalContext = a.globalNote
	}

	editor := &planui.Editor{In: a.in, Out: a.out}
	final, ok := editor.Run(plan)
	if !ok {
		fmt.Fprintln(a.out, ui.Dim.Render("Cancelled."))
		return nil
	}
	if planOnly {
		fmt.Fprint(a.out, ui.RenderPlan(final, true))
		return nil
	}

	sess, err := a.sessions.NewPlanningSession(goal, a.cwd, final)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintln(a.out, ui.Dim.Render("Session saved → "+sess.ID))

	return a.executePlan(ctx, final, sess)
}

// executePlan runs the plan tasks, printing each result as it lands.
func (a *app) executePlan(ctx context.Context, plan *planner.Plan, sess *session.Session) error {
	runID := a.trackRun(taskstore.KindPlan, plan.Goal, "", sess.ID)

	exec := &executor.Executor{
		Claude:           a.claude,
		Codex:            a.codex,
		MaxParallel:      a.cfg.MaxParallel,
		ResultsDir:       a.cwd,
		DepsContextChars: a.cfg.DepsContextChars,
		Budget:           budget.NewTracker(a.cfg.MaxAgentCalls, a.cfg.BudgetAlertPercent),
		Runs:             a.runs,
		RunID:            runID,
		OnTaskDone: func(t planner.Task, res *agent.Result, done, total int) {
			status := ui.Good.Render("✓")
			if !res.Success() {
				status = ui.Bad.Render("✖")
			}
			fmt.Fprintf(a.out, "\n%s [%d/%d] Task %d: %s  %s\n",
				status, done, total, t.ID, t.Title,
				ui.Dim.Render(fmt.Sprintf("%.1fs", res.Duration.Seconds())))
			fmt.Fprintln(a.out, ui.RenderMarkdown(res.Text(), 100))
		},
	}

	if _, err := exec.ExecutePlan(ctx, plan, sess); err != nil {
		return err
	}
	fmt.Fprintln(a.out, ui.Good.Render("\n✓ Plan complete"))
	return nil
}
