package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/fileref"
	"github.com/cexll/collab/internal/taskstore"
	"github.com/cexll/collab/internal/ui"
)

// attachFiles expands /path and @name references and prints a notice for
// anything that got attached.
func (a *app) attachFiles(text string) string {
	expanded, attached := fileref.Expand(text, a.cwd)
	if len(attached) > 0 {
		names := make([]string, len(attached))
		for i, p := range attached {
			names[i] = filepath.Base(p)
		}
		fmt.Fprintln(a.out, ui.Dim.Render(fmt.Sprintf("  📎 %d file(s) attached: %s", len(attached), strings.Join(names, ", "))))
	}
	return expanded
}

// runSingle runs one task through one agent with a spinner.
func (a *app) runSingle(ctx context.Context, runner agent.Runner, task string) error {
	runID := a.trackRun(taskstore.KindOneShot, task, runner.Name(), "")
	err := a.singleShot(ctx, runner, task)
	a.finishRun(runID, err)
	return err
}

func (a *app) singleShot(ctx context.Context, runner agent.Runner, task string) error {
	task = a.attachFiles(task)

	sp := &ui.Spinner{Label: fmt.Sprintf("[%s] thinking", strings.ToUpper(runner.Name()))}
	sp.Start()
	res, err := runner.Run(ctx, task)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("%s: %w", runner.Name(), err)
	}

	if !res.Success() {
		fmt.Fprintln(a.out, ui.Bad.Render(fmt.Sprintf("[%s ERROR]", strings.ToUpper(runner.Name()))))
		fmt.Fprintln(a.out, res.Error)
		return fmt.Errorf("%s exited with code %d", runner.Name(), res.ReturnCode)
	}

	a.printResult(res)
	return nil
}

// runParallel runs the same task through both agents, then has claude
// critique the combined answers.
func (a *app) runParallel(ctx context.Context, task string) error {
	runID := a.trackRun(taskstore.KindOneShot, task, "claude+codex", "")
	err := a.parallelShot(ctx, task)
	a.finishRun(runID, err)
	return err
}

func (a *app) parallelShot(ctx context.Context, task string) error {
	task = a.attachFiles(task)

	results := make([]*agent.Result, 2)
	sp := &ui.Spinner{Label: "Running Claude + Codex in parallel"}
	sp.Start()

	g, gctx := errgroup.WithContext(ctx)
	for i, runner := range []agent.Runner{a.claude, a.codex} {
		g.Go(func() error {
			res, err := runner.Run(gctx, task)
			if err != nil {
				return fmt.Errorf("%s: %w", runner.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	sp.Stop()
	if err != nil {
		return err
	}

	var successful []*agent.Result
	for _, res := range results {
		a.printResult(res)
		if res.Success() && strings.TrimSpace(res.Output) != "" {
			successful = append(successful, res)
		}
	}
	if len(successful) == 0 {
		return fmt.Errorf("both agents failed")
	}

	fmt.Fprintln(a.out, ui.Bad.Render("\n── Critic [CLAUDE] ─────────────────────────────────────────────────"))
	sp = &ui.Spinner{Label: "[CRITIC] reviewing"}
	sp.Start()
	critic, err := a.claude.Run(ctx, criticPrompt(task, successful))
	sp.Stop()
	if err != nil {
		return fmt.Errorf("critic: %w", err)
	}
	a.printResult(critic)
	return nil
}

func criticPrompt(task string, results []*agent.Result) string {
	var sections []string
	for _, r := range results {
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", strings.ToUpper(r.Agent), strings.TrimSpace(r.Output)))
	}
	return fmt.Sprintf(`You are a rigorous critic reviewing parallel agent responses.

TASK: %s

%s

Critically evaluate:
1. **Correctness**: Any factual errors or faulty logic?
2. **Completeness**: What important aspects were missed?
3. **Contradictions**: Where agents disagree — which is right?
4. **Best Approach**: Which response should be acted on?
5. **Improvements**: What would make the answer stronger?

Be specific, constructive, and concise.`, task, strings.Join(sections, "\n\n"))
}

// printResult shows one agent result: badge, duration, rendered output.
func (a *app) printResult(res *agent.Result) {
	fmt.Fprintf(a.out, "\n%s  %s\n", ui.AgentBadge(res.Agent), ui.Dim.Render(fmt.Sprintf("%.1fs", res.Duration.Seconds())))
	fmt.Fprintln(a.out, ui.RenderMarkdown(strings.TrimSpace(res.Text()), 100))
}
