// Package executor runs a plan's tasks in dependency order, passing
// dependency outputs as context into subsequent tasks.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/budget"
	"github.com/cexll/collab/internal/planner"
	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
)

// defaultDepsContextChars caps each dependency output injected into a
// prompt when no override is configured.
const defaultDepsContextChars = 2000

// Executor drives plan execution over the two agents.
type Executor struct {
	Claude agent.Runner
	Codex  agent.Runner

	// MaxParallel bounds concurrent tasks within a wave. Zero means 4.
	MaxParallel int

	// DepsContextChars caps each dependency output injected into a task
	// prompt. Zero means 2000.
	DepsContextChars int

	// ResultsDir receives the collab_results_*.md file. Empty disables it.
	ResultsDir string

	// Budget, when set, is consulted before and updated after every call.
	Budget *budget.Tracker

	// OnTaskDone is called after each task finishes (for display).
	OnTaskDone func(task planner.Task, res *agent.Result, done, total int)

	// Runs and RunID, when both set, receive live progress for the serve
	// dashboard's run registry.
	Runs  *taskstore.Store
	RunID string
}

func (e *Executor) depsCap() int {
	if e.DepsContextChars > 0 {
		return e.DepsContextChars
	}
	return defaultDepsContextChars
}

// publishStatus updates the run registry entry, when one is wired.
func (e *Executor) publishStatus(status taskstore.RunStatus) {
	if e.Runs != nil && e.RunID != "" {
		e.Runs.UpdateStatus(e.RunID, status)
	}
}

func (e *Executor) publishError(err error) {
	if e.Runs != nil && e.RunID != "" {
		e.Runs.SetError(e.RunID, err.Error())
	}
}

func (e *Executor) publishLog(level, format string, args ...any) {
	if e.Runs != nil && e.RunID != "" {
		e.Runs.AddLog(e.RunID, level, fmt.Sprintf(format, args...))
	}
}

// ExecutePlan runs every task of the plan in topological waves. When sess
// is non-nil, finished tasks are checkpointed and previously completed
// tasks are skipped with their cached outputs used as context.
func (e *Executor) ExecutePlan(ctx context.Context, plan *planner.Plan, sess *session.Session) (map[int]*agent.Result, error) {
	waves := Waves(plan.Tasks)

	completed := make(map[int]*agent.Result)
	var mu sync.Mutex

	skipped := 0
	if sess != nil {
		for _, t := range plan.Tasks {
			if !sess.TaskDone(t.ID) {
				continue
			}
			skipped++
			if cached := sess.TaskOutputs[fmt.Sprint(t.ID)]; cached != "" {
				completed[t.ID] = &agent.Result{Agent: t.Agent, Task: t.Prompt, Output: cached}
			}
		}
	}

	total := len(plan.Tasks)
	if skipped > 0 {
		log.Printf("[Executor] Resuming: skipping %d completed task(s), running %d remaining", skipped, total-skipped)
	} else {
		log.Printf("[Executor] Executing %d tasks in %d wave(s)", total, len(waves))
	}
	e.publishStatus(taskstore.StatusRunning)

	done := skipped
	for waveIdx, wave := range waves {
		var todo []planner.Task
		for _, t := range wave {
			if sess == nil || !sess.TaskDone(t.ID) {
				todo = append(todo, t)
			}
		}
		if len(todo) == 0 {
			continue
		}

		var parallelTasks, serialTasks []planner.Task
		for _, t := range todo {
			if t.Parallel && len(todo) > 1 {
				parallelTasks = append(parallelTasks, t)
			} else {
				serialTasks = append(serialTasks, t)
			}
		}

		if len(parallelTasks) > 0 {
			log.Printf("[Executor] Wave %d: running %d tasks in parallel", waveIdx+1, len(parallelTasks))

			g, gctx := errgroup.WithContext(ctx)
			limit := e.MaxParallel
			if limit <= 0 {
				limit = 4
			}
			g.SetLimit(limit)

			for _, t := range parallelTasks {
				t := t
				mu.Lock()
				prefix := e.buildContextPrefix(completed, t.DependsOn, plan.GlobalContext)
				mu.Unlock()

				g.Go(func() error {
					res, err := e.runTask(gctx, t, prefix)
					if err != nil {
						return err
					}
					mu.Lock()
					completed[t.ID] = res
					done++
					doneNow := done
					mu.Unlock()

					e.finishTask(t, res, doneNow, total, sess)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				e.publishError(err)
				return completed, err
			}
		}

		for _, t := range serialTasks {
			prefix := e.buildContextPrefix(completed, t.DependsOn, plan.GlobalContext)
			res, err := e.runTask(ctx, t, prefix)
			if err != nil {
				e.publishError(err)
				return completed, err
			}
			completed[t.ID] = res
			done++
			e.finishTask(t, res, done, total, sess)
		}
	}

	log.Printf("[Executor] All %d tasks complete", total)
	e.publishStatus(taskstore.StatusCompleted)
	if sess != nil {
		if err := sess.MarkCompleted(); err != nil {
			log.Printf("[Executor] Failed to finalize session: %v", err)
		}
	}

	if e.ResultsDir != "" {
		if path, err := e.saveResults(plan, completed); err != nil {
			log.Printf("[Executor] Failed to save results: %v", err)
		} else {
			log.Printf("[Executor] Results saved to %s", path)
		}
	}
	return completed, nil
}

// finishTask fans a completed task out to the display hook, the session
// checkpoint, and the run registry.
func (e *Executor) finishTask(t planner.Task, res *agent.Result, done, total int, sess *session.Session) {
	if e.OnTaskDone != nil {
		e.OnTaskDone(t, res, done, total)
	}
	level := "success"
	if !res.Success() {
		level = "error"
	}
	e.publishLog(level, "[%d/%d] Task %d: %s (%s)", done, total, t.ID, t.Title, t.Agent)
	if sess != nil {
		if err := sess.MarkTaskDone(t.ID, res.Output); err != nil {
			log.Printf("[Executor] Checkpoint failed: %v", err)
		}
	}
}

// runTask executes one task through its agent with budget accounting.
func (e *Executor) runTask(ctx context.Context, t planner.Task, contextPrefix string) (*agent.Result, error) {
	if e.Budget != nil {
		if err := e.Budget.CheckLimit(); err != nil {
			return nil, fmt.Errorf("task %d blocked: %w", t.ID, err)
		}
	}

	runner := e.Claude
	if t.Agent == "codex" {
		runner = e.Codex
	}

	res, err := runner.Run(ctx, contextPrefix+t.Prompt)
	if err != nil {
		return nil, fmt.Errorf("task %d (%s): %w", t.ID, t.Title, err)
	}
	if e.Budget != nil {
		e.Budget.RecordCall(res.Agent, res.Duration)
	}
	return res, nil
}

// Waves groups tasks into execution waves by in-degree bucketing. Each wave
// only depends on earlier waves. A dependency cycle dumps the remaining
// tasks into one final wave.
func Waves(tasks []planner.Task) [][]planner.Task {
	byID := make(map[int]planner.Task, len(tasks))
	inDegree := make(map[int]int, len(tasks))
	remaining := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		inDegree[t.ID] = len(t.DependsOn)
		remaining[t.ID] = true
	}

	var waves [][]planner.Task
	for len(remaining) > 0 {
		var waveIDs []int
		for id := range remaining {
			if inDegree[id] == 0 {
				waveIDs = append(waveIDs, id)
			}
		}
		if len(waveIDs) == 0 {
			log.Printf("[Executor] Dependency cycle detected; running %d remaining tasks in one wave", len(remaining))
			for id := range remaining {
				waveIDs = append(waveIDs, id)
			}
		}
		sort.Ints(waveIDs)

		wave := make([]planner.Task, 0, len(waveIDs))
		for _, id := range waveIDs {
			wave = append(wave, byID[id])
			delete(remaining, id)
		}
		waves = append(waves, wave)

		for _, t := range tasks {
			if !remaining[t.ID] {
				continue
			}
			for _, dep := range t.DependsOn {
				for _, id := range waveIDs {
					if dep == id {
						inDegree[t.ID]--
					}
				}
			}
		}
	}
	return waves
}

// buildContextPrefix assembles global instructions plus the outputs of the
// tasks this task depends on, each truncated to keep prompts bounded.
func (e *Executor) buildContextPrefix(completed map[int]*agent.Result, dependsOn []int, globalContext string) string {
	var parts []string

	if strings.TrimSpace(globalContext) != "" {
		parts = append(parts, "=== Global Instructions ===\n"+strings.TrimSpace(globalContext))
	}

	capChars := e.depsCap()
	for _, depID := range dependsOn {
		res := completed[depID]
		if res == nil || strings.TrimSpace(res.Output) == "" {
			continue
		}
		out := strings.TrimSpace(res.Output)
		if len(out) > capChars {
			out = out[:capChars] + "\n... [truncated]"
		}
		parts = append(parts, fmt.Sprintf("=== Output from Task %d (%s) ===\n%s", depID, strings.ToUpper(res.Agent), out))
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n\n--- Your task ---\n"
}

// saveResults writes the per-task markdown results file.
func (e *Executor) saveResults(plan *planner.Plan, completed map[int]*agent.Result) (string, error) {
	ts := time.Now().Format("20060102_150405")
	path := filepath.Join(e.ResultsDir, fmt.Sprintf("collab_results_%s.md", ts))

	var b strings.Builder
	fmt.Fprintf(&b, "# collab Results\n\n")
	fmt.Fprintf(&b, "**Goal:** %s\n\n", plan.Goal)
	fmt.Fprintf(&b, "**Date:** %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	for _, t := range plan.Tasks {
		res := completed[t.ID]
		if res == nil {
			continue
		}
		fmt.Fprintf(&b, "## Task %d: %s [%s]\n\n", t.ID, t.Title, strings.ToUpper(t.Agent))
		fmt.Fprintf(&b, "**Prompt:** %s\n\n", t.Prompt)
		fmt.Fprintf(&b, "**Output:**\n```\n%s\n```\n\n", strings.TrimSpace(res.Output))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
