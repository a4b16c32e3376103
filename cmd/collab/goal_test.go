package main

import (
	"context"
	"strings"
	"testing"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
)

const testPlanJSON = `{
  "goal": "add caching",
  "summary": "Design then implement",
  "tasks": [
    {"id": 1, "title": "Design cache", "prompt": "Design the cache layer", "agent": "claude", "depends_on": [], "parallel": false},
    {"id": 2, "title": "Implement cache", "prompt": "Implement the cache layer", "agent": "codex", "depends_on": [1], "parallel": false}
  ]
}`

// planningClaude answers the first call (the planning prompt) with plan
// JSON and later calls with plain task output.
func planningClaude(claude *mockRunner) {
	claude.runFn = func(ctx context.Context, task string) (*agent.Result, error) {
		if len(claude.calls) == 1 {
			return &agent.Result{Agent: "claude", Output: testPlanJSON}, nil
		}
		return &agent.Result{Agent: "claude", Output: "done: " + task[:min(len(task), 40)]}, nil
	}
}

func TestRunGoalPlanOnly(t *testing.T) {
	a, claude, codex, out := newTestApp(t)
	planningClaude(claude)
	a.in = strings.NewReader("go\n")

	if err := a.runGoal(context.Background(), "add caching", true); err != nil {
		t.Fatalf("runGoal returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Design cache") || !strings.Contains(out.String(), "Implement cache") {
		t.Errorf("Plan not rendered:\n%s", out.String())
	}
	if len(codex.calls) != 0 {
		t.Error("plan-only must not execute tasks")
	}
	if got := a.sessions.List(0); len(got) != 0 {
		t.Errorf("plan-only must not save a session, got %d", len(got))
	}
}

func TestRunGoalCancelled(t *testing.T) {
	a, claude, codex, out := newTestApp(t)
	planningClaude(claude)
	a.in = strings.NewReader("q\n")

	if err := a.runGoal(context.Background(), "add caching", false); err != nil {
		t.Fatalf("runGoal returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Cancelled.") {
		t.Errorf("Missing cancel notice:\n%s", out.String())
	}
	if len(claude.calls) != 1 || len(codex.calls) != 0 {
		t.Error("Cancelled plan must not execute")
	}
}

func TestRunGoalExecutesAndSavesSession(t *testing.T) {
	a, claude, codex, out := newTestApp(t)
	planningClaude(claude)
	a.in = strings.NewReader("go\n")

	if err := a.runGoal(context.Background(), "add caching", false); err != nil {
		t.Fatalf("runGoal returned error: %v", err)
	}

	if len(claude.calls) != 2 { // plan + task 1
		t.Errorf("Expected 2 claude calls, got %d", len(claude.calls))
	}
	if len(codex.calls) != 1 {
		t.Errorf("Expected 1 codex call, got %d", len(codex.calls))
	}
	if !strings.Contains(out.String(), "Plan complete") {
		t.Errorf("Missing completion notice:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "[1/2]") || !strings.Contains(out.String(), "[2/2]") {
		t.Errorf("Missing progress counters:\n%s", out.String())
	}

	sessions := a.sessions.List(0)
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 saved session, got %d", len(sessions))
	}
	if sessions[0].Status != session.StatusCompleted {
		t.Errorf("Session status = %q", sessions[0].Status)
	}
	if len(sessions[0].CompletedTaskIDs) != 2 {
		t.Errorf("Completed tasks = %v", sessions[0].CompletedTaskIDs)
	}
}

func TestRunGoalPublishesRunProgress(t *testing.T) {
	a, claude, _, _ := newTestApp(t)
	planningClaude(claude)
	a.runs = taskstore.NewStore()
	a.in = strings.NewReader("go\n")

	if err := a.runGoal(context.Background(), "add caching", false); err != nil {
		t.Fatalf("runGoal returned error: %v", err)
	}

	runs := a.runs.List()
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run in the registry, got %d", len(runs))
	}
	run := runs[0]
	if run.Kind != taskstore.KindPlan {
		t.Errorf("Kind = %q, want plan", run.Kind)
	}
	if run.Status != taskstore.StatusCompleted {
		t.Errorf("Status = %q, want completed", run.Status)
	}
	if run.SessionID == "" || run.ID != run.SessionID {
		t.Errorf("Run should be keyed by its session: %+v", run)
	}
	if len(run.Logs) != 2 {
		t.Fatalf("Logs = %d entries, want 2", len(run.Logs))
	}
	if !strings.Contains(run.Logs[0].Message, "Task 1: Design cache") {
		t.Errorf("First log = %q", run.Logs[0].Message)
	}
}

func TestRunGoalSeedsGlobalNoteFromConfig(t *testing.T) {
	a, claude, codex, _ := newTestApp(t)
	planningClaude(claude)
	a.globalNote = "be brief"
	a.in = strings.NewReader("go\n")

	if err := a.runGoal(context.Background(), "add caching", false); err != nil {
		t.Fatalf("runGoal returned error: %v", err)
	}
	if len(claude.calls) < 2 {
		t.Fatalf("claude calls = %d", len(claude.calls))
	}
	if !strings.Contains(claude.calls[1], "be brief") {
		t.Errorf("Task prompt missing global instructions:\n%s", claude.calls[1])
	}
	if len(codex.calls) == 1 && !strings.Contains(codex.calls[0], "be brief") {
		t.Errorf("Task 2 prompt missing global instructions")
	}
}

func TestRunGoalDependencyOutputFlowsForward(t *testing.T) {
	a, claude, codex, _ := newTestApp(t)
	planningClaude(claude)
	a.in = strings.NewReader("go\n")

	if err := a.runGoal(context.Background(), "add caching", false); err != nil {
		t.Fatalf("runGoal returned error: %v", err)
	}
	if len(codex.calls) != 1 {
		t.Fatalf("Expected 1 codex call, got %d", len(codex.calls))
	}
	if !strings.Contains(codex.calls[0], "Output from Task 1") {
		t.Errorf("Task 2 prompt missing dependency context:\n%s", codex.calls[0])
	}
}
