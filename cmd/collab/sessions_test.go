package main

import (
	"context"
	"strings"
	"testing"

	"github.com/cexll/collab/internal/planner"
	"github.com/cexll/collab/internal/session"
)

func seedPlanningSession(t *testing.T, a *app) *session.Session {
	t.Helper()
	plan := &planner.Plan{
		Goal: "add caching",
		Tasks: []planner.Task{
			{ID: 1, Title: "Design cache", Prompt: "design it", Agent: "claude"},
			{ID: 2, Title: "Implement cache", Prompt: "implement it", Agent: "codex", DependsOn: []int{1}},
		},
	}
	sess, err := a.sessions.NewPlanningSession("add caching", a.cwd, plan)
	if err != nil {
		t.Fatalf("NewPlanningSession: %v", err)
	}
	return sess
}

func TestFormatSessionRow(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	sess := seedPlanningSession(t, a)

	row := formatSessionRow(1, sess)
	for _, want := range []string{"[1]", "📋", "add caching", "0/2 tasks", sess.ID} {
		if !strings.Contains(row, want) {
			t.Errorf("Row missing %q:\n%s", want, row)
		}
	}

	research, err := a.sessions.NewResearchSession("probe latency", a.cwd, 3)
	if err != nil {
		t.Fatalf("NewResearchSession: %v", err)
	}
	row = formatSessionRow(2, research)
	if !strings.Contains(row, "🔬") || !strings.Contains(row, "Round 0/3") {
		t.Errorf("Research row:\n%s", row)
	}
}

func TestResumePlanningSkipsCompletedTasks(t *testing.T) {
	a, claude, codex, out := newTestApp(t)
	sess := seedPlanningSession(t, a)
	if err := sess.MarkTaskDone(1, "already designed"); err != nil {
		t.Fatalf("MarkTaskDone: %v", err)
	}

	if err := a.resumePlanning(context.Background(), sess); err != nil {
		t.Fatalf("resumePlanning: %v", err)
	}
	if len(claude.calls) != 0 {
		t.Errorf("Task 1 already done, claude calls = %d", len(claude.calls))
	}
	if len(codex.calls) != 1 {
		t.Fatalf("Expected task 2 to run, codex calls = %d", len(codex.calls))
	}
	if !strings.Contains(codex.calls[0], "already designed") {
		t.Error("Cached dependency output should flow into task 2")
	}
	if !strings.Contains(out.String(), "Plan complete") {
		t.Errorf("Output:\n%s", out.String())
	}
}

func TestResumeCompletedSessionIsNoop(t *testing.T) {
	a, claude, codex, out := newTestApp(t)
	sess := seedPlanningSession(t, a)
	if err := sess.MarkCompleted(); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	if err := a.resumePlanning(context.Background(), sess); err != nil {
		t.Fatalf("resumePlanning: %v", err)
	}
	if len(claude.calls)+len(codex.calls) != 0 {
		t.Error("Completed session must not re-run tasks")
	}
	if !strings.Contains(out.String(), "already completed") {
		t.Errorf("Output:\n%s", out.String())
	}
}

func TestResumeUnknownID(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	if err := a.resume(context.Background(), "nope"); err == nil {
		t.Fatal("Expected error for unknown session id")
	}
}

func TestResumeResearchRejectsPlanningSession(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	sess := seedPlanningSession(t, a)
	err := a.resumeResearch(context.Background(), sess, researchParams{rounds: 3})
	if err == nil || !strings.Contains(err.Error(), "not a research session") {
		t.Fatalf("Expected type error, got %v", err)
	}
}

func TestPickSessionSelect(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	sess := seedPlanningSession(t, a)

	a.in = strings.NewReader("1\n")
	picked, ok := a.pickSession("")
	if !ok || picked.ID != sess.ID {
		t.Fatalf("pickSession = %v, %v", picked, ok)
	}
}

func TestPickSessionQuit(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	seedPlanningSession(t, a)

	a.in = strings.NewReader("q\n")
	if _, ok := a.pickSession(""); ok {
		t.Fatal("Expected cancel")
	}
}

func TestPickSessionInvalidThenSelect(t *testing.T) {
	a, _, _, out := newTestApp(t)
	seedPlanningSession(t, a)

	a.in = strings.NewReader("99\n1\n")
	_, ok := a.pickSession("")
	if !ok {
		t.Fatal("Expected selection after retry")
	}
	if !strings.Contains(out.String(), "Invalid session number") {
		t.Errorf("Output:\n%s", out.String())
	}
}

func TestPickSessionDelete(t *testing.T) {
	a, _, _, out := newTestApp(t)
	sess := seedPlanningSession(t, a)

	a.in = strings.NewReader("d 1\ny\n")
	_, ok := a.pickSession("")
	if ok {
		t.Fatal("Deleting the only session should end the picker")
	}
	if !strings.Contains(out.String(), "Deleted "+sess.ID) {
		t.Errorf("Output:\n%s", out.String())
	}
	if got := a.sessions.List(0); len(got) != 0 {
		t.Errorf("Session should be gone, got %d", len(got))
	}
}

func TestPickSessionDeleteDeclined(t *testing.T) {
	a, _, _, out := newTestApp(t)
	seedPlanningSession(t, a)

	a.in = strings.NewReader("d 1\nn\nq\n")
	if _, ok := a.pickSession(""); ok {
		t.Fatal("Expected quit")
	}
	if !strings.Contains(out.String(), "Kept.") {
		t.Errorf("Output:\n%s", out.String())
	}
	if got := a.sessions.List(0); len(got) != 1 {
		t.Errorf("Session should survive, got %d", len(got))
	}
}

func TestPickSessionTypeFilter(t *testing.T) {
	a, _, _, out := newTestApp(t)
	seedPlanningSession(t, a)

	a.in = strings.NewReader("")
	if _, ok := a.pickSession(session.TypeResearch); ok {
		t.Fatal("No research sessions exist")
	}
	if !strings.Contains(out.String(), "No saved sessions") {
		t.Errorf("Output:\n%s", out.String())
	}
}
