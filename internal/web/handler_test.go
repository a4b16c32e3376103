package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/cexll/collab/internal/planner"
	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
)

func newTestHandler(t *testing.T) (*Handler, *taskstore.Store, *session.Store) {
	t.Helper()
	runs := taskstore.NewStore()
	sessions := session.NewStore(t.TempDir())
	h, err := NewHandler(runs, sessions)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h, runs, sessions
}

func TestHandlerRunList(t *testing.T) {
	h, runs, _ := newTestHandler(t)
	runs.Create(&taskstore.Run{
		ID:     "run-1",
		Kind:   taskstore.KindOneShot,
		Goal:   "explain the build",
		Agent:  "claude",
		Status: taskstore.StatusCompleted,
	})

	w := httptest.NewRecorder()
	h.handleRunList(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"run-1", "explain the build", "oneshot"} {
		if !strings.Contains(body, want) {
			t.Errorf("Run list missing %q", want)
		}
	}
}

func TestHandlerRunDetail(t *testing.T) {
	h, runs, _ := newTestHandler(t)
	runs.Create(&taskstore.Run{ID: "run-1", Kind: taskstore.KindPlan, Goal: "refactor"})
	runs.AddLog("run-1", "info", "starting task 1")
	runs.SetError("run-1", "codex exited with code 2")

	req := httptest.NewRequest("GET", "/run/run-1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "run-1"})
	w := httptest.NewRecorder()
	h.handleRunDetail(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"starting task 1", "codex exited with code 2"} {
		if !strings.Contains(body, want) {
			t.Errorf("Run detail missing %q", want)
		}
	}
}

func TestHandlerRunDetailNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/run/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	w := httptest.NewRecorder()
	h.handleRunDetail(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", w.Code)
	}
}

func TestHandlerSessionListAndDetail(t *testing.T) {
	h, _, sessions := newTestHandler(t)

	plan := &planner.Plan{
		Goal:  "add caching",
		Tasks: []planner.Task{{ID: 1, Title: "Design cache", Agent: "claude"}},
	}
	s, err := sessions.NewPlanningSession("add caching", "/tmp/w", plan)
	if err != nil {
		t.Fatalf("NewPlanningSession failed: %v", err)
	}
	if err := s.MarkTaskDone(1, "done"); err != nil {
		t.Fatalf("MarkTaskDone failed: %v", err)
	}

	w := httptest.NewRecorder()
	h.handleSessionList(w, httptest.NewRequest("GET", "/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "add caching") {
		t.Error("Session list missing the session goal")
	}
	if !strings.Contains(w.Body.String(), "1/1 tasks") {
		t.Error("Session list missing the progress label")
	}

	req := httptest.NewRequest("GET", "/session/"+s.ID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": s.ID})
	w = httptest.NewRecorder()
	h.handleSessionDetail(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Design cache") {
		t.Error("Session detail missing the plan task")
	}
}

func TestHandlerSessionDetailNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/session/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	w := httptest.NewRecorder()
	h.handleSessionDetail(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", w.Code)
	}
}

func TestHandlerRunsJSON(t *testing.T) {
	h, runs, _ := newTestHandler(t)
	runs.Create(&taskstore.Run{ID: "run-1", Kind: taskstore.KindResearch, Goal: "tune it"})

	w := httptest.NewRecorder()
	h.handleRunsJSON(w, httptest.NewRequest("GET", "/runs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got []taskstore.Run
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "run-1" || got[0].Kind != taskstore.KindResearch {
		t.Errorf("Runs JSON = %+v", got)
	}
}

func TestHandlerSessionJSON(t *testing.T) {
	h, _, sessions := newTestHandler(t)
	s, err := sessions.NewResearchSession("probe", "/tmp/w", 3)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/sessions/"+s.ID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": s.ID})
	w := httptest.NewRecorder()
	h.handleSessionJSON(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var got session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Goal != "probe" || got.TotalRounds != 3 {
		t.Errorf("Session JSON = %+v", got)
	}
}

func TestStatusColor(t *testing.T) {
	tests := []struct {
		status taskstore.RunStatus
		want   string
	}{
		{taskstore.StatusPending, "#6c757d"},
		{taskstore.StatusRunning, "#0d6efd"},
		{taskstore.StatusCompleted, "#198754"},
		{taskstore.StatusFailed, "#dc3545"},
	}
	for _, tt := range tests {
		if got := statusColor(tt.status); got != tt.want {
			t.Errorf("statusColor(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestLogLevelColor(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"error", "#dc3545"},
		{"success", "#198754"},
		{"info", "#0d6efd"},
		{"unknown", "#6c757d"},
	}
	for _, tt := range tests {
		if got := logLevelColor(tt.level); got != tt.want {
			t.Errorf("logLevelColor(%s) = %s, want %s", tt.level, got, tt.want)
		}
	}
}
