package planner

import (
	"fmt"
	"strings"
)

// Task is one subtask of a decomposed goal.
type Task struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Prompt    string `json:"prompt"`
	Agent     string `json:"agent"`
	DependsOn []int  `json:"depends_on"`
	Parallel  bool   `json:"parallel"`
}

// Plan is a goal decomposed into subtasks by the planning agent.
type Plan struct {
	Goal    string `json:"goal"`
	Summary string `json:"summary"`
	Tasks   []Task `json:"tasks"`

	// GlobalContext holds user instructions that prefix every task prompt.
	// Set from the plan editor, not by the planner itself.
	GlobalContext string `json:"global_context,omitempty"`
}

// Normalize fills defaults and cleans the dependency lists the way a
// best-effort LLM response needs: missing ids become positional, unknown
// and self dependencies are dropped. Duplicate ids are an error since the
// dependency graph would be ambiguous.
func (p *Plan) Normalize() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}

	seen := make(map[int]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID == 0 {
			t.ID = i + 1
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %d in plan", t.ID)
		}
		seen[t.ID] = true

		if strings.TrimSpace(t.Title) == "" {
			t.Title = fmt.Sprintf("Task %d", t.ID)
		}
		switch t.Agent {
		case "claude", "codex":
		default:
			t.Agent = "claude"
		}
	}

	for i := range p.Tasks {
		t := &p.Tasks[i]
		cleaned := t.DependsOn[:0]
		for _, dep := range t.DependsOn {
			if dep != t.ID && seen[dep] {
				cleaned = append(cleaned, dep)
			}
		}
		t.DependsOn = cleaned
	}
	return nil
}

// TaskByID returns the task with the given id.
func (p *Plan) TaskByID(id int) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}
