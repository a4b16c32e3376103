package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"text/template"

	"github.com/cexll/collab/internal/agent"
)

// PlanPromptTemplate asks the planning agent for a strict-JSON task
// decomposition of the goal.
const PlanPromptTemplate = `You are a software development task planner.

Break the following goal into 3-8 concrete, actionable subtasks.
Assign each task to the most appropriate agent:

- "claude": architecture design, complex reasoning, analysis, debugging,
            code review, documentation, strategy, understanding codebase
- "codex":  code generation, writing tests, implementing functions,
            creating files, boilerplate, refactoring specific code

Rules:
1. Each task prompt must be self-contained and specific enough for the agent to act on alone.
2. Respect natural dependencies (depends_on: list of task IDs that must finish first).
3. Tasks with no dependencies and no conflicts can run in parallel (parallel: true).
4. Keep titles <= 8 words.

Goal: {{.Goal}}
Working directory: {{.Cwd}}

Respond with ONLY valid JSON - no markdown fences, no explanation:
{
  "goal": "{{.GoalEscaped}}",
  "summary": "One sentence: what will be built/achieved",
  "tasks": [
    {
      "id": 1,
      "title": "Short action title",
      "prompt": "Detailed, self-contained prompt for the agent.",
      "agent": "claude",
      "depends_on": [],
      "parallel": false
    }
  ]
}`

// jsonBlockRe grabs the outermost JSON object from LLM chatter.
var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// Planner generates plans through a planning agent (claude).
type Planner struct {
	Agent agent.Runner
}

// New returns a Planner backed by the given agent.
func New(a agent.Runner) *Planner {
	return &Planner{Agent: a}
}

// GeneratePlan asks the planning agent to decompose the goal, parses the
// JSON out of the response, and normalizes the result.
func (p *Planner) GeneratePlan(ctx context.Context, goal, cwd string) (*Plan, error) {
	prompt, err := renderPlanPrompt(goal, cwd)
	if err != nil {
		return nil, err
	}

	log.Printf("[Planner] Generating plan for goal: %s", truncate(goal, 80))
	res, err := p.Agent.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("planner agent failed: %w", err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("planner agent exited with code %d: %s", res.ReturnCode, truncate(res.Error, 300))
	}

	plan, err := ParsePlan(res.Output)
	if err != nil {
		return nil, err
	}
	if plan.Goal == "" {
		plan.Goal = goal
	}
	log.Printf("[Planner] Plan ready: %d tasks", len(plan.Tasks))
	return plan, nil
}

// ParsePlan extracts and validates the plan JSON from raw agent output.
func ParsePlan(raw string) (*Plan, error) {
	match := jsonBlockRe.FindString(raw)
	if match == "" {
		return nil, fmt.Errorf("no JSON object in planner output:\n%s", truncate(raw, 500))
	}

	var plan Plan
	if err := json.Unmarshal([]byte(match), &plan); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w\n%s", err, truncate(match, 500))
	}
	if err := plan.Normalize(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func renderPlanPrompt(goal, cwd string) (string, error) {
	tmpl, err := template.New("plan-prompt").Parse(PlanPromptTemplate)
	if err != nil {
		return "", fmt.Errorf("parse plan template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]string{
		"Goal":        goal,
		"Cwd":         cwd,
		"GoalEscaped": strings.ReplaceAll(goal, `"`, `\"`),
	})
	if err != nil {
		return "", fmt.Errorf("execute plan template: %w", err)
	}
	return buf.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
