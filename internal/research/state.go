// Package research drives the multi-round research workflow: six steps
// per round across the two agents, with state, memory, experiment
// monitoring, and GPU allocation.
package research

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AgentOutput is one agent's contribution to a step.
type AgentOutput struct {
	Agent    string  `json:"agent"`
	Role     string  `json:"role"`
	Output   string  `json:"output"`
	Duration float64 `json:"duration_s"`
	Success  bool    `json:"success"`
	Error    string  `json:"error,omitempty"`
}

// StepResult collects every agent output of one step.
type StepResult struct {
	StepID      int           `json:"step_id"`
	StepName    string        `json:"step_name"`
	Outputs     []AgentOutput `json:"outputs"`
	Synthesized string        `json:"synthesized,omitempty"`
	Duration    float64       `json:"duration_s"`
}

// PrimaryOutput returns the synthesized output when present, otherwise the
// first agent output.
func (s *StepResult) PrimaryOutput() string {
	if s.Synthesized != "" {
		return s.Synthesized
	}
	if len(s.Outputs) > 0 {
		return s.Outputs[0].Output
	}
	return ""
}

// AllOutputsText renders every output labeled by agent and role.
func (s *StepResult) AllOutputsText() string {
	parts := make([]string, 0, len(s.Outputs))
	for _, o := range s.Outputs {
		parts = append(parts, fmt.Sprintf("[%s / %s]\n%s", strings.ToUpper(o.Agent), o.Role, o.Output))
	}
	return strings.Join(parts, "\n\n")
}

// RoundResult is one completed (or in-flight) research round.
type RoundResult struct {
	RoundNum       int                    `json:"round_num"`
	StartedAt      string                 `json:"started_at"`
	FinishedAt     string                 `json:"finished_at,omitempty"`
	Steps          map[string]*StepResult `json:"steps"`
	Conclusion     string                 `json:"conclusion,omitempty"`
	NextHypotheses []string               `json:"next_hypotheses,omitempty"`
	BestMetric     string                 `json:"best_metric,omitempty"`
	Direction      string                 `json:"direction,omitempty"` // continue | pivot | done
}

// stepOrder fixes the six-step sequence of a round.
var stepOrder = []string{"understand", "analyze", "methodology", "experiment", "results", "conclusion"}

// State accumulates knowledge across research rounds.
type State struct {
	Goal      string         `json:"goal"`
	CreatedAt string         `json:"created_at"`
	Rounds    []*RoundResult `json:"rounds"`

	SessionDir string  `json:"-"`
	Memory     *Memory `json:"-"`

	// Context sizing; zero values fall back to the originals.
	ContextRounds    int `json:"-"`
	StepContextChars int `json:"-"`
}

// NewState creates a fresh state rooted in sessionDir, loading any memory
// already present there.
func NewState(goal, sessionDir string) *State {
	return &State{
		Goal:       goal,
		CreatedAt:  time.Now().Format("2006-01-02 15:04:05"),
		SessionDir: sessionDir,
		Memory:     LoadMemory(sessionDir, goal),
	}
}

// RoundContext summarizes the last rounds for prompt injection.
func (s *State) RoundContext() string {
	if len(s.Rounds) == 0 {
		return "No previous rounds."
	}
	maxRounds := s.ContextRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}

	start := len(s.Rounds) - maxRounds
	if start < 0 {
		start = 0
	}
	var parts []string
	for _, r := range s.Rounds[start:] {
		parts = append(parts, fmt.Sprintf("=== Round %d ===", r.RoundNum))
		if r.Conclusion != "" {
			parts = append(parts, "Conclusion: "+truncate(r.Conclusion, 800))
		}
		if len(r.NextHypotheses) > 0 {
			var hyp []string
			for _, h := range r.NextHypotheses {
				hyp = append(hyp, "  - "+h)
			}
			parts = append(parts, "Next hypotheses:\n"+strings.Join(hyp, "\n"))
		}
		if r.BestMetric != "" {
			parts = append(parts, "Best metric: "+r.BestMetric)
		}
	}
	return strings.Join(parts, "\n")
}

// StepContext summarizes the current round's steps before upToStep.
func (s *State) StepContext(round *RoundResult, upToStep int) string {
	maxChars := s.StepContextChars
	if maxChars <= 0 {
		maxChars = 1500
	}
	if upToStep > len(stepOrder) {
		upToStep = len(stepOrder)
	}

	var parts []string
	for _, name := range stepOrder[:upToStep] {
		res := round.Steps[name]
		if res == nil {
			continue
		}
		out := res.PrimaryOutput()
		if len(out) > maxChars {
			out = out[:maxChars] + "\n... [truncated]"
		}
		parts = append(parts, fmt.Sprintf("[Step: %s]\n%s", res.StepName, out))
	}
	return strings.Join(parts, "\n\n")
}

// Save writes the state and its memory to the session directory.
func (s *State) Save() (string, error) {
	path := filepath.Join(s.SessionDir, "research_state.json")
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal research state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write research state: %w", err)
	}

	if s.Memory != nil {
		if err := s.Memory.Save(s.SessionDir); err != nil {
			return "", err
		}
	}
	return path, nil
}

// LoadState reads a saved state; its directory becomes the session dir.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load research state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse research state: %w", err)
	}
	s.SessionDir = filepath.Dir(path)
	s.Memory = LoadMemory(s.SessionDir, s.Goal)
	return &s, nil
}

// MarkdownReport renders the whole research run as markdown.
func (s *State) MarkdownReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# AI Research Session\n\n")
	fmt.Fprintf(&b, "**Goal:** %s\n\n", s.Goal)
	fmt.Fprintf(&b, "**Started:** %s\n\n", s.CreatedAt)
	fmt.Fprintf(&b, "**Rounds:** %d\n\n", len(s.Rounds))

	for _, r := range s.Rounds {
		fmt.Fprintf(&b, "## Round %d\n\n", r.RoundNum)
		for _, name := range stepOrder {
			step := r.Steps[name]
			if step == nil {
				continue
			}
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", step.StepName, truncate(step.PrimaryOutput(), 2000))
		}
		if r.Conclusion != "" {
			fmt.Fprintf(&b, "### Conclusion\n\n%s\n\n", r.Conclusion)
		}
		if len(r.NextHypotheses) > 0 {
			b.WriteString("### Next Hypotheses\n\n")
			for _, h := range r.NextHypotheses {
				fmt.Fprintf(&b, "- %s\n", h)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
