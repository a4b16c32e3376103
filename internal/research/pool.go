package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cexll/collab/internal/agent"
)

// PoolTask is one role-tagged prompt for a pool run.
type PoolTask struct {
	Role   string
	Agent  string // "claude" | "codex"
	Prompt string
}

// PoolOptions control the optional critic and synthesizer passes.
type PoolOptions struct {
	Criticize       bool
	CriticPrompt    string
	Synthesize      bool
	SynthesisPrompt string
}

// Pool runs multiple agent prompts concurrently and optionally folds the
// results through a claude critic and synthesizer.
type Pool struct {
	Claude agent.Runner
	Codex  agent.Runner

	// MaxParallel bounds concurrent calls. Zero means unbounded (one
	// goroutine per task, matching a handful of roles).
	MaxParallel int

	// StepLabel tags log lines.
	StepLabel string
}

// Run executes every task concurrently and returns outputs in task order.
// Individual agent failures are captured in the output, not returned as
// errors; only context cancellation aborts the run.
func (p *Pool) Run(ctx context.Context, tasks []PoolTask, opts PoolOptions) ([]AgentOutput, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	outputs := make([]AgentOutput, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if p.MaxParallel > 0 {
		g.SetLimit(p.MaxParallel)
	}

	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := p.runOne(gctx, t)
			mu.Lock()
			outputs[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.Criticize {
		outputs = append(outputs, p.criticize(ctx, outputs, opts.CriticPrompt))
	}
	if opts.Synthesize && len(outputs) > 1 {
		outputs = append(outputs, p.synthesize(ctx, outputs, opts.SynthesisPrompt))
	}
	return outputs, nil
}

func (p *Pool) runOne(ctx context.Context, t PoolTask) AgentOutput {
	runner := p.Claude
	if t.Agent == "codex" {
		runner = p.Codex
	}

	log.Printf("[Pool] %s: %s running as %s", p.StepLabel, t.Agent, t.Role)
	res, err := runner.Run(ctx, t.Prompt)
	if err != nil {
		return AgentOutput{Agent: t.Agent, Role: t.Role, Success: false, Error: err.Error()}
	}
	return AgentOutput{
		Agent:    t.Agent,
		Role:     t.Role,
		Output:   res.Output,
		Duration: res.Duration.Seconds(),
		Success:  res.Success(),
		Error:    res.Error,
	}
}

// criticize runs a claude critic over the successful outputs.
func (p *Pool) criticize(ctx context.Context, outputs []AgentOutput, criticPrompt string) AgentOutput {
	var sections []string
	for _, o := range outputs {
		if o.Success {
			sections = append(sections, fmt.Sprintf("=== %s ===\n%s", strings.ToUpper(o.Role), o.Output))
		}
	}
	combined := strings.Join(sections, "\n\n")

	prompt := criticPrompt
	if prompt == "" {
		prompt = fmt.Sprintf(`You are a rigorous critic reviewing %d parallel agent output(s).

%s

Critically evaluate these outputs:
1. **Logical Flaws**: Faulty reasoning or incorrect assumptions
2. **Missing Considerations**: Important factors that were overlooked
3. **Contradictions**: Where agents disagree and which position is stronger
4. **Overconfidence**: Claims made without sufficient evidence
5. **Verdict**: Which output (or combination) is most reliable, and what must be corrected

Be specific and constructive. This critique will guide subsequent steps.`, len(outputs), combined)
	}

	log.Printf("[Pool] %s: critic reviewing", p.StepLabel)
	res, err := p.Claude.Run(ctx, prompt)
	if err != nil {
		return AgentOutput{Agent: "claude", Role: "critic", Success: false, Error: err.Error()}
	}
	return AgentOutput{
		Agent:    "claude",
		Role:     "critic",
		Output:   res.Output,
		Duration: res.Duration.Seconds(),
		Success:  res.Success(),
		Error:    res.Error,
	}
}

// synthesize folds all outputs into one unified response.
func (p *Pool) synthesize(ctx context.Context, outputs []AgentOutput, synthesisPrompt string) AgentOutput {
	var sections []string
	for _, o := range outputs {
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", strings.ToUpper(o.Role), o.Output))
	}
	combined := strings.Join(sections, "\n\n")

	prompt := synthesisPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("Synthesize these %d parallel agent outputs into one unified, comprehensive response. Keep all unique insights:\n\n%s", len(outputs), combined)
	}

	res, err := p.Claude.Run(ctx, prompt)
	if err != nil {
		return AgentOutput{Agent: "claude", Role: "synthesizer", Success: false, Error: err.Error()}
	}
	return AgentOutput{
		Agent:    "claude",
		Role:     "synthesizer",
		Output:   res.Output,
		Duration: res.Duration.Seconds(),
		Success:  res.Success(),
		Error:    res.Error,
	}
}
