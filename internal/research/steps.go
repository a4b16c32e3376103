package research

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cexll/collab/internal/agent"
)

const understandTemplate = `You are an AI research scientist starting a new research round.

RESEARCH GOAL: {{.Goal}}
PREVIOUS ROUNDS CONTEXT:
{{.RoundContext}}

RESEARCH MEMORY (Learnings from previous rounds):
{{.MemoryContext}}

This is Round {{.RoundNum}}. Perform a thorough Goal Understanding analysis.

Provide:
1. **Core Research Question**: What specific question does this round answer?
2. **Current State**: What is the baseline? What has already been tried?
3. **Success Metrics**: Specific, measurable targets (e.g., metric X > Y%)
4. **Hypotheses for This Round**: 2-3 concrete, testable hypotheses
5. **Key Challenges**: What makes this hard? What might go wrong?
6. **Scope**: What is in-scope vs out-of-scope for this round?

Be precise and scientific. Think like a top ML researcher.`

const analyzeTemplate = `You are an AI research analyst performing deep problem analysis.

RESEARCH GOAL: {{.Goal}}
ROUND: {{.RoundNum}}

GOAL UNDERSTANDING (Step 1):
{{.Step1Output}}

PREVIOUS ROUNDS:
{{.RoundContext}}

RESEARCH MEMORY (Key learnings):
{{.MemoryContext}}

Your analytical perspective: {{.Perspective}}

Perform deep problem analysis covering:
1. **Root Cause Analysis**: Why does the current approach fail or underperform?
2. **Technical Bottlenecks**: Specific architectural/algorithmic issues
3. **Related Work Insights**: What do similar papers/methods suggest?
4. **Failure Modes**: What will fail and why?
5. **Recommended Approach**: The single most promising methodology to try
6. **Implementation Notes**: Key technical details for implementation

Be specific, technical, and actionable.`

// analystPerspectives cycle across the parallel analysts in step 2.
var analystPerspectives = []string{
	"Focus on architectural/model design issues",
	"Focus on training dynamics, loss functions, and optimization",
	"Focus on data distribution, feature quality, and preprocessing",
}

const planTemplate = `You are an AI research planner. Design the experimental methodology.

RESEARCH GOAL: {{.Goal}}
ROUND: {{.RoundNum}}

PROBLEM ANALYSIS:
{{.Step2Output}}

RESEARCH MEMORY (Avoid past mistakes, build on successes):
{{.MemoryContext}}

Design a concrete experimental methodology:
1. **Proposed Approach**: Describe the solution in detail
2. **Implementation Plan**: Step-by-step what code changes are needed
3. **Experiment Configurations**: List 2-4 specific configs to try
4. **Evaluation Protocol**: How to measure success
5. **Expected Outcome**: What results do you expect?

Output a JSON block at the end:
` + "```json" + `
{
  "experiments": [
    {"name": "exp_1", "description": "...", "key_change": "...", "expected_gain": "..."},
    {"name": "exp_2", "description": "...", "key_change": "...", "expected_gain": "..."}
  ]
}
` + "```"

const implementTemplate = `You are an expert ML engineer implementing a research experiment.

RESEARCH GOAL: {{.Goal}}
WORKING DIRECTORY: {{.Cwd}}

METHODOLOGY PLAN:
{{.Step3Plan}}

YOUR SPECIFIC TASK: {{.ImplTask}}

Implement the required changes:
1. Identify which files need to be modified
2. Write the actual code changes
3. Create any new scripts needed
4. Ensure the code is runnable

Focus ONLY on: {{.ImplTask}}
Make minimal, targeted changes. Do not break existing functionality.`

const experimentTemplate = `You are an AI researcher running an experiment.

RESEARCH GOAL: {{.Goal}}
WORKING DIRECTORY: {{.Cwd}}

IMPLEMENTATION:
{{.Step3Output}}

EXPERIMENT TO RUN: {{.ExpName}}
{{.ExpDescription}}

CRITICAL: If this is a LONG-RUNNING experiment (e.g., deep learning training taking hours/days):
1. Run it as a BACKGROUND_TASK
2. Specify the exact shell command
3. Provide the log file path to monitor
4. Indicate completion pattern to detect when done

Format for background tasks:
` + "```" + `
BACKGROUND_TASK: true
COMMAND: python run_moleflow.py --task_classes leather grid --num_epochs 60 --experiment_name V65_exp1
LOG_FILE: logs/V65_exp1/training.log
COMPLETION_PATTERN: Training completed
ESTIMATED_TIME: 4-6 hours
` + "```" + `

For SHORT experiments (< 2 minutes), run directly and report:
` + "```" + `
EXPERIMENT: {{.ExpName}}
STATUS: [SUCCESS/FAILED/PARTIAL]
METRICS:
  - metric_name: value (vs baseline: X, delta: +/-Y%)
OBSERVATIONS:
  - key observation
ERRORS/WARNINGS:
  - any issues
` + "```"

const resultsTemplate = `You are an AI research scientist analyzing experimental results.

RESEARCH GOAL: {{.Goal}}
ROUND: {{.RoundNum}}

METHODOLOGY (Step 3):
{{.Step3Output}}

EXPERIMENT RESULTS (Step 4):
{{.Step4Output}}

PREVIOUS BEST METRICS:
{{.BestMetrics}}

Provide rigorous result analysis:
1. **Result Summary**: What were the key numbers?
2. **What Worked**: Improvements and why (mechanism)
3. **What Failed**: Failures and root cause hypothesis
4. **Unexpected Findings**: Surprising results
5. **Statistical Confidence**: Are improvements real or noise?
6. **Best Configuration**: Which config performed best and why?

Be quantitative. Include specific numbers.`

const conclusionTemplate = `You are an AI research lead writing the round conclusion.

RESEARCH GOAL: {{.Goal}}
ROUND: {{.RoundNum}} of {{.TotalRounds}}

FULL ROUND SUMMARY:
{{.FullRoundContext}}

Write the research round conclusion:
1. **Key Findings**: Top 3 most important discoveries
2. **Best Result**: Highest performing configuration with exact metrics
3. **Understanding Gained**: What we now know that we didn't before
4. **Next Round Hypotheses**: 2-4 specific, testable hypotheses for Round {{.NextRound}}
5. **Research Direction**: Continue / Pivot / Done

End with a JSON block:
` + "```json" + `
{
  "best_metric": "MetricName=Value",
  "next_hypotheses": ["Hypothesis 1", "Hypothesis 2"],
  "direction": "continue|pivot|done",
  "critical_question": "..."
}
` + "```"

var (
	understandTmpl = template.Must(template.New("understand").Parse(understandTemplate))
	analyzeTmpl    = template.Must(template.New("analyze").Parse(analyzeTemplate))
	planTmpl       = template.Must(template.New("plan").Parse(planTemplate))
	implementTmpl  = template.Must(template.New("implement").Parse(implementTemplate))
	experimentTmpl = template.Must(template.New("experiment").Parse(experimentTemplate))
	resultsTmpl    = template.Must(template.New("results").Parse(resultsTemplate))
	conclusionTmpl = template.Must(template.New("conclusion").Parse(conclusionTemplate))
)

// stepPromptData feeds every step template; each template picks the fields
// it needs.
type stepPromptData struct {
	Goal             string
	Cwd              string
	RoundNum         int
	TotalRounds      int
	NextRound        int
	RoundContext     string
	MemoryContext    string
	Step1Output      string
	Step2Output      string
	Step3Plan        string
	Step3Output      string
	Step4Output      string
	Perspective      string
	ImplTask         string
	ExpName          string
	ExpDescription   string
	BestMetrics      string
	FullRoundContext string
}

func renderStep(tmpl *template.Template, data stepPromptData) string {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return ""
	}
	return b.String()
}

var (
	experimentsJSONRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\"experiments\".*?\\})\\s*```")
	conclusionJSONRe  = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
)

// ExperimentConfig is one entry of the step-3 experiments JSON block.
type ExperimentConfig struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	KeyChange    string `json:"key_change,omitempty"`
	ExpectedGain string `json:"expected_gain,omitempty"`
}

// Steps runs the six research steps of a round.
type Steps struct {
	Claude     agent.Runner
	Codex      agent.Runner
	ClaudePool *Pool
	CodexPool  *Pool
	Dispatcher *Dispatcher
	WorkDir    string

	NumAnalysts     int
	NumImplementers int
	NumExperiments  int

	// DispatchWorkers bounds concurrent background experiments. Zero
	// means 2.
	DispatchWorkers int

	// Constraints are user-supplied experiment limits (GPU memory, max
	// epochs, techniques to avoid) injected into steps 3 and 4.
	Constraints map[string]string

	// ParallelGPUs pins concurrent background experiments to distinct
	// devices via CUDA_VISIBLE_DEVICES.
	ParallelGPUs      bool
	GPUMinFreeMB      int
	GPUMaxUtilization int
}

func (s *Steps) analysts() int {
	if s.NumAnalysts <= 0 {
		return 2
	}
	return s.NumAnalysts
}

func (s *Steps) implementers() int {
	if s.NumImplementers <= 0 {
		return 2
	}
	return s.NumImplementers
}

func (s *Steps) experiments() int {
	if s.NumExperiments <= 0 {
		return 2
	}
	return s.NumExperiments
}

func (s *Steps) dispatchWorkers() int {
	if s.DispatchWorkers <= 0 {
		return 2
	}
	return s.DispatchWorkers
}

// Understand is step 1: a single claude pass framing the round's question,
// baseline, metrics, and hypotheses.
func (s *Steps) Understand(ctx context.Context, state *State, round *RoundResult) (*StepResult, error) {
	t0 := time.Now()

	prompt := renderStep(understandTmpl, stepPromptData{
		Goal:          state.Goal,
		RoundNum:      round.RoundNum,
		RoundContext:  state.RoundContext(),
		MemoryContext: state.Memory.FullContext(5),
	})
	res, err := s.Claude.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("understand step: %w", err)
	}

	state.Memory.ExtractLearnings(res.Output, round.RoundNum, "Goal Understanding")

	return &StepResult{
		StepID:   1,
		StepName: "Goal Understanding",
		Outputs: []AgentOutput{{
			Agent: "claude", Role: "understander",
			Output: res.Output, Duration: res.Duration.Seconds(),
			Success: res.Success(), Error: res.Error,
		}},
		Synthesized: res.Output,
		Duration:    time.Since(t0).Seconds(),
	}, nil
}

// Analyze is step 2: parallel claude analysts with distinct perspectives,
// folded through the critic and synthesizer when more than one runs.
func (s *Steps) Analyze(ctx context.Context, state *State, round *RoundResult) (*StepResult, error) {
	t0 := time.Now()
	n := s.analysts()

	step1Out := ""
	if sr := round.Steps["understand"]; sr != nil {
		step1Out = sr.PrimaryOutput()
	}
	memoryCtx := state.Memory.FullContext(5)

	tasks := make([]PoolTask, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, PoolTask{
			Role:  fmt.Sprintf("analyst-%d", i+1),
			Agent: "claude",
			Prompt: renderStep(analyzeTmpl, stepPromptData{
				Goal:          state.Goal,
				RoundNum:      round.RoundNum,
				Step1Output:   step1Out,
				RoundContext:  state.RoundContext(),
				MemoryContext: memoryCtx,
				Perspective:   analystPerspectives[i%len(analystPerspectives)],
			}),
		})
	}

	outputs, err := s.ClaudePool.Run(ctx, tasks, PoolOptions{Criticize: n > 1, Synthesize: n > 1})
	if err != nil {
		return nil, fmt.Errorf("analyze step: %w", err)
	}

	synthesized := ""
	for i := len(outputs) - 1; i >= 0; i-- {
		if outputs[i].Role == "synthesizer" {
			synthesized = outputs[i].Output
			break
		}
	}
	if synthesized == "" && len(outputs) > 0 {
		synthesized = outputs[len(outputs)-1].Output
	}

	for _, o := range outputs {
		state.Memory.ExtractLearnings(o.Output, round.RoundNum, "Problem Analysis")
	}

	return &StepResult{
		StepID:      2,
		StepName:    "Problem Analysis",
		Outputs:     outputs,
		Synthesized: synthesized,
		Duration:    time.Since(t0).Seconds(),
	}, nil
}

// constraintsText renders user constraints for prompt injection.
func (s *Steps) constraintsText() string {
	if len(s.Constraints) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s.Constraints))
	for k := range s.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n\nUSER-SPECIFIED CONSTRAINTS:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, s.Constraints[k])
	}
	b.WriteString("\nIMPORTANT: All experiments MUST respect these constraints.\n")
	return b.String()
}

// Methodology is step 3: claude designs the experimental plan, then codex
// implementers build the configurations in parallel.
func (s *Steps) Methodology(ctx context.Context, state *State, round *RoundResult) (*StepResult, error) {
	t0 := time.Now()

	step2Out := ""
	if sr := round.Steps["analyze"]; sr != nil {
		step2Out = sr.PrimaryOutput()
	}

	planPrompt := renderStep(planTmpl, stepPromptData{
		Goal:        state.Goal,
		RoundNum:    round.RoundNum,
		Step2Output: step2Out,
		// The planner gets the sharpest memory cut: what to avoid and
		// what to build on, not the whole digest.
		MemoryContext: state.Memory.MistakesContext(5) + "\n\n" + state.Memory.InsightsContext(5),
	}) + s.constraintsText()

	planRes, err := s.Claude.Run(ctx, planPrompt)
	if err != nil {
		return nil, fmt.Errorf("methodology step: %w", err)
	}
	planOutput := planRes.Output

	n := s.implementers()
	tasks := make([]PoolTask, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, PoolTask{
			Role:  fmt.Sprintf("implementer-%d", i+1),
			Agent: "codex",
			Prompt: renderStep(implementTmpl, stepPromptData{
				Goal:      state.Goal,
				Cwd:       s.WorkDir,
				Step3Plan: planOutput,
				ImplTask:  fmt.Sprintf("Implement experiment configuration #%d from the plan", i+1),
			}),
		})
	}
	implOutputs, err := s.CodexPool.Run(ctx, tasks, PoolOptions{Criticize: n > 1})
	if err != nil {
		return nil, fmt.Errorf("methodology step: %w", err)
	}

	allOutputs := append([]AgentOutput{{
		Agent: "claude", Role: "planner",
		Output: planOutput, Duration: planRes.Duration.Seconds(),
		Success: planRes.Success(),
	}}, implOutputs...)

	var combined strings.Builder
	fmt.Fprintf(&combined, "[PLAN]\n%s", planOutput)
	for i, o := range implOutputs {
		fmt.Fprintf(&combined, "\n\n[IMPLEMENTATION-%d]\n%s", i+1, o.Output)
	}

	state.Memory.ExtractLearnings(planOutput, round.RoundNum, "Methodology Planning")
	for _, o := range implOutputs {
		state.Memory.ExtractLearnings(o.Output, round.RoundNum, "Implementation")
	}

	return &StepResult{
		StepID:      3,
		StepName:    "Methodology & Implementation",
		Outputs:     allOutputs,
		Synthesized: combined.String(),
		Duration:    time.Since(t0).Seconds(),
	}, nil
}

// parseExperimentConfigs extracts the step-3 experiments JSON block,
// falling back to generic variants when it is missing or malformed.
func parseExperimentConfigs(step3Out string, n int) []ExperimentConfig {
	if m := experimentsJSONRe.FindStringSubmatch(step3Out); m != nil {
		var parsed struct {
			Experiments []ExperimentConfig `json:"experiments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &parsed); err == nil && len(parsed.Experiments) > 0 {
			if len(parsed.Experiments) > n {
				parsed.Experiments = parsed.Experiments[:n]
			}
			return parsed.Experiments
		}
	}

	configs := make([]ExperimentConfig, 0, n)
	for i := 0; i < n; i++ {
		configs = append(configs, ExperimentConfig{
			Name:        fmt.Sprintf("experiment_%d", i+1),
			Description: fmt.Sprintf("Experiment variant %d", i+1),
		})
	}
	return configs
}

// Experiment is step 4: codex plans each experiment run; declared
// background tasks are executed under the monitor with GPU pinning and
// retry, quick tasks report their results directly.
func (s *Steps) Experiment(ctx context.Context, state *State, round *RoundResult) (*StepResult, error) {
	t0 := time.Now()

	step3Out := ""
	if sr := round.Steps["methodology"]; sr != nil {
		step3Out = sr.PrimaryOutput()
	}

	configs := parseExperimentConfigs(step3Out, s.experiments())

	tasks := make([]PoolTask, 0, len(configs))
	for _, cfg := range configs {
		tasks = append(tasks, PoolTask{
			Role:  "exp-" + cfg.Name,
			Agent: "codex",
			Prompt: renderStep(experimentTmpl, stepPromptData{
				Goal:           state.Goal,
				Cwd:            s.WorkDir,
				Step3Output:    step3Out,
				ExpName:        cfg.Name,
				ExpDescription: cfg.Description,
			}) + s.constraintsText(),
		})
	}
	outputs, err := s.CodexPool.Run(ctx, tasks, PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("experiment step: %w", err)
	}

	type backgroundTask struct {
		idx  int
		out  AgentOutput
		spec *ExperimentSpec
	}
	var background []backgroundTask
	final := make([]AgentOutput, len(outputs))
	for i, o := range outputs {
		if spec := ParseExperimentSpec(o.Output); spec != nil {
			background = append(background, backgroundTask{idx: i, out: o, spec: spec})
		} else {
			final[i] = o
		}
	}

	if len(background) > 0 && s.Dispatcher != nil {
		var available []int
		var slots *GPUSlots
		if s.ParallelGPUs {
			LogGPUStatus(ctx)
			available = SelectAvailableGPUs(DetectGPUs(ctx), s.GPUMinFreeMB, s.GPUMaxUtilization)
			slots = &GPUSlots{}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.dispatchWorkers())
		for _, bt := range background {
			bt := bt
			g.Go(func() error {
				var gpuIDs []int
				if slots != nil {
					idx, err := slots.AcquireAny(gctx, available)
					if err != nil {
						return err
					}
					if idx >= 0 {
						gpuIDs = []int{idx}
						defer slots.Release(idx)
					}
				}
				final[bt.idx] = s.Dispatcher.RunExperiment(gctx, bt.out.Role, bt.out.Output, bt.spec, step3Out, gpuIDs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("experiment step: %w", err)
		}
	}

	var synthesized []string
	for _, o := range final {
		synthesized = append(synthesized, o.Output)

		state.Memory.ExtractLearnings(o.Output, round.RoundNum, "Experiment")
		if !o.Success || strings.Contains(strings.ToUpper(o.Output), "FAILED") {
			state.Memory.AddFailure(round.RoundNum, "Experiment",
				fmt.Sprintf("Experiment %s failed", o.Role), truncate(o.Output, 300))
		}
	}

	return &StepResult{
		StepID:      4,
		StepName:    "Experiment Execution",
		Outputs:     final,
		Synthesized: strings.Join(synthesized, "\n\n"),
		Duration:    time.Since(t0).Seconds(),
	}, nil
}

// Results is step 5: a single claude pass comparing the experiment output
// against the methodology and the best metrics of earlier rounds.
func (s *Steps) Results(ctx context.Context, state *State, round *RoundResult) (*StepResult, error) {
	t0 := time.Now()

	step3Out, step4Out := "", ""
	if sr := round.Steps["methodology"]; sr != nil {
		step3Out = sr.PrimaryOutput()
	}
	if sr := round.Steps["experiment"]; sr != nil {
		step4Out = sr.PrimaryOutput()
	}

	var best []string
	for _, r := range state.Rounds {
		if r.BestMetric != "" {
			best = append(best, fmt.Sprintf("Round %d: %s", r.RoundNum, r.BestMetric))
		}
	}
	bestMetrics := strings.Join(best, "\n")
	if bestMetrics == "" {
		bestMetrics = "No previous metrics."
	}

	prompt := renderStep(resultsTmpl, stepPromptData{
		Goal:        state.Goal,
		RoundNum:    round.RoundNum,
		Step3Output: step3Out,
		Step4Output: step4Out,
		BestMetrics: bestMetrics,
	})
	res, err := s.Claude.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("results step: %w", err)
	}

	state.Memory.ExtractLearnings(res.Output, round.RoundNum, "Result Analysis")

	return &StepResult{
		StepID:   5,
		StepName: "Result Analysis",
		Outputs: []AgentOutput{{
			Agent: "claude", Role: "result-analyst",
			Output: res.Output, Duration: res.Duration.Seconds(),
			Success: res.Success(),
		}},
		Synthesized: res.Output,
		Duration:    time.Since(t0).Seconds(),
	}, nil
}

// Conclude is step 6: claude writes the round conclusion and the trailing
// JSON block is parsed into the round's metric, hypotheses, and direction.
func (s *Steps) Conclude(ctx context.Context, state *State, round *RoundResult, totalRounds int) (*StepResult, error) {
	t0 := time.Now()

	prompt := renderStep(conclusionTmpl, stepPromptData{
		Goal:             state.Goal,
		RoundNum:         round.RoundNum,
		TotalRounds:      totalRounds,
		NextRound:        round.RoundNum + 1,
		FullRoundContext: state.StepContext(round, len(stepOrder)),
	})
	res, err := s.Claude.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("conclusion step: %w", err)
	}

	round.Conclusion = res.Output
	if m := conclusionJSONRe.FindStringSubmatch(res.Output); m != nil {
		var parsed struct {
			BestMetric     string   `json:"best_metric"`
			NextHypotheses []string `json:"next_hypotheses"`
			Direction      string   `json:"direction"`
		}
		if err := json.Unmarshal([]byte(m[1]), &parsed); err == nil {
			round.BestMetric = parsed.BestMetric
			round.NextHypotheses = parsed.NextHypotheses
			round.Direction = strings.ToLower(strings.TrimSpace(parsed.Direction))
		}
	}

	state.Memory.ExtractLearnings(res.Output, round.RoundNum, "Conclusion")

	return &StepResult{
		StepID:   6,
		StepName: "Conclusion",
		Outputs: []AgentOutput{{
			Agent: "claude", Role: "concluder",
			Output: res.Output, Duration: res.Duration.Seconds(),
			Success: res.Success(),
		}},
		Synthesized: res.Output,
		Duration:    time.Since(t0).Seconds(),
	}, nil
}
