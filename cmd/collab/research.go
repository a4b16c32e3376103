package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/research"
	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
	"github.com/cexll/collab/internal/ui"
)

var (
	flagRounds       int
	flagAnalysts     int
	flagImplementers int
	flagExperiments  int
	flagConstraints  []string
	flagParallelGPUs bool
	flagResResume    string
	flagResPlanOnly  bool
	flagResInteract  bool
)

var researchCmd = &cobra.Command{
	Use:   "research [goal...]",
	Short: "Iterative multi-round research workflow",
	Long: `research runs an iterative loop of rounds, each with six steps:
goal understanding, multi-perspective analysis, methodology design,
experiment execution, result analysis, and a conclusion that steers the
next round. State is checkpointed after every step, so an interrupted
run resumes where it stopped.`,
	Example: `  collab research "Improve Pixel AP on MVTec by 5%"
  collab research --rounds 5 --experiments 3 "Reduce inference latency"
  collab research --constraint gpu_memory=24GB --constraint max_epochs=50 "..."
  collab research --resume`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runResearchCmd,
}

func init() {
	researchCmd.Flags().IntVar(&flagRounds, "rounds", 3, "Maximum research rounds")
	researchCmd.Flags().IntVar(&flagAnalysts, "analysts", 2, "Parallel analysts in step 2")
	researchCmd.Flags().IntVar(&flagImplementers, "implementers", 2, "Parallel implementers in step 3")
	researchCmd.Flags().IntVar(&flagExperiments, "experiments", 2, "Parallel experiments in step 4")
	researchCmd.Flags().StringArrayVar(&flagConstraints, "constraint", nil, "Experiment constraint as key=value (repeatable)")
	researchCmd.Flags().BoolVar(&flagParallelGPUs, "parallel-gpus", false, "Pin parallel experiments to distinct GPUs")
	researchCmd.Flags().StringVar(&flagResResume, "resume", "", "Resume a research session (shows picker when no id given)")
	researchCmd.Flags().Lookup("resume").NoOptDefVal = resumePicker
	researchCmd.Flags().BoolVar(&flagResPlanOnly, "plan-only", false, "Show the research workflow without running it")
	researchCmd.Flags().BoolVarP(&flagResInteract, "interactive", "i", false, "Pause for confirmation between rounds")
}

// researchParams collects one research run's knobs.
type researchParams struct {
	goal         string
	rounds       int
	analysts     int
	implementers int
	experiments  int
	constraints  map[string]string
	parallelGPUs bool
	interactive  bool
}

func runResearchCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if flagWeb {
		if err := a.startDashboard(a.cfg.WebAddr); err != nil {
			return err
		}
	}

	constraints, err := parseConstraints(flagConstraints)
	if err != nil {
		return err
	}
	p := researchParams{
		rounds:       flagRounds,
		analysts:     flagAnalysts,
		implementers: flagImplementers,
		experiments:  flagExperiments,
		constraints:  constraints,
		parallelGPUs: flagParallelGPUs,
		interactive:  flagResInteract,
	}

	if cmd.Flags().Changed("resume") {
		id := flagResResume
		if id == resumePicker {
			sess, ok := a.pickSession(session.TypeResearch)
			if !ok {
				return nil
			}
			id = sess.ID
		}
		sess, err := a.sessions.Load(id)
		if err != nil {
			return err
		}
		return a.resumeResearch(ctx, sess, p)
	}

	if flagResPlanOnly {
		a.printResearchPlan(p)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("research needs a goal (or --resume)")
	}
	p.goal = strings.Join(args, " ")
	return a.runResearch(ctx, p)
}

// parseConstraints turns repeated key=value flags into a map.
func parseConstraints(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, c := range raw {
		key, val, found := strings.Cut(c, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !found || key == "" || val == "" {
			return nil, fmt.Errorf("invalid --constraint %q: expected key=value", c)
		}
		out[key] = val
	}
	return out, nil
}

// runResearch starts a fresh research session.
func (a *app) runResearch(ctx context.Context, p researchParams) error {
	sess, err := a.sessions.NewResearchSession(p.goal, a.cwd, p.rounds)
	if err != nil {
		return fmt.Errorf("create research session: %w", err)
	}
	fmt.Fprintln(a.out, ui.Dim.Render("Session saved → "+sess.ID))

	state := research.NewState(p.goal, sess.Dir())
	return a.runResearchLoop(ctx, sess, state, p)
}

// resumeResearch restores state from an existing research session.
func (a *app) resumeResearch(ctx context.Context, sess *session.Session, p researchParams) error {
	if sess.Type != session.TypeResearch {
		return fmt.Errorf("session %s is not a research session", sess.ID)
	}
	state, err := research.LoadState(sess.ResearchStatePath)
	if err != nil {
		return err
	}
	p.goal = state.Goal
	if sess.TotalRounds > p.rounds {
		p.rounds = sess.TotalRounds
	}
	fmt.Fprintln(a.out, ui.Dim.Render(fmt.Sprintf("Resuming %s at round %d/%d", sess.ID, len(state.Rounds)+1, p.rounds)))
	return a.runResearchLoop(ctx, sess, state, p)
}

// runResearchLoop wires pools, dispatcher, and display hooks, then runs the
// round loop to completion or pause.
func (a *app) runResearchLoop(ctx context.Context, sess *session.Session, state *research.State, p researchParams) error {
	state.ContextRounds = a.cfg.ContextRounds
	state.StepContextChars = a.cfg.StepContextChars

	claude := a.claude
	if mcpPath, err := writeMCPConfig(sess.Dir()); err != nil {
		fmt.Fprintln(a.out, ui.Dim.Render("  Research memory server unavailable: "+err.Error()))
	} else {
		claude, err = agent.New("claude", a.cfg, agent.Options{WorkDir: a.cwd, MCPConfigPath: mcpPath})
		if err != nil {
			return err
		}
	}

	dispatcher := research.NewDispatcher(a.codex, a.cwd)
	dispatcher.MaxAttempts = a.cfg.DispatchMaxAttempts
	dispatcher.InitialBackoff = a.cfg.DispatchRetryInitial
	dispatcher.MaxBackoff = a.cfg.DispatchRetryMax
	dispatcher.BackoffMultiplier = a.cfg.DispatchBackoffMultiplier
	dispatcher.PollInterval = a.cfg.MonitorPollInterval
	dispatcher.StallAfter = a.cfg.MonitorStallAfter
	dispatcher.Timeout = a.cfg.MonitorTimeout

	steps := &research.Steps{
		Claude:            claude,
		Codex:             a.codex,
		ClaudePool:        &research.Pool{Claude: claude, Codex: a.codex, MaxParallel: a.cfg.MaxParallel, StepLabel: "Analyze"},
		CodexPool:         &research.Pool{Claude: claude, Codex: a.codex, MaxParallel: a.cfg.MaxParallel, StepLabel: "Implement"},
		Dispatcher:        dispatcher,
		DispatchWorkers:   a.cfg.DispatchWorkers,
		WorkDir:           a.cwd,
		NumAnalysts:       p.analysts,
		NumImplementers:   p.implementers,
		NumExperiments:    p.experiments,
		Constraints:       p.constraints,
		ParallelGPUs:      p.parallelGPUs,
		GPUMinFreeMB:      a.cfg.GPUMinFreeMB,
		GPUMaxUtilization: a.cfg.GPUMaxUtilization,
	}

	runID := a.trackRun(taskstore.KindResearch, state.Goal, "", sess.ID)

	printer := &ui.Printer{Out: a.out}
	loop := &research.Loop{
		Steps:        steps,
		State:        state,
		TotalRounds:  p.rounds,
		WorkDir:      a.cwd,
		Session:      sess,
		Runs:         a.runs,
		RunID:        runID,
		OnRoundStart: printer.RoundHeader,
		OnStepStart:  printer.StepStart,
		OnStepDone:   printer.StepDone,
		OnRoundDone:  printer.RoundSummary,
	}
	if p.interactive {
		loop.ConfirmRound = a.confirmRound
	}

	printer.SessionHeader(state.Goal, p.rounds)
	runErr := loop.Run(ctx)
	printer.FinalSummary(state)
	a.printMemorySummary(state)
	return runErr
}

// confirmRound asks before starting the next round; anything but n/no
// continues.
func (a *app) confirmRound(roundNum, totalRounds int) bool {
	fmt.Fprintf(a.out, "\n%s", ui.Bold.Render(fmt.Sprintf("Continue to round %d/%d? [Y/n] ", roundNum+1, totalRounds)))
	reader := bufio.NewReader(a.in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer != "n" && answer != "no"
}

func (a *app) printMemorySummary(state *research.State) {
	if state.Memory == nil {
		return
	}
	var insights, mistakes int
	for _, e := range state.Memory.Entries {
		switch e.Type {
		case "insight", "success":
			insights++
		case "mistake", "failure":
			mistakes++
		}
	}
	if insights == 0 && mistakes == 0 {
		return
	}
	fmt.Fprintln(a.out, ui.Dim.Render(fmt.Sprintf("  🧠 Memory: %d insight(s), %d mistake(s) saved for future rounds", insights, mistakes)))
}

func (a *app) printResearchPlan(p researchParams) {
	fmt.Fprintln(a.out, ui.Bold.Render("\n  Research workflow (per round)"))
	for _, m := range ui.ResearchSteps {
		fmt.Fprintf(a.out, "    %s  %-40s %s\n",
			ui.Dim.Render(fmt.Sprintf("Step %d/6", m.ID)), m.Name, ui.Dim.Render(m.Agents))
	}
	fmt.Fprintf(a.out, "\n  %s\n\n", ui.Dim.Render(fmt.Sprintf(
		"rounds=%d analysts=%d implementers=%d experiments=%d", p.rounds, p.analysts, p.implementers, p.experiments)))
}

// writeMCPConfig writes the MCP server config used by claude during
// research so insights and mistakes land in the session memory. The
// memory server binary is looked up next to the collab binary first,
// then on PATH.
func writeMCPConfig(sessionDir string) (string, error) {
	server, err := findMemoryServer()
	if err != nil {
		return "", err
	}

	cfg := map[string]any{
		"mcpServers": map[string]any{
			"research-memory": map[string]any{
				"command": server,
				"env": map[string]string{
					"COLLAB_SESSION_DIR": sessionDir,
				},
			},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}

	path := filepath.Join(sessionDir, "mcp_config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write mcp config: %w", err)
	}
	return path, nil
}

func findMemoryServer() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "mcp-memory-server")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("mcp-memory-server")
}
