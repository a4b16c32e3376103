package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/config"
	"github.com/cexll/collab/internal/router"
	"github.com/cexll/collab/internal/session"
	"github.com/cexll/collab/internal/taskstore"
)

// resumePicker is the --resume value when no session id was given.
const resumePicker = "PICKER"

var (
	flagClaude      bool
	flagCodex       bool
	flagParallel    bool
	flagPlanOnly    bool
	flagResume      string
	flagInteractive bool
	flagCwd         string
	flagVerbose     bool
	flagWeb         bool
)

var rootCmd = &cobra.Command{
	Use:   "collab [goal...]",
	Short: "Claude Code + Codex CLI orchestrator",
	Long: `collab orchestrates the claude and codex CLI binaries: one-shot
tasks, parallel runs with a critic pass, goal planning with a reviewable
task plan, and an iterative research mode.

Run with no arguments for the interactive REPL.`,
	Example: `  collab "Build a REST API with JWT authentication"
  collab --claude "Explain ./internal/auth"
  collab --codex  "Generate CRUD boilerplate"
  collab --parallel "Compare approaches for OAuth2"
  collab --plan-only "Design a microservice system"
  collab research "Improve Pixel AP on MVTec by 5%"
  collab sessions`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().BoolVar(&flagClaude, "claude", false, "Force Claude Code")
	rootCmd.Flags().BoolVar(&flagCodex, "codex", false, "Force Codex CLI")
	rootCmd.Flags().BoolVar(&flagParallel, "parallel", false, "Run both agents simultaneously with a critic pass")
	rootCmd.Flags().BoolVar(&flagPlanOnly, "plan-only", false, "Generate and show the plan without executing")
	rootCmd.Flags().StringVar(&flagResume, "resume", "", "Resume a session (shows picker when no id given)")
	rootCmd.Flags().Lookup("resume").NoOptDefVal = resumePicker
	rootCmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false, "Interactive REPL mode (default when no goal)")

	rootCmd.PersistentFlags().StringVar(&flagCwd, "cwd", ".", "Working directory for agents")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&flagWeb, "web", false, "Serve the dashboard alongside the run")

	rootCmd.AddCommand(researchCmd, sessionsCmd, resumeCmd, logCmd, serveCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// app wires configuration, the two agent runners, and the session store
// for one invocation. In and out are swappable for tests.
type app struct {
	cfg      *config.Config
	claude   agent.Runner
	codex    agent.Runner
	router   *router.Router
	sessions *session.Store
	cwd      string

	// runs is the live registry behind the web dashboard. Nil unless
	// --web or serve builds one; publishing is skipped when nil.
	runs *taskstore.Store

	// globalNote comes from the config file and seeds every plan's
	// global context.
	globalNote string

	in  io.Reader
	out io.Writer
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	fc, err := config.LoadFile(cfg.FileConfigPath)
	if err != nil {
		log.Printf("[Config] ignoring config file: %v", err)
		fc = nil
	}
	cfg.Merge(fc)

	cwd, err := filepath.Abs(flagCwd)
	if err != nil {
		return nil, fmt.Errorf("resolve --cwd: %w", err)
	}

	claude, err := agent.New("claude", cfg, agent.Options{WorkDir: cwd})
	if err != nil {
		return nil, err
	}
	codex, err := agent.New("codex", cfg, agent.Options{WorkDir: cwd})
	if err != nil {
		return nil, err
	}

	var claudeKw, codexKw []string
	var globalNote string
	if fc != nil {
		claudeKw, codexKw = fc.ClaudeKeywords, fc.CodexKeywords
		globalNote = fc.GlobalInstructions
	}

	return &app{
		cfg:        cfg,
		claude:     claude,
		codex:      codex,
		router:     router.New(claudeKw, codexKw, "claude"),
		sessions:   session.NewStore(cfg.SessionsDir),
		cwd:        cwd,
		globalNote: globalNote,
		in:         os.Stdin,
		out:        os.Stdout,
	}, nil
}

func runRoot(cmd *cobra.Command, args []string) error {
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

	if cmd.Flags().Changed("resume") {
		id := flagResume
		if id == resumePicker {
			id = ""
		}
		return a.resume(ctx, id)
	}

	if len(args) == 0 || flagInteractive {
		return a.repl(ctx)
	}

	goal := strings.Join(args, " ")
	switch {
	case flagClaude:
		return a.runSingle(ctx, a.claude, goal)
	case flagCodex:
		return a.runSingle(ctx, a.codex, goal)
	case flagParallel:
		return a.runParallel(ctx, goal)
	default:
		return a.runGoal(ctx, goal, flagPlanOnly)
	}
}
