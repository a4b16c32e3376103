package main

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/fileref"
	"github.com/cexll/collab/internal/ui"
)

// replHistoryMax bounds the retained interactions; the context injection
// uses only the most recent three.
const replHistoryMax = 8

type replEntry struct {
	prompt   string
	response string
}

// replCtx tracks conversation history and display settings for the REPL.
type replCtx struct {
	history    []replEntry
	compact    bool
	lastOutput string
}

func (c *replCtx) push(prompt, response string) {
	c.history = append(c.history, replEntry{
		prompt:   truncateStr(prompt, 600),
		response: truncateStr(response, 1500),
	})
	c.lastOutput = response
	if len(c.history) > replHistoryMax {
		c.history = c.history[1:]
	}
}

// injectContext prepends the last three interactions to the prompt.
func (c *replCtx) injectContext(prompt string) string {
	if len(c.history) == 0 {
		return prompt
	}
	recent := c.history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	parts := []string{"--- Conversation context ---"}
	for _, e := range recent {
		parts = append(parts, fmt.Sprintf("User: %s\nAssistant: %s", e.prompt, truncateStr(e.response, 500)))
	}
	parts = append(parts, "--- Current request ---")
	return strings.Join(parts, "\n\n") + "\n" + prompt
}

// tokenEstimate approximates the context size at four chars per token.
func (c *replCtx) tokenEstimate() int {
	chars := 0
	for _, e := range c.history {
		chars += len(e.prompt) + len(e.response)
	}
	return chars / 4
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// repl is the interactive loop: free text plans and executes, slash
// commands route explicitly.
func (a *app) repl(ctx context.Context) error {
	a.printWelcome()
	rctx := &replCtx{}
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		a.printPrompt(rctx)
		raw, ok := a.readInput(scanner)
		if !ok {
			fmt.Fprintln(a.out, ui.Dim.Render("\n  Bye!"))
			return nil
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		switch {
		case raw == "/quit" || raw == "/exit" || raw == "quit" || raw == "exit":
			fmt.Fprintln(a.out, ui.Dim.Render("Bye!"))
			return nil

		case raw == "/help":
			a.printHelp()

		case raw == "/clear":
			rctx.history = nil
			rctx.lastOutput = ""
			fmt.Fprintln(a.out, ui.Dim.Render("  Context cleared."))

		case raw == "/history":
			a.printHistory(rctx)

		case raw == "/status" || raw == "/s":
			a.printStatus(rctx)

		case raw == "/compact":
			rctx.compact = !rctx.compact
			state := "off"
			if rctx.compact {
				state = "on"
			}
			fmt.Fprintln(a.out, ui.Dim.Render("  Compact mode: "+state))

		case raw == "/copy":
			a.copyLast(rctx)

		case strings.HasPrefix(raw, "/claude "):
			a.runAgentRepl(ctx, a.claude, strings.TrimSpace(raw[8:]), rctx)

		case strings.HasPrefix(raw, "/codex "):
			a.runAgentRepl(ctx, a.codex, strings.TrimSpace(raw[7:]), rctx)

		case strings.HasPrefix(raw, "/auto "):
			a.runAuto(ctx, strings.TrimSpace(raw[6:]), rctx)

		case strings.HasPrefix(raw, "/route "):
			fmt.Fprint(a.out, a.router.Explain(strings.TrimSpace(raw[7:])))

		case strings.HasPrefix(raw, "/parallel "):
			if err := a.runParallel(ctx, strings.TrimSpace(raw[10:])); err != nil {
				fmt.Fprintln(a.out, ui.Bad.Render("  "+err.Error()))
			}

		case strings.HasPrefix(raw, "/plan "):
			if err := a.runGoal(ctx, strings.TrimSpace(raw[6:]), true); err != nil {
				fmt.Fprintln(a.out, ui.Bad.Render("  "+err.Error()))
			}

		case strings.HasPrefix(raw, "/research "):
			if err := a.researchFromREPL(ctx, strings.TrimSpace(raw[10:])); err != nil {
				fmt.Fprintln(a.out, ui.Bad.Render("  "+err.Error()))
			}

		case strings.HasPrefix(raw, "/files"):
			a.showFileCandidates(strings.TrimSpace(strings.TrimPrefix(raw, "/files")))

		case strings.HasPrefix(raw, "@?") || strings.HasPrefix(raw, "/?"):
			a.showFileCandidates(strings.TrimSpace(raw[2:]))

		case strings.HasPrefix(raw, "/"):
			cmd := strings.Fields(raw)[0]
			fmt.Fprintln(a.out, ui.Bad.Render(fmt.Sprintf("  ❌ Unknown command: %q", cmd)))
			fmt.Fprintln(a.out, ui.Dim.Render("  Type /help to see all commands, or describe your goal without a / prefix."))

		case strings.HasPrefix(strings.ToLower(raw), "research "):
			if err := a.researchFromREPL(ctx, strings.TrimSpace(raw[9:])); err != nil {
				fmt.Fprintln(a.out, ui.Bad.Render("  "+err.Error()))
			}

		default:
			if err := a.runGoal(ctx, raw, false); err != nil {
				fmt.Fprintln(a.out, ui.Bad.Render("  "+err.Error()))
			}
		}
	}
}

// readInput reads one line, or a multi-line block when the line starts
// with `"""` (terminated by `"""` alone).
func (a *app) readInput(scanner *bufio.Scanner) (string, bool) {
	if !scanner.Scan() {
		return "", false
	}
	first := scanner.Text()
	if !strings.HasPrefix(first, `"""`) {
		return first, true
	}

	fmt.Fprintln(a.out, ui.Dim.Render(`  (multi-line: end with """ on its own line)`))
	lines := []string{strings.TrimPrefix(first, `"""`)}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == `"""` {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), true
}

func (a *app) printPrompt(rctx *replCtx) {
	prefix := ""
	if rctx.compact {
		prefix += ui.Dim.Render("[compact] ")
	}
	if tok := rctx.tokenEstimate(); tok > 0 {
		prefix += ui.Dim.Render(fmt.Sprintf("[~%dt] ", tok))
	}
	hint := ""
	if len(rctx.history) == 0 {
		hint = ui.Dim.Render("(Type your request or /help) ")
	}
	fmt.Fprint(a.out, prefix+ui.Good.Render("▶ ")+hint)
}

// runAgentRepl runs one agent with conversation context injected and
// records the interaction in the REPL history.
func (a *app) runAgentRepl(ctx context.Context, runner agent.Runner, task string, rctx *replCtx) {
	if task == "" {
		fmt.Fprintln(a.out, ui.Dim.Render("  Usage: /"+runner.Name()+" <task>"))
		return
	}
	task = a.attachFiles(task)

	sp := &ui.Spinner{Label: fmt.Sprintf("[%s] thinking", strings.ToUpper(runner.Name()))}
	sp.Start()
	res, err := runner.Run(ctx, rctx.injectContext(task))
	sp.Stop()
	if err != nil {
		fmt.Fprintln(a.out, ui.Bad.Render("  "+err.Error()))
		return
	}
	if !res.Success() {
		fmt.Fprintln(a.out, ui.Bad.Render(fmt.Sprintf("[%s ERROR]", strings.ToUpper(runner.Name()))))
		fmt.Fprintln(a.out, res.Error)
		return
	}

	text := strings.TrimSpace(res.Text())
	fmt.Fprintf(a.out, "\n%s  %s\n", ui.AgentBadge(res.Agent), ui.Dim.Render(fmt.Sprintf("%.1fs", res.Duration.Seconds())))
	if rctx.compact {
		a.printCompact(text)
	} else {
		fmt.Fprintln(a.out, ui.RenderMarkdown(text, 100))
	}
	rctx.push(task, text)
}

// runAuto routes a task to the agent the keyword router scores highest.
func (a *app) runAuto(ctx context.Context, task string, rctx *replCtx) {
	if task == "" {
		fmt.Fprintln(a.out, ui.Dim.Render("  Usage: /auto <task>"))
		return
	}
	d := a.router.Classify(task)
	fmt.Fprintln(a.out, ui.Dim.Render("  → routed to "+strings.ToUpper(d.Agent)))
	runner := a.claude
	if d.Agent == "codex" {
		runner = a.codex
	}
	a.runAgentRepl(ctx, runner, task, rctx)
}

// printCompact shows the first 25 lines of a response.
func (a *app) printCompact(text string) {
	lines := strings.Split(text, "\n")
	if len(lines) <= 25 {
		fmt.Fprintln(a.out, ui.RenderMarkdown(text, 100))
		return
	}
	fmt.Fprintln(a.out, ui.RenderMarkdown(strings.Join(lines[:25], "\n"), 100))
	fmt.Fprintln(a.out, ui.Dim.Render(fmt.Sprintf("  ... %d more lines (/copy for full output, /compact to toggle)", len(lines)-25)))
}

// researchFromREPL kicks off a research run with the REPL's settings.
func (a *app) researchFromREPL(ctx context.Context, goal string) error {
	if goal == "" {
		fmt.Fprintln(a.out, ui.Dim.Render("  Usage: /research <goal>"))
		return nil
	}
	return a.runResearch(ctx, researchParams{
		goal:         goal,
		rounds:       a.cfg.TotalRounds,
		analysts:     2,
		implementers: 2,
		experiments:  2,
	})
}

func (a *app) showFileCandidates(pattern string) {
	if pattern == "" {
		fmt.Fprintln(a.out, ui.Dim.Render("  Usage: /files <pattern>  (or @?pattern)"))
		return
	}
	matches := fileref.Candidates(pattern, a.cwd)
	if len(matches) == 0 {
		fmt.Fprintln(a.out, ui.Dim.Render("  No files matching "+pattern))
		return
	}
	fmt.Fprintln(a.out, ui.Bold.Render(fmt.Sprintf("  %d file(s) matching %q:", len(matches), pattern)))
	for _, m := range matches {
		fmt.Fprintln(a.out, "    "+m)
	}
	fmt.Fprintln(a.out, ui.Dim.Render("  Reference a file in a prompt with @path or /path."))
}

// clipboardCommand builds a command piping stdin to the first available
// clipboard tool; swappable for tests.
var clipboardCommand = func(ctx context.Context) *exec.Cmd {
	for _, tool := range [][]string{
		{"pbcopy"},
		{"xclip", "-selection", "clipboard"},
		{"xsel", "--clipboard", "--input"},
		{"wl-copy"},
	} {
		if _, err := exec.LookPath(tool[0]); err == nil {
			return exec.CommandContext(ctx, tool[0], tool[1:]...)
		}
	}
	return nil
}

func (a *app) copyLast(rctx *replCtx) {
	if rctx.lastOutput == "" {
		fmt.Fprintln(a.out, ui.Dim.Render("  Nothing to copy yet."))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cmd := clipboardCommand(ctx)
	if cmd == nil {
		fmt.Fprintln(a.out, ui.Bad.Render("  No clipboard tool found (pbcopy/xclip/xsel/wl-copy)."))
		return
	}
	cmd.Stdin = strings.NewReader(rctx.lastOutput)
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(a.out, ui.Bad.Render("  Copy failed: "+err.Error()))
		return
	}
	fmt.Fprintln(a.out, ui.Good.Render(fmt.Sprintf("  ✓ Copied %d chars to clipboard.", len(rctx.lastOutput))))
}

func (a *app) printWelcome() {
	fmt.Fprintln(a.out, ui.Bold.Render("\n🤝 collab — Claude Code + Codex orchestrator"))
	fmt.Fprintf(a.out, "%s\n", ui.Dim.Render("   cwd: "+a.cwd))
	fmt.Fprintln(a.out, ui.Dim.Render("   Describe a goal, or type /help for commands. /quit exits."))
	fmt.Fprintln(a.out)
}

func (a *app) printHelp() {
	rows := []struct{ cmd, desc string }{
		{"<goal>", "Plan, review, and execute a multi-step goal"},
		{"/claude <task>", "Run Claude Code directly (with conversation context)"},
		{"/codex <task>", "Run Codex CLI directly (with conversation context)"},
		{"/auto <task>", "Route the task by keyword scoring"},
		{"/route <task>", "Show the routing decision without running"},
		{"/parallel <task>", "Run both agents, then a critic pass"},
		{"/plan <goal>", "Generate and show a plan without executing"},
		{"/research <goal>", "Iterative multi-round research loop"},
		{"research <goal>", "Shortcut for /research"},
		{"/files <pattern>", "Search for files to reference (also @?pattern)"},
		{"/history", "Show recent interactions"},
		{"/status, /s", "Show agents, cwd, and context size"},
		{"/compact", "Toggle 25-line response previews"},
		{"/copy", "Copy the last response to the clipboard"},
		{"/clear", "Clear conversation context"},
		{`"""`, "Start multi-line input (end with \"\"\")"},
		{"/quit, /exit", "Leave the REPL"},
	}
	fmt.Fprintln(a.out, ui.Bold.Render("\n  Commands"))
	for _, r := range rows {
		fmt.Fprintf(a.out, "    %-20s %s\n", ui.Accent.Render(r.cmd), ui.Dim.Render(r.desc))
	}
	fmt.Fprintln(a.out)
}

func (a *app) printHistory(rctx *replCtx) {
	if len(rctx.history) == 0 {
		fmt.Fprintln(a.out, ui.Dim.Render("  No history yet."))
		return
	}
	fmt.Fprintln(a.out, ui.Bold.Render(fmt.Sprintf("\n  Last %d interaction(s):", len(rctx.history))))
	for i, e := range rctx.history {
		fmt.Fprintf(a.out, "  %s %s\n", ui.Accent.Render(fmt.Sprintf("[%d]", i+1)), firstLine(e.prompt, 80))
		fmt.Fprintf(a.out, "      %s\n", ui.Dim.Render(firstLine(e.response, 100)))
	}
	fmt.Fprintln(a.out)
}

func (a *app) printStatus(rctx *replCtx) {
	fmt.Fprintln(a.out, ui.Bold.Render("\n  Status"))
	fmt.Fprintf(a.out, "    claude:  %s (%s)\n", a.cfg.ClaudeBin, a.cfg.ClaudeModel)
	fmt.Fprintf(a.out, "    codex:   %s (%s)\n", a.cfg.CodexBin, a.cfg.CodexModel)
	fmt.Fprintf(a.out, "    cwd:     %s\n", a.cwd)
	fmt.Fprintf(a.out, "    context: %d interaction(s), ~%d tokens\n", len(rctx.history), rctx.tokenEstimate())
	compact := "off"
	if rctx.compact {
		compact = "on"
	}
	fmt.Fprintf(a.out, "    compact: %s\n\n", compact)
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
