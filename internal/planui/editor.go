// Package planui is the interactive plan review loop: show the generated
// plan, let the user reassign agents, edit prompts, add or delete tasks,
// then execute or cancel.
package planui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cexll/collab/internal/planner"
	"github.com/cexll/collab/internal/ui"
)

// Editor drives one plan review session. In and Out default to stdin and
// stdout.
type Editor struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
	verbose bool
}

// Run shows the plan and processes commands until the user executes or
// cancels. The returned plan is a deep copy; ok is false on cancel.
func (e *Editor) Run(orig *planner.Plan) (plan *planner.Plan, ok bool) {
	if e.In == nil {
		e.In = os.Stdin
	}
	if e.Out == nil {
		e.Out = os.Stdout
	}
	e.scanner = bufio.NewScanner(e.In)

	plan = clonePlan(orig)

	e.showPlan(plan)
	if plan.GlobalContext != "" {
		fmt.Fprintf(e.Out, "  Global note: %s\n\n", plan.GlobalContext)
	}
	e.showHelp()

	for {
		fmt.Fprint(e.Out, "plan> ")
		raw, readOK := e.readLine()
		if !readOK {
			return nil, false
		}
		raw = strings.TrimSpace(raw)

		if raw == "" {
			e.collectGlobalNote(plan)
			return plan, true
		}

		parts := strings.Fields(raw)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "go", "run", "exec", "execute":
			e.collectGlobalNote(plan)
			return plan, true

		case "q", "quit", "cancel", "exit":
			return nil, false

		case "show":
			e.showPlan(plan)

		case "verbose":
			e.verbose = !e.verbose
			e.showPlan(plan)

		case "h", "help", "?":
			e.showHelp()

		case "r":
			e.reassign(plan, parts)

		case "v":
			e.viewTask(plan, parts)

		case "e":
			e.editPrompt(plan, parts)

		case "d":
			e.deleteTask(plan, parts)

		case "a":
			e.addTask(plan)

		case "p":
			e.toggleParallel(plan, parts)

		case "dep":
			e.setDeps(plan, parts)

		case "note":
			if len(parts) < 2 {
				fmt.Fprintln(e.Out, "Usage: note <text>")
				continue
			}
			plan.GlobalContext = strings.Join(parts[1:], " ")
			fmt.Fprintf(e.Out, "✓ Global note set: %s\n", plan.GlobalContext)
			e.showPlan(plan)

		default:
			fmt.Fprintf(e.Out, "Unknown command: %q. Type 'h' for help.\n", raw)
		}
	}
}

func (e *Editor) readLine() (string, bool) {
	if !e.scanner.Scan() {
		return "", false
	}
	return e.scanner.Text(), true
}

func (e *Editor) showPlan(plan *planner.Plan) {
	fmt.Fprint(e.Out, ui.RenderPlan(plan, e.verbose))
}

func (e *Editor) showHelp() {
	cmds := [][2]string{
		{"Enter / go", "Execute the plan (prompts for additional context)"},
		{"r <n> <agent>", "Reassign task n to 'claude' or 'codex'"},
		{"e <n>", "Edit task n's prompt interactively"},
		{"v <n>", "View full prompt of task n"},
		{"d <n>", "Delete task n"},
		{"a", "Add a new task"},
		{"p <n>", "Toggle parallel flag for task n"},
		{"dep <n> <ids>", "Set dependencies, e.g. 'dep 3 1 2'"},
		{"note <text>", "Add global note/context to all tasks"},
		{"show", "Refresh the plan view"},
		{"verbose", "Toggle verbose (show prompts)"},
		{"q / quit", "Cancel without executing"},
	}
	fmt.Fprintln(e.Out, "\nCommands:")
	for _, c := range cmds {
		fmt.Fprintf(e.Out, "  %-16s  %s\n", c[0], c[1])
	}
	fmt.Fprintln(e.Out)
}

// collectGlobalNote reads an optional multi-line note appended to the
// plan's global context; an empty first line skips it.
func (e *Editor) collectGlobalNote(plan *planner.Plan) {
	fmt.Fprintln(e.Out, "\nOptional: Add global instructions for all tasks")
	fmt.Fprintln(e.Out, "  (Enter multiple lines, empty line to finish, 'cancel' to abort)")

	var lines []string
	for {
		fmt.Fprint(e.Out, "  + ")
		line, ok := e.readLine()
		if !ok {
			break
		}
		line = strings.TrimRight(line, " \t")
		if strings.EqualFold(line, "cancel") {
			return
		}
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return
	}

	extra := strings.Join(lines, "\n")
	if plan.GlobalContext != "" {
		plan.GlobalContext += "\n\n" + extra
	} else {
		plan.GlobalContext = extra
	}
	fmt.Fprintf(e.Out, "✓ Added: %s\n", truncateNote(extra, 100))
}

func (e *Editor) reassign(plan *planner.Plan, parts []string) {
	if len(parts) < 3 {
		fmt.Fprintln(e.Out, "Usage: r <task_id> <claude|codex>")
		return
	}
	tid, err := strconv.Atoi(parts[1])
	if err != nil {
		fmt.Fprintln(e.Out, "Usage: r <task_id> <claude|codex>")
		return
	}
	agent := strings.ToLower(parts[2])
	if agent != "claude" && agent != "codex" {
		fmt.Fprintln(e.Out, "Agent must be 'claude' or 'codex'")
		return
	}
	t, found := plan.TaskByID(tid)
	if !found {
		fmt.Fprintf(e.Out, "Task %d not found\n", tid)
		return
	}
	t.Agent = agent
	fmt.Fprintf(e.Out, "✓ Task %d → %s\n", tid, strings.ToUpper(agent))
	e.showPlan(plan)
}

func (e *Editor) viewTask(plan *planner.Plan, parts []string) {
	tid, ok := e.parseTaskID(parts, "Usage: v <task_id>")
	if !ok {
		return
	}
	t, found := plan.TaskByID(tid)
	if !found {
		fmt.Fprintf(e.Out, "Task %d not found\n", tid)
		return
	}
	fmt.Fprint(e.Out, ui.RenderTaskDetail(t))
}

func (e *Editor) editPrompt(plan *planner.Plan, parts []string) {
	tid, ok := e.parseTaskID(parts, "Usage: e <task_id>")
	if !ok {
		return
	}
	t, found := plan.TaskByID(tid)
	if !found {
		fmt.Fprintf(e.Out, "Task %d not found\n", tid)
		return
	}

	fmt.Fprintf(e.Out, "\nCurrent prompt for Task %d:\n%s\n", tid, t.Prompt)
	fmt.Fprintln(e.Out, "\nEnter new prompt (empty line to finish, 'cancel' to abort):")

	var lines []string
	for {
		fmt.Fprint(e.Out, "  ")
		line, rok := e.readLine()
		if !rok {
			lines = nil
			break
		}
		line = strings.TrimRight(line, " \t")
		if strings.EqualFold(line, "cancel") {
			lines = nil
			break
		}
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(e.Out, "Edit cancelled")
		return
	}
	t.Prompt = strings.Join(lines, " ")
	fmt.Fprintln(e.Out, "✓ Prompt updated")
}

func (e *Editor) deleteTask(plan *planner.Plan, parts []string) {
	tid, ok := e.parseTaskID(parts, "Usage: d <task_id>")
	if !ok {
		return
	}

	before := len(plan.Tasks)
	kept := plan.Tasks[:0]
	for _, t := range plan.Tasks {
		if t.ID != tid {
			kept = append(kept, t)
		}
	}
	plan.Tasks = kept
	if len(plan.Tasks) == before {
		fmt.Fprintf(e.Out, "Task %d not found\n", tid)
		return
	}

	// Drop dependencies on the deleted task.
	for i := range plan.Tasks {
		deps := plan.Tasks[i].DependsOn[:0]
		for _, d := range plan.Tasks[i].DependsOn {
			if d != tid {
				deps = append(deps, d)
			}
		}
		plan.Tasks[i].DependsOn = deps
	}
	fmt.Fprintf(e.Out, "✓ Task %d deleted\n", tid)
	e.showPlan(plan)
}

func (e *Editor) addTask(plan *planner.Plan) {
	fmt.Fprint(e.Out, "\nTitle: ")
	title, ok := e.readLine()
	if !ok {
		fmt.Fprintln(e.Out, "\nAdd cancelled")
		return
	}
	fmt.Fprint(e.Out, "Agent (claude/codex): ")
	agent, ok := e.readLine()
	if !ok {
		fmt.Fprintln(e.Out, "\nAdd cancelled")
		return
	}
	agent = strings.ToLower(strings.TrimSpace(agent))
	if agent != "claude" && agent != "codex" {
		agent = "claude"
	}
	fmt.Fprint(e.Out, "Prompt (one line): ")
	prompt, ok := e.readLine()
	if !ok {
		fmt.Fprintln(e.Out, "\nAdd cancelled")
		return
	}
	fmt.Fprint(e.Out, "Depends on (space-separated IDs, or Enter for none): ")
	depRaw, ok := e.readLine()
	if !ok {
		fmt.Fprintln(e.Out, "\nAdd cancelled")
		return
	}
	var deps []int
	for _, f := range strings.Fields(depRaw) {
		if d, err := strconv.Atoi(f); err == nil {
			deps = append(deps, d)
		}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "New task"
	}
	task := planner.Task{
		ID:        nextID(plan.Tasks),
		Title:     title,
		Agent:     agent,
		Prompt:    strings.TrimSpace(prompt),
		DependsOn: deps,
	}
	plan.Tasks = append(plan.Tasks, task)
	fmt.Fprintf(e.Out, "✓ Task %d added\n", task.ID)
	e.showPlan(plan)
}

func (e *Editor) toggleParallel(plan *planner.Plan, parts []string) {
	tid, ok := e.parseTaskID(parts, "Usage: p <task_id>")
	if !ok {
		return
	}
	t, found := plan.TaskByID(tid)
	if !found {
		fmt.Fprintf(e.Out, "Task %d not found\n", tid)
		return
	}
	t.Parallel = !t.Parallel
	state := "sequential"
	if t.Parallel {
		state = "parallel ∥"
	}
	fmt.Fprintf(e.Out, "✓ Task %d → %s\n", tid, state)
}

func (e *Editor) setDeps(plan *planner.Plan, parts []string) {
	if len(parts) < 2 {
		fmt.Fprintln(e.Out, "Usage: dep <task_id> <dep_id1> [dep_id2 ...]")
		return
	}
	tid, err := strconv.Atoi(parts[1])
	if err != nil {
		fmt.Fprintln(e.Out, "Usage: dep <task_id> <dep_id1> [dep_id2 ...]")
		return
	}
	t, found := plan.TaskByID(tid)
	if !found {
		fmt.Fprintf(e.Out, "Task %d not found\n", tid)
		return
	}

	var deps []int
	seen := make(map[int]bool)
	for _, f := range parts[2:] {
		d, err := strconv.Atoi(f)
		if err != nil {
			fmt.Fprintln(e.Out, "Usage: dep <task_id> <dep_id1> [dep_id2 ...]")
			return
		}
		if d == tid {
			fmt.Fprintf(e.Out, "Task %d cannot depend on itself\n", tid)
			return
		}
		if _, ok := plan.TaskByID(d); !ok {
			fmt.Fprintf(e.Out, "Task %d not found\n", d)
			return
		}
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	t.DependsOn = deps
	fmt.Fprintf(e.Out, "✓ Task %d depends on %v\n", tid, deps)
}

func (e *Editor) parseTaskID(parts []string, usage string) (int, bool) {
	if len(parts) < 2 {
		fmt.Fprintln(e.Out, usage)
		return 0, false
	}
	tid, err := strconv.Atoi(parts[1])
	if err != nil {
		fmt.Fprintln(e.Out, usage)
		return 0, false
	}
	return tid, true
}

func clonePlan(p *planner.Plan) *planner.Plan {
	out := *p
	out.Tasks = make([]planner.Task, len(p.Tasks))
	copy(out.Tasks, p.Tasks)
	for i := range out.Tasks {
		out.Tasks[i].DependsOn = append([]int(nil), p.Tasks[i].DependsOn...)
	}
	return &out
}

func nextID(tasks []planner.Task) int {
	max := 0
	for _, t := range tasks {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}

func truncateNote(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
