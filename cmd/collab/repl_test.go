package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestReplCtxPushCapsHistory(t *testing.T) {
	c := &replCtx{}
	for i := 0; i < 12; i++ {
		c.push(fmt.Sprintf("prompt %d", i), fmt.Sprintf("response %d", i))
	}
	if len(c.history) != replHistoryMax {
		t.Fatalf("Expected %d entries, got %d", replHistoryMax, len(c.history))
	}
	if c.history[0].prompt != "prompt 4" {
		t.Errorf("Expected oldest entry dropped, first is %q", c.history[0].prompt)
	}
	if c.lastOutput != "response 11" {
		t.Errorf("lastOutput = %q", c.lastOutput)
	}
}

func TestReplCtxPushTruncates(t *testing.T) {
	c := &replCtx{}
	c.push(strings.Repeat("p", 1000), strings.Repeat("r", 3000))
	if len(c.history[0].prompt) != 600 {
		t.Errorf("Expected prompt capped at 600, got %d", len(c.history[0].prompt))
	}
	if len(c.history[0].response) != 1500 {
		t.Errorf("Expected response capped at 1500, got %d", len(c.history[0].response))
	}
	if len(c.lastOutput) != 3000 {
		t.Errorf("lastOutput should keep the full response, got %d", len(c.lastOutput))
	}
}

func TestInjectContextEmptyHistory(t *testing.T) {
	c := &replCtx{}
	if got := c.injectContext("do the thing"); got != "do the thing" {
		t.Errorf("Expected passthrough, got %q", got)
	}
}

func TestInjectContextLimitsToThree(t *testing.T) {
	c := &replCtx{}
	for i := 1; i <= 5; i++ {
		c.push(fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}
	got := c.injectContext("next")

	if !strings.Contains(got, "--- Conversation context ---") || !strings.Contains(got, "--- Current request ---") {
		t.Fatalf("Missing context markers:\n%s", got)
	}
	if strings.Contains(got, "question 2") {
		t.Error("Older interactions should not be injected")
	}
	for i := 3; i <= 5; i++ {
		if !strings.Contains(got, fmt.Sprintf("question %d", i)) {
			t.Errorf("Missing question %d", i)
		}
	}
	if !strings.HasSuffix(got, "\nnext") {
		t.Errorf("Prompt should follow the context block, got tail %q", got[len(got)-20:])
	}
}

func TestInjectContextTrimsResponses(t *testing.T) {
	c := &replCtx{}
	c.push("q", strings.Repeat("x", 1400))
	got := c.injectContext("next")
	if strings.Contains(got, strings.Repeat("x", 501)) {
		t.Error("Injected response should be trimmed to 500 chars")
	}
}

func TestTokenEstimate(t *testing.T) {
	c := &replCtx{}
	c.push("aaaa", "bbbbbbbb")
	if got := c.tokenEstimate(); got != 3 {
		t.Errorf("Expected 3 tokens for 12 chars, got %d", got)
	}
}

func TestReadInputSingleLine(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	sc := bufio.NewScanner(strings.NewReader("hello world\n"))
	got, ok := a.readInput(sc)
	if !ok || got != "hello world" {
		t.Errorf("readInput = %q, %v", got, ok)
	}
}

func TestReadInputMultiline(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	sc := bufio.NewScanner(strings.NewReader("\"\"\"first\nsecond\n\"\"\"\n"))
	got, ok := a.readInput(sc)
	if !ok {
		t.Fatal("Expected ok")
	}
	if got != "first\nsecond" {
		t.Errorf("Multiline input = %q", got)
	}
}

func runRepl(t *testing.T, a *app, input string) string {
	t.Helper()
	a.in = strings.NewReader(input)
	if err := a.repl(context.Background()); err != nil {
		t.Fatalf("repl returned error: %v", err)
	}
	out := a.out.(fmt.Stringer)
	return out.String()
}

func TestReplQuit(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	out := runRepl(t, a, "quit\n")
	if !strings.Contains(out, "Bye!") {
		t.Errorf("Missing goodbye:\n%s", out)
	}
}

func TestReplEOFExits(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	out := runRepl(t, a, "")
	if !strings.Contains(out, "Bye!") {
		t.Errorf("EOF should exit cleanly:\n%s", out)
	}
}

func TestReplHelpListsCommands(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	out := runRepl(t, a, "/help\nquit\n")
	for _, want := range []string{"/parallel", "/research", "/compact", "/copy", "/auto"} {
		if !strings.Contains(out, want) {
			t.Errorf("Help missing %q", want)
		}
	}
}

func TestReplUnknownCommand(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	out := runRepl(t, a, "/bogus\nquit\n")
	if !strings.Contains(out, "Unknown command") {
		t.Errorf("Missing unknown-command hint:\n%s", out)
	}
}

func TestReplCompactToggle(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	out := runRepl(t, a, "/compact\n/compact\nquit\n")
	if !strings.Contains(out, "Compact mode: on") || !strings.Contains(out, "Compact mode: off") {
		t.Errorf("Compact toggle output:\n%s", out)
	}
}

func TestReplStatus(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	out := runRepl(t, a, "/s\nquit\n")
	if !strings.Contains(out, "test-claude") || !strings.Contains(out, a.cwd) {
		t.Errorf("Status output:\n%s", out)
	}
}

func TestReplClaudeCommandRecordsHistory(t *testing.T) {
	a, claude, _, _ := newTestApp(t)
	out := runRepl(t, a, "/claude explain the cache layer\n/history\nquit\n")

	if len(claude.calls) != 1 {
		t.Fatalf("Expected 1 claude call, got %d", len(claude.calls))
	}
	if claude.calls[0] != "explain the cache layer" {
		t.Errorf("First call should have no injected context, got %q", claude.calls[0])
	}
	if !strings.Contains(out, "CLAUDE") {
		t.Error("Missing agent badge")
	}
	if !strings.Contains(out, "explain the cache layer") {
		t.Errorf("History missing the prompt:\n%s", out)
	}
}

func TestReplSecondCallInjectsContext(t *testing.T) {
	a, claude, _, _ := newTestApp(t)
	runRepl(t, a, "/claude first question\n/claude second question\nquit\n")

	if len(claude.calls) != 2 {
		t.Fatalf("Expected 2 calls, got %d", len(claude.calls))
	}
	if !strings.Contains(claude.calls[1], "--- Conversation context ---") {
		t.Error("Second call should carry conversation context")
	}
	if !strings.Contains(claude.calls[1], "first question") {
		t.Error("Context should include the earlier prompt")
	}
}

func TestReplClearDropsContext(t *testing.T) {
	a, claude, _, _ := newTestApp(t)
	runRepl(t, a, "/claude first\n/clear\n/claude second\nquit\n")
	if strings.Contains(claude.calls[1], "Conversation context") {
		t.Error("Cleared context should not be injected")
	}
}

func TestReplAutoRoutesToCodex(t *testing.T) {
	a, _, codex, _ := newTestApp(t)
	out := runRepl(t, a, "/auto implement a json parser\nquit\n")
	if len(codex.calls) != 1 {
		t.Fatalf("Expected codex to run, calls=%d", len(codex.calls))
	}
	if !strings.Contains(out, "routed to CODEX") {
		t.Errorf("Missing routing notice:\n%s", out)
	}
}

func TestReplRouteExplains(t *testing.T) {
	a, claude, codex, _ := newTestApp(t)
	out := runRepl(t, a, "/route analyze the design\nquit\n")
	if len(claude.calls)+len(codex.calls) != 0 {
		t.Error("/route must not run an agent")
	}
	if !strings.Contains(out, "Routing decision") {
		t.Errorf("Missing rationale:\n%s", out)
	}
}

func TestPrintCompactTruncates(t *testing.T) {
	a, _, _, out := newTestApp(t)
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	a.printCompact(strings.Join(lines, "\n"))
	if !strings.Contains(out.String(), "15 more lines") {
		t.Errorf("Missing truncation notice:\n%s", out.String())
	}
}

func TestCopyLastNothing(t *testing.T) {
	a, _, _, out := newTestApp(t)
	a.copyLast(&replCtx{})
	if !strings.Contains(out.String(), "Nothing to copy") {
		t.Errorf("Output:\n%s", out.String())
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("alpha\nbeta", 80); got != "alpha" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine(strings.Repeat("x", 100), 10); got != strings.Repeat("x", 10)+"…" {
		t.Errorf("firstLine long = %q", got)
	}
}
