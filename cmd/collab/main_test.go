package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cexll/collab/internal/agent"
	"github.com/cexll/collab/internal/config"
	"github.com/cexll/collab/internal/router"
	"github.com/cexll/collab/internal/session"
)

type mockRunner struct {
	name  string
	calls []string
	runFn func(ctx context.Context, task string) (*agent.Result, error)
}

func (m *mockRunner) Run(ctx context.Context, task string) (*agent.Result, error) {
	m.calls = append(m.calls, task)
	if m.runFn != nil {
		return m.runFn(ctx, task)
	}
	return &agent.Result{Agent: m.name, Task: task, Output: m.name + " answer", Duration: time.Second}, nil
}

func (m *mockRunner) Name() string { return m.name }

// newTestApp builds an app over mock runners, a temp session store, and a
// captured output buffer.
func newTestApp(t *testing.T) (*app, *mockRunner, *mockRunner, *bytes.Buffer) {
	t.Helper()
	claude := &mockRunner{name: "claude"}
	codex := &mockRunner{name: "codex"}
	out := &bytes.Buffer{}
	a := &app{
		cfg: &config.Config{
			ClaudeBin:          "claude",
			CodexBin:           "codex",
			ClaudeModel:        "test-claude",
			CodexModel:         "test-codex",
			MaxParallel:        2,
			MaxAgentCalls:      100,
			BudgetAlertPercent: 0.8,
			TotalRounds:        3,
		},
		claude:   claude,
		codex:    codex,
		router:   router.New(nil, nil, "claude"),
		sessions: session.NewStore(t.TempDir()),
		cwd:      t.TempDir(),
		in:       strings.NewReader(""),
		out:      out,
	}
	return a, claude, codex, out
}
