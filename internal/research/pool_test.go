package research

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cexll/collab/internal/agent"
)

func TestPoolRunPreservesOrder(t *testing.T) {
	m := &mockRunner{name: "claude", fn: func(ctx context.Context, task string) (*agent.Result, error) {
		return &agent.Result{Agent: "claude", Output: "echo:" + task}, nil
	}}
	p := &Pool{Claude: m, Codex: m}

	tasks := []PoolTask{
		{Role: "a", Agent: "claude", Prompt: "one"},
		{Role: "b", Agent: "claude", Prompt: "two"},
		{Role: "c", Agent: "claude", Prompt: "three"},
	}
	outputs, err := p.Run(context.Background(), tasks, PoolOptions{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("Expected 3 outputs, got %d", len(outputs))
	}
	for i, want := range []string{"echo:one", "echo:two", "echo:three"} {
		if outputs[i].Output != want {
			t.Errorf("Output %d out of order: %q", i, outputs[i].Output)
		}
	}
}

func TestPoolRunRoutesAgents(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	mk := func(name string) *mockRunner {
		return &mockRunner{name: name, fn: func(ctx context.Context, task string) (*agent.Result, error) {
			mu.Lock()
			calls[name]++
			mu.Unlock()
			return &agent.Result{Agent: name, Output: name + " out"}, nil
		}}
	}
	p := &Pool{Claude: mk("claude"), Codex: mk("codex")}

	tasks := []PoolTask{
		{Role: "analyst", Agent: "claude", Prompt: "x"},
		{Role: "impl", Agent: "codex", Prompt: "y"},
	}
	if _, err := p.Run(context.Background(), tasks, PoolOptions{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if calls["claude"] != 1 || calls["codex"] != 1 {
		t.Errorf("Agent routing wrong: %v", calls)
	}
}

func TestPoolRunCriticAndSynthesizer(t *testing.T) {
	m := &mockRunner{name: "claude", fn: func(ctx context.Context, task string) (*agent.Result, error) {
		switch {
		case strings.Contains(task, "rigorous critic"):
			return &agent.Result{Agent: "claude", Output: "critique"}, nil
		case strings.Contains(task, "Synthesize these"):
			return &agent.Result{Agent: "claude", Output: "merged"}, nil
		}
		return &agent.Result{Agent: "claude", Output: "analysis"}, nil
	}}
	p := &Pool{Claude: m, Codex: m}

	tasks := []PoolTask{
		{Role: "analyst-1", Agent: "claude", Prompt: "a"},
		{Role: "analyst-2", Agent: "claude", Prompt: "b"},
	}
	outputs, err := p.Run(context.Background(), tasks, PoolOptions{Criticize: true, Synthesize: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(outputs) != 4 {
		t.Fatalf("Expected 2 analysts + critic + synthesizer, got %d", len(outputs))
	}
	if outputs[2].Role != "critic" || outputs[2].Output != "critique" {
		t.Errorf("Critic wrong: %+v", outputs[2])
	}
	if outputs[3].Role != "synthesizer" || outputs[3].Output != "merged" {
		t.Errorf("Synthesizer wrong: %+v", outputs[3])
	}
}

func TestPoolRunCapturesAgentFailure(t *testing.T) {
	m := &mockRunner{name: "claude", fn: func(ctx context.Context, task string) (*agent.Result, error) {
		return &agent.Result{Agent: "claude", Error: "exploded", ReturnCode: 1}, nil
	}}
	p := &Pool{Claude: m, Codex: m}

	outputs, err := p.Run(context.Background(), []PoolTask{{Role: "a", Agent: "claude", Prompt: "x"}}, PoolOptions{})
	if err != nil {
		t.Fatalf("Agent failure should not abort the pool: %v", err)
	}
	if outputs[0].Success {
		t.Error("Failed agent should be marked unsuccessful")
	}
	if outputs[0].Error != "exploded" {
		t.Errorf("Error lost: %q", outputs[0].Error)
	}
}

func TestPoolRunEmpty(t *testing.T) {
	p := &Pool{Claude: &mockRunner{name: "claude"}, Codex: &mockRunner{name: "codex"}}
	outputs, err := p.Run(context.Background(), nil, PoolOptions{})
	if err != nil || outputs != nil {
		t.Errorf("Empty task list should be a no-op, got %v / %v", outputs, err)
	}
}
