package main

import (
	"strings"
	"testing"

	"github.com/cexll/collab/internal/research"
)

func TestParseConstraints(t *testing.T) {
	got, err := parseConstraints([]string{"gpu_memory=24GB", "max_epochs = 50"})
	if err != nil {
		t.Fatalf("parseConstraints: %v", err)
	}
	if got["gpu_memory"] != "24GB" || got["max_epochs"] != "50" {
		t.Errorf("Constraints = %v", got)
	}
}

func TestParseConstraintsEmpty(t *testing.T) {
	got, err := parseConstraints(nil)
	if err != nil || got != nil {
		t.Errorf("Expected nil map, got %v, %v", got, err)
	}
}

func TestParseConstraintsInvalid(t *testing.T) {
	for _, bad := range []string{"noequals", "=value", "key="} {
		if _, err := parseConstraints([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestPrintResearchPlanListsSteps(t *testing.T) {
	a, _, _, out := newTestApp(t)
	a.printResearchPlan(researchParams{rounds: 3, analysts: 2, implementers: 2, experiments: 2})

	for _, want := range []string{"Goal Understanding", "Problem Analysis", "Experiment Execution", "Conclusion", "rounds=3"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Missing %q:\n%s", want, out.String())
		}
	}
}

func TestConfirmRound(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"\n", true},
		{"y\n", true},
		{"yes\n", true},
		{"n\n", false},
		{"no\n", false},
		{"", false}, // EOF pauses
	}
	for _, tt := range tests {
		a, _, _, _ := newTestApp(t)
		a.in = strings.NewReader(tt.input)
		if got := a.confirmRound(1, 3); got != tt.want {
			t.Errorf("confirmRound(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPrintMemorySummary(t *testing.T) {
	a, _, _, out := newTestApp(t)
	state := research.NewState("goal", t.TempDir())
	state.Memory.AddInsight(1, "results", "larger batch helps", "")
	state.Memory.AddMistake(1, "experiment", "OOM at batch 64", "")
	state.Memory.AddSuccess(1, "results", "auroc improved", "")

	a.printMemorySummary(state)
	if !strings.Contains(out.String(), "2 insight(s), 1 mistake(s)") {
		t.Errorf("Output:\n%s", out.String())
	}
}

func TestPrintMemorySummaryEmpty(t *testing.T) {
	a, _, _, out := newTestApp(t)
	a.printMemorySummary(research.NewState("goal", t.TempDir()))
	if out.Len() != 0 {
		t.Errorf("Expected no output, got:\n%s", out.String())
	}
}

func TestWriteMCPConfigWithoutServerBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := writeMCPConfig(t.TempDir()); err == nil {
		t.Error("Expected lookup error when the memory server is absent")
	}
}
