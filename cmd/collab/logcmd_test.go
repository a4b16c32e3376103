package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/collab/internal/research"
)

func writeTestLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(0, 0, 30); got != "" {
		t.Errorf("Zero total should render nothing, got %q", got)
	}
	got := progressBar(5, 10, 10)
	if !strings.Contains(got, "=====.....") {
		t.Errorf("Half bar = %q", got)
	}
	got = progressBar(20, 10, 10)
	if !strings.Contains(got, "==========") {
		t.Errorf("Overflow should clamp, got %q", got)
	}
}

func TestPrintLogSummary(t *testing.T) {
	out := &bytes.Buffer{}
	printLogSummary(out, "exp.log", &research.LogSummary{
		CurrentEpoch: 3,
		TotalEpochs:  10,
		Metrics:      map[string]float64{"loss": 0.412, "i-auroc": 0.974},
		Errors:       []string{"Error: CUDA out of memory"},
		Warnings:     []string{"Warning: checkpoint missing"},
		Status:       "running",
	})

	got := out.String()
	for _, want := range []string{"epoch:   3/10", "i-auroc=0.9740", "loss=0.4120", "CUDA out of memory", "checkpoint missing", "running"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary missing %q:\n%s", want, got)
		}
	}
}

func TestPrintLogSummaryNoSignals(t *testing.T) {
	out := &bytes.Buffer{}
	printLogSummary(out, "exp.log", &research.LogSummary{Status: "running", Metrics: map[string]float64{}})
	if !strings.Contains(out.String(), "no progress signals") {
		t.Errorf("Output:\n%s", out.String())
	}
}

func runLog(t *testing.T, path string, args ...string) string {
	t.Helper()
	out := &bytes.Buffer{}
	logCmd.SetOut(out)
	logCmd.SetErr(out)
	t.Cleanup(func() {
		logCmd.SetOut(nil)
		logCmd.SetErr(nil)
		flagLogTail = 20
		flagLogFull = false
		flagLogNoFilter = false
	})
	if err := logCmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := runLogCmd(logCmd, []string{path}); err != nil {
		t.Fatalf("runLogCmd: %v", err)
	}
	return out.String()
}

func TestLogCmdSummaryAndFilteredTail(t *testing.T) {
	path := writeTestLog(t, strings.Join([]string{
		"loading dataset",
		"Epoch 2/10 loss=0.51",
		"some chatter about nothing",
		"I-AUROC: 96.2",
		"more chatter",
	}, "\n"))

	got := runLog(t, path)
	if !strings.Contains(got, "epoch:   2/10") {
		t.Errorf("Missing epoch line:\n%s", got)
	}
	if !strings.Contains(got, "Epoch 2/10 loss=0.51") {
		t.Errorf("Filtered tail should keep progress lines:\n%s", got)
	}
	if strings.Contains(got, "some chatter about nothing") {
		t.Errorf("Filtered tail should drop noise:\n%s", got)
	}
}

func TestLogCmdFull(t *testing.T) {
	path := writeTestLog(t, "alpha\nbeta\n")
	got := runLog(t, path, "--full")
	if got != "alpha\nbeta\n" {
		t.Errorf("Full output = %q", got)
	}
}

func TestLogCmdMissingFile(t *testing.T) {
	if err := runLogCmd(logCmd, []string{filepath.Join(t.TempDir(), "missing.log")}); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
