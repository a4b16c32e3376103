package research

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSummarizeLogProgressAndMetrics(t *testing.T) {
	path := writeLog(t, strings.Join([]string{
		"starting run",
		"Epoch 3/10 loss: 0.412",
		"I-AUROC=97.4",
		"Warning: deprecated flag",
	}, "\n"))

	s := SummarizeLog(path)
	if s.CurrentEpoch != 3 || s.TotalEpochs != 10 {
		t.Errorf("Epoch = %d/%d, want 3/10", s.CurrentEpoch, s.TotalEpochs)
	}
	if s.Metrics["loss"] != 0.412 {
		t.Errorf("loss = %v", s.Metrics["loss"])
	}
	if v := s.Metrics["I-AUROC"]; v < 0.973 || v > 0.975 {
		t.Errorf("I-AUROC = %v, want normalized 0.974", v)
	}
	if len(s.Warnings) != 1 {
		t.Errorf("Warnings = %v", s.Warnings)
	}
	if s.Status != "running" {
		t.Errorf("Status = %s, want running", s.Status)
	}
	if !s.HasInfo() {
		t.Error("HasInfo should be true")
	}
}

func TestSummarizeLogStatusTransitions(t *testing.T) {
	s := SummarizeLog(writeLog(t, "Epoch 10/10\nTraining completed\n"))
	if s.Status != "completed" {
		t.Errorf("Status = %s, want completed", s.Status)
	}

	s = SummarizeLog(writeLog(t, "RuntimeError\nError: CUDA out of memory\n"))
	if s.Status != "failed" {
		t.Errorf("Status = %s, want failed", s.Status)
	}
	if len(s.Errors) == 0 {
		t.Error("Errors should be recorded")
	}
}

func TestSummarizeLogMissingFile(t *testing.T) {
	s := SummarizeLog(filepath.Join(t.TempDir(), "absent.log"))
	if s.HasInfo() {
		t.Error("Missing file should yield an empty summary")
	}
}

func TestFilterImportantLines(t *testing.T) {
	lines := []string{
		"loading dataset shard 1",
		"Epoch 1/5 loss: 1.2",
		"shuffling",
		"Warning: slow io",
	}
	got := FilterImportantLines(lines)
	if len(got) != 2 {
		t.Fatalf("Filtered = %v, want epoch and warning lines", got)
	}
}

func TestFilterImportantLinesFallback(t *testing.T) {
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, "noise")
	}
	got := FilterImportantLines(lines)
	if len(got) != 10 {
		t.Fatalf("Fallback should keep the last 10 lines, got %d", len(got))
	}
}
