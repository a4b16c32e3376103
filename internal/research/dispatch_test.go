package research

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cexll/collab/internal/agent"
)

type mockRunner struct {
	name string
	fn   func(ctx context.Context, task string) (*agent.Result, error)
}

func (m *mockRunner) Run(ctx context.Context, task string) (*agent.Result, error) {
	if m.fn != nil {
		return m.fn(ctx, task)
	}
	return &agent.Result{Agent: m.name, Task: task, Output: "ok"}, nil
}

func (m *mockRunner) Name() string { return m.name }

func completedProgress(id string) *Progress {
	now := time.Now()
	return &Progress{
		TaskID: id, Status: "completed",
		StartedAt: now.Add(-time.Minute), LastUpdate: now,
		CurrentEpoch: 60, TotalEpochs: 60,
		Metrics: map[string]float64{"loss": 0.12},
	}
}

func failedProgress(id, msg string) *Progress {
	now := time.Now()
	return &Progress{
		TaskID: id, Status: "failed", ErrorMessage: msg,
		StartedAt: now.Add(-time.Second), LastUpdate: now, ExitCode: 1,
	}
}

func TestRunExperimentFirstAttemptSucceeds(t *testing.T) {
	d := NewDispatcher(&mockRunner{name: "codex"}, t.TempDir())
	d.runMonitor = func(ctx context.Context, m *Monitor) (*Progress, error) {
		return completedProgress(m.TaskID), nil
	}

	spec := &ExperimentSpec{Command: "python train.py", LogFile: "t.log"}
	out := d.RunExperiment(context.Background(), "exp-a", "setup text", spec, "plan", nil)

	if !out.Success {
		t.Fatalf("Expected success: %s", out.Error)
	}
	for _, want := range []string{
		"EXPERIMENT: exp-a",
		"STATUS: SUCCESS",
		"ATTEMPTS: 1",
		"COMPLETED: 60/60 epochs",
		"--- Final Setup ---",
	} {
		if !strings.Contains(out.Output, want) {
			t.Errorf("Output missing %q:\n%s", want, out.Output)
		}
	}
	if strings.Contains(out.Output, "auto-fix") {
		t.Error("First-try success should not mention auto-fix")
	}
}

func TestRunExperimentAppliesMonitorTuning(t *testing.T) {
	d := NewDispatcher(&mockRunner{name: "codex"}, t.TempDir())
	d.PollInterval = 2 * time.Second
	d.StallAfter = 3 * time.Minute
	d.Timeout = time.Hour

	var got *Monitor
	d.runMonitor = func(ctx context.Context, m *Monitor) (*Progress, error) {
		got = m
		return completedProgress(m.TaskID), nil
	}

	spec := &ExperimentSpec{Command: "python train.py", LogFile: "t.log"}
	d.RunExperiment(context.Background(), "exp-a", "setup", spec, "plan", nil)

	if got.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", got.PollInterval)
	}
	if got.StallAfter != 3*time.Minute {
		t.Errorf("StallAfter = %v, want 3m", got.StallAfter)
	}
	if got.Patterns.Timeout != time.Hour {
		t.Errorf("Patterns.Timeout = %v, want 1h", got.Patterns.Timeout)
	}
}

func TestRunExperimentRetriesWithFix(t *testing.T) {
	fixed := "BACKGROUND_TASK: true\nCOMMAND: python train.py --fixed\nLOG_FILE: t.log\n"
	codex := &mockRunner{name: "codex", fn: func(ctx context.Context, task string) (*agent.Result, error) {
		if !strings.Contains(task, "ERROR LOG:") {
			t.Errorf("Fix prompt should carry the error log:\n%s", task)
		}
		return &agent.Result{Agent: "codex", Output: fixed}, nil
	}}

	d := NewDispatcher(codex, t.TempDir())
	d.InitialBackoff = time.Millisecond
	attempts := 0
	d.runMonitor = func(ctx context.Context, m *Monitor) (*Progress, error) {
		attempts++
		if attempts == 1 {
			return failedProgress(m.TaskID, "CUDA out of memory"), nil
		}
		if !strings.Contains(m.Command, "--fixed") {
			t.Errorf("Retry should run the fixed command, got %q", m.Command)
		}
		return completedProgress(m.TaskID), nil
	}

	spec := &ExperimentSpec{Command: "python train.py", LogFile: "t.log"}
	out := d.RunExperiment(context.Background(), "exp-b", "setup", spec, "plan", nil)

	if !out.Success {
		t.Fatalf("Expected success after retry: %s", out.Error)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if !strings.Contains(out.Output, "ATTEMPTS: 2") {
		t.Errorf("Attempt count missing:\n%s", out.Output)
	}
	if !strings.Contains(out.Output, "Succeeded after 1 auto-fix attempt(s)") {
		t.Errorf("Auto-fix note missing:\n%s", out.Output)
	}
}

func TestRunExperimentStopsWhenFixInvalid(t *testing.T) {
	codex := &mockRunner{name: "codex", fn: func(ctx context.Context, task string) (*agent.Result, error) {
		return &agent.Result{Agent: "codex", Output: "sorry, no idea"}, nil
	}}

	d := NewDispatcher(codex, t.TempDir())
	d.InitialBackoff = time.Millisecond
	calls := 0
	d.runMonitor = func(ctx context.Context, m *Monitor) (*Progress, error) {
		calls++
		return failedProgress(m.TaskID, "boom"), nil
	}

	spec := &ExperimentSpec{Command: "python train.py"}
	out := d.RunExperiment(context.Background(), "exp-c", "setup", spec, "plan", nil)

	if out.Success {
		t.Fatal("Expected failure")
	}
	if calls != 1 {
		t.Errorf("Invalid fix should stop retries, got %d monitor runs", calls)
	}
	if !strings.Contains(out.Output, "STATUS: FAILED") {
		t.Errorf("Failure block missing:\n%s", out.Output)
	}
}

func TestRunExperimentExhaustsAttempts(t *testing.T) {
	fixed := "BACKGROUND_TASK: true\nCOMMAND: python train.py --fixed\n"
	codex := &mockRunner{name: "codex", fn: func(ctx context.Context, task string) (*agent.Result, error) {
		return &agent.Result{Agent: "codex", Output: fixed}, nil
	}}

	d := NewDispatcher(codex, t.TempDir())
	d.MaxAttempts = 2
	d.InitialBackoff = time.Millisecond
	calls := 0
	d.runMonitor = func(ctx context.Context, m *Monitor) (*Progress, error) {
		calls++
		return failedProgress(m.TaskID, "still broken"), nil
	}

	spec := &ExperimentSpec{Command: "python train.py"}
	out := d.RunExperiment(context.Background(), "exp-d", "setup", spec, "plan", []int{1})

	if out.Success {
		t.Fatal("Expected failure")
	}
	if calls != 2 {
		t.Errorf("Expected exactly MaxAttempts monitor runs, got %d", calls)
	}
	if !strings.Contains(out.Output, "GPU: 1") {
		t.Errorf("GPU label missing:\n%s", out.Output)
	}
}

func TestWithCUDADevices(t *testing.T) {
	if got := withCUDADevices("python a.py", []int{0, 1}); got != "CUDA_VISIBLE_DEVICES=0,1 python a.py" {
		t.Errorf("Unexpected command: %q", got)
	}
	if got := withCUDADevices("python a.py", nil); got != "python a.py" {
		t.Errorf("Empty allocation should leave command alone: %q", got)
	}
}

func TestBackoffDuration(t *testing.T) {
	d := NewDispatcher(&mockRunner{name: "codex"}, ".")
	d.normalize()

	if got := d.backoffDuration(2); got != 15*time.Second {
		t.Errorf("Second attempt backoff wrong: %s", got)
	}
	if got := d.backoffDuration(3); got != 30*time.Second {
		t.Errorf("Third attempt backoff wrong: %s", got)
	}
	if got := d.backoffDuration(20); got != d.MaxBackoff {
		t.Errorf("Backoff should cap at MaxBackoff, got %s", got)
	}
}

func TestIsNonRetryable(t *testing.T) {
	err := &NonRetryableError{Reason: "bad setup"}
	if !IsNonRetryable(err) {
		t.Error("Expected non-retryable")
	}
	if IsNonRetryable(context.Canceled) {
		t.Error("Plain error should be retryable")
	}
}
