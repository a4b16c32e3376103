package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/collab/internal/agent"
)

// NonRetryableError marks an experiment failure that another attempt cannot
// fix, such as a fix prompt that produced no runnable setup.
type NonRetryableError struct {
	Reason string
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Reason
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Dispatcher runs background experiments with automatic recovery: a failed
// run is handed to codex together with the error log, and the corrected
// setup is retried with exponential backoff between attempts.
type Dispatcher struct {
	Codex   agent.Runner
	WorkDir string

	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// Monitor tuning. Zero values fall back to the monitor defaults
	// (5s poll, 10m stall, 24h timeout).
	PollInterval time.Duration
	StallAfter   time.Duration
	Timeout      time.Duration

	// runMonitor is swapped by tests to avoid launching real processes.
	runMonitor func(ctx context.Context, m *Monitor) (*Progress, error)
}

// NewDispatcher builds a dispatcher with sane retry defaults.
func NewDispatcher(codex agent.Runner, workDir string) *Dispatcher {
	return &Dispatcher{
		Codex:             codex,
		WorkDir:           workDir,
		MaxAttempts:       3,
		InitialBackoff:    15 * time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Minute,
	}
}

func (d *Dispatcher) normalize() {
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.InitialBackoff <= 0 {
		d.InitialBackoff = 15 * time.Second
	}
	if d.BackoffMultiplier <= 1 {
		d.BackoffMultiplier = 2
	}
	if d.MaxBackoff <= 0 {
		d.MaxBackoff = 5 * time.Minute
	}
	if d.runMonitor == nil {
		d.runMonitor = func(ctx context.Context, m *Monitor) (*Progress, error) {
			return m.Run(ctx)
		}
	}
}

// RunExperiment executes one declared background experiment to completion,
// retrying through codex-generated fixes. The returned AgentOutput carries
// the formatted result block, with Success reflecting the final status.
func (d *Dispatcher) RunExperiment(ctx context.Context, role, setup string, spec *ExperimentSpec, methodology string, gpuIDs []int) AgentOutput {
	d.normalize()

	currentSetup := setup
	var progress *Progress
	attempt := 1

	for {
		taskID := role
		if attempt > 1 {
			taskID = fmt.Sprintf("%s_attempt%d", role, attempt)
		}

		patterns := DefaultPatterns()
		if spec.CompletionPattern != "" {
			patterns = patterns.WithSuccess(spec.CompletionPattern)
		}
		if d.Timeout > 0 {
			patterns.Timeout = d.Timeout
		}

		mon := &Monitor{
			TaskID:       taskID,
			Command:      withCUDADevices(spec.Command, gpuIDs),
			WorkDir:      d.WorkDir,
			LogFile:      spec.LogFile,
			Patterns:     patterns,
			PollInterval: d.PollInterval,
			StallAfter:   d.StallAfter,
		}

		var err error
		progress, err = d.runMonitor(ctx, mon)
		if err != nil {
			return d.failedOutput(role, currentSetup, progress, attempt, gpuIDs, err.Error())
		}
		if progress.Status == "completed" {
			return d.completedOutput(role, currentSetup, progress, attempt, gpuIDs)
		}
		if ctx.Err() != nil {
			return d.failedOutput(role, currentSetup, progress, attempt, gpuIDs, "cancelled")
		}

		if attempt >= d.MaxAttempts {
			log.Printf("[Dispatch] %s failed after %d attempt(s)", role, attempt)
			return d.failedOutput(role, currentSetup, progress, attempt, gpuIDs, progress.ErrorMessage)
		}

		log.Printf("[Dispatch] %s failed (attempt %d/%d): %s", role, attempt, d.MaxAttempts, truncate(progress.ErrorMessage, 200))

		fixedSetup, fixedSpec, err := d.requestFix(ctx, role, currentSetup, spec, methodology, progress)
		if err != nil {
			if IsNonRetryable(err) {
				log.Printf("[Dispatch] %s: %v; no further attempts", role, err)
			}
			return d.failedOutput(role, currentSetup, progress, attempt, gpuIDs, progress.ErrorMessage)
		}
		currentSetup, spec = fixedSetup, fixedSpec

		attempt++
		delay := d.backoffDuration(attempt)
		log.Printf("[Dispatch] %s: retrying in %s (attempt %d/%d)", role, delay, attempt, d.MaxAttempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return d.failedOutput(role, currentSetup, progress, attempt, gpuIDs, "cancelled")
		}
	}
}

// requestFix asks codex to analyze the failure and produce a corrected
// experiment setup in the same BACKGROUND_TASK format.
func (d *Dispatcher) requestFix(ctx context.Context, role, currentSetup string, spec *ExperimentSpec, methodology string, progress *Progress) (string, *ExperimentSpec, error) {
	logContent := progress.ErrorMessage
	if spec.LogFile != "" {
		if tail := TailLines(filepath.Join(d.WorkDir, spec.LogFile), 200); tail != "" {
			logContent = tail
		}
	}

	prompt := fmt.Sprintf(`The experiment failed with the following error. Analyze the error and provide a fixed implementation.

ORIGINAL TASK:
%s

EXPERIMENT NAME: %s

PREVIOUS IMPLEMENTATION:
%s

ERROR LOG:
%s

INSTRUCTIONS:
1. Analyze the root cause of the error
2. Provide a COMPLETE fixed implementation
3. Use the same output format (BACKGROUND_TASK: true, COMMAND:, LOG_FILE:, etc.)
4. Make sure to handle edge cases that caused the failure
5. If it's a code error, provide the corrected code files

Respond with the fixed experiment setup:`, methodology, role, currentSetup, logContent)

	res, err := d.Codex.Run(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("fix request: %w", err)
	}
	if !res.Success() {
		return "", nil, &NonRetryableError{Reason: "could not generate fix"}
	}

	fixedSpec := ParseExperimentSpec(res.Output)
	if fixedSpec == nil {
		return "", nil, &NonRetryableError{Reason: "fix did not produce a valid experiment setup"}
	}
	return res.Output, fixedSpec, nil
}

func (d *Dispatcher) backoffDuration(attempt int) time.Duration {
	backoff := float64(d.InitialBackoff)
	for i := 2; i < attempt; i++ {
		backoff *= d.BackoffMultiplier
		if backoff >= float64(d.MaxBackoff) {
			return d.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

func (d *Dispatcher) completedOutput(role, setup string, progress *Progress, attempts int, gpuIDs []int) AgentOutput {
	var b strings.Builder
	fmt.Fprintf(&b, "EXPERIMENT: %s\nSTATUS: SUCCESS (Background task completed)\nATTEMPTS: %d\n", role, attempts)
	fmt.Fprintf(&b, "DURATION: %.0fs\nGPU: %s\n\nMETRICS:\n", progress.LastUpdate.Sub(progress.StartedAt).Seconds(), gpuLabel(gpuIDs))
	if metrics := progress.MetricsText(); metrics != "" {
		b.WriteString(metrics + "\n")
	}
	if progress.CurrentEpoch > 0 && progress.TotalEpochs > 0 {
		fmt.Fprintf(&b, "\nCOMPLETED: %d/%d epochs\n", progress.CurrentEpoch, progress.TotalEpochs)
	}
	if attempts > 1 {
		fmt.Fprintf(&b, "\nNOTE: Succeeded after %d auto-fix attempt(s)\n", attempts-1)
	}
	fmt.Fprintf(&b, "\n--- Final Setup ---\n%s", setup)

	return AgentOutput{
		Agent:    "codex",
		Role:     role,
		Output:   b.String(),
		Duration: progress.LastUpdate.Sub(progress.StartedAt).Seconds(),
		Success:  true,
	}
}

func (d *Dispatcher) failedOutput(role, setup string, progress *Progress, attempts int, gpuIDs []int, errMsg string) AgentOutput {
	exitCode := "N/A"
	var duration float64
	if progress != nil {
		exitCode = fmt.Sprint(progress.ExitCode)
		duration = progress.LastUpdate.Sub(progress.StartedAt).Seconds()
	}

	text := fmt.Sprintf(`EXPERIMENT: %s
STATUS: FAILED (after %d attempts)
ERROR: %s
EXIT_CODE: %s
GPU: %s

--- Last Setup Attempted ---
%s`, role, attempts, errMsg, exitCode, gpuLabel(gpuIDs), setup)

	return AgentOutput{
		Agent:    "codex",
		Role:     role,
		Output:   text,
		Duration: duration,
		Success:  false,
		Error:    errMsg,
	}
}

func withCUDADevices(command string, gpuIDs []int) string {
	if len(gpuIDs) == 0 {
		return command
	}
	return fmt.Sprintf("CUDA_VISIBLE_DEVICES=%s %s", FormatCUDAVisibleDevices(gpuIDs), command)
}

func gpuLabel(gpuIDs []int) string {
	if len(gpuIDs) == 0 {
		return "default"
	}
	return FormatCUDAVisibleDevices(gpuIDs)
}
