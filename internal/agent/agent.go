package agent

import (
	"context"
	"time"
)

// Runner runs a single task through an external agent CLI binary.
type Runner interface {
	// Run executes the task and returns the collected result. A non-zero
	// exit code is reported through Result, not through the error return.
	Run(ctx context.Context, task string) (*Result, error)

	// Name returns the agent identifier ("claude" or "codex").
	Name() string
}

// Result captures one agent invocation.
type Result struct {
	Agent      string        `json:"agent"`
	Task       string        `json:"task"`
	Output     string        `json:"output"`
	Error      string        `json:"error,omitempty"`
	ReturnCode int           `json:"return_code"`
	Duration   time.Duration `json:"duration"`
}

// Success reports whether the agent exited cleanly.
func (r *Result) Success() bool {
	return r.ReturnCode == 0
}

// Text returns the best displayable output: stdout when present,
// otherwise the error text.
func (r *Result) Text() string {
	if r.Output != "" {
		return r.Output
	}
	return r.Error
}
