package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"
)

const codexInstallHint = "codex CLI not found. Install it and make sure 'codex' is on PATH."

// defaultCodexTimeout bounds a single codex exec call; code-writing runs
// are long but should never hang forever.
const defaultCodexTimeout = 10 * time.Minute

// CodexRunner shells out to the codex CLI in exec mode.
type CodexRunner struct {
	Bin     string
	Model   string
	WorkDir string
	Timeout time.Duration

	// ExtraArgs are appended before the task argument.
	ExtraArgs []string

	// Stream, when non-nil, receives stdout live while it is captured.
	Stream io.Writer
}

func (c *CodexRunner) Name() string { return "codex" }

// Run invokes `codex exec` with the task as the final argument.
func (c *CodexRunner) Run(ctx context.Context, task string) (*Result, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("codex: empty task")
	}

	bin := c.Bin
	if bin == "" {
		bin = "codex"
	}

	args := []string{"exec"}
	if c.Model != "" {
		args = append(args, "-c", fmt.Sprintf("model=%q", c.Model))
	}
	args = append(args, c.ExtraArgs...)
	args = append(args, task)

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCodexTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := execCommandContext(ctx, bin, args...)
	cmd.Dir = c.WorkDir

	var outBuf, errBuf bytes.Buffer
	if c.Stream != nil {
		cmd.Stdout = io.MultiWriter(c.Stream, &outBuf)
	} else {
		cmd.Stdout = &outBuf
	}
	cmd.Stderr = &errBuf

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Agent:    "codex",
		Task:     task,
		Output:   strings.TrimSpace(outBuf.String()),
		Duration: time.Since(start),
	}

	// codex writes progress chatter to stderr; fall back to it when
	// stdout came back empty.
	if res.Output == "" {
		res.Output = strings.TrimSpace(errBuf.String())
	}

	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound):
		res.ReturnCode = 127
		res.Error = codexInstallHint
	case ctx.Err() == context.DeadlineExceeded:
		res.ReturnCode = -1
		res.Error = fmt.Sprintf("codex timed out after %s", timeout)
	default:
		res.ReturnCode = exitCode(err)
		res.Error = strings.TrimSpace(errBuf.String())
		if res.Error == "" {
			res.Error = err.Error()
		}
	}

	if !res.Success() {
		log.Printf("[Codex] exited with code %d: %s", res.ReturnCode, truncateString(res.Error, 200))
	}
	return res, nil
}
