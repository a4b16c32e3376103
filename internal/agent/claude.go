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

const claudeInstallHint = "claude CLI not found. Install it and make sure 'claude' is on PATH."

// execCommandContext allows tests to stub subprocess creation.
var execCommandContext = exec.CommandContext

// ClaudeRunner shells out to the claude CLI in non-interactive print mode.
type ClaudeRunner struct {
	Bin            string
	Model          string
	PermissionMode string
	WorkDir        string
	Timeout        time.Duration

	// MCPConfigPath, when set, is passed via --mcp-config so the CLI can
	// reach local MCP servers (the research memory server uses this).
	MCPConfigPath string

	// Tool gating passed through to the CLI.
	AllowedTools    []string
	DisallowedTools []string

	// ExtraArgs are appended before the task argument.
	ExtraArgs []string

	// Stream, when non-nil, receives stdout live while it is captured.
	Stream io.Writer
}

func (c *ClaudeRunner) Name() string { return "claude" }

// Run invokes the claude CLI with the task as the final argument.
func (c *ClaudeRunner) Run(ctx context.Context, task string) (*Result, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("claude: empty task")
	}

	bin := c.Bin
	if bin == "" {
		bin = "claude"
	}
	mode := c.PermissionMode
	if mode == "" {
		mode = "acceptEdits"
	}

	args := []string{"--print", "--permission-mode", mode, "--output-format", "text"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	if c.MCPConfigPath != "" {
		args = append(args, "--mcp-config", c.MCPConfigPath)
	}
	if len(c.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.AllowedTools, ","))
	}
	if len(c.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(c.DisallowedTools, ","))
	}
	args = append(args, c.ExtraArgs...)
	args = append(args, task)

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

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
		Agent:    "claude",
		Task:     task,
		Output:   strings.TrimSpace(outBuf.String()),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound):
		res.ReturnCode = 127
		res.Error = claudeInstallHint
	case ctx.Err() == context.DeadlineExceeded:
		res.ReturnCode = -1
		res.Error = fmt.Sprintf("claude timed out after %s", res.Duration.Round(time.Second))
	default:
		res.ReturnCode = exitCode(err)
		res.Error = strings.TrimSpace(errBuf.String())
		if res.Error == "" {
			res.Error = err.Error()
		}
	}

	if !res.Success() {
		log.Printf("[Claude] exited with code %d: %s", res.ReturnCode, truncateString(res.Error, 200))
	}
	return res, nil
}

// exitCode extracts the process exit code, falling back to 1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
