package agent

import (
	"fmt"
	"io"

	"github.com/cexll/collab/internal/config"
)

// Options tweak a runner produced by the factory beyond what config carries.
type Options struct {
	WorkDir         string
	Stream          io.Writer
	MCPConfigPath   string
	AllowedTools    []string
	DisallowedTools []string
}

// New builds a Runner for the named agent from configuration.
func New(name string, cfg *config.Config, opts Options) (Runner, error) {
	switch name {
	case "claude":
		return &ClaudeRunner{
			Bin:             cfg.ClaudeBin,
			Model:           cfg.ClaudeModel,
			PermissionMode:  cfg.PermissionMode,
			WorkDir:         opts.WorkDir,
			Timeout:         cfg.AgentTimeout,
			MCPConfigPath:   opts.MCPConfigPath,
			AllowedTools:    opts.AllowedTools,
			DisallowedTools: opts.DisallowedTools,
			Stream:          opts.Stream,
		}, nil
	case "codex":
		return &CodexRunner{
			Bin:     cfg.CodexBin,
			Model:   cfg.CodexModel,
			WorkDir: opts.WorkDir,
			Timeout: cfg.AgentTimeout,
			Stream:  opts.Stream,
		}, nil
	default:
		return nil, fmt.Errorf("unknown agent: %s (must be 'claude' or 'codex')", name)
	}
}
