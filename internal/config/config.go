package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the collab CLI
type Config struct {
	// Agent binaries
	ClaudeBin string
	CodexBin  string

	// Model overrides (empty means the binary's default)
	ClaudeModel string
	CodexModel  string

	// Claude CLI permission mode (acceptEdits, bypassPermissions, plan, default)
	PermissionMode string

	// Per-call timeout for agent subprocesses
	AgentTimeout time.Duration

	// Maximum concurrent agent calls within a wave or pool
	MaxParallel int

	// Session storage root (~/.collab/sessions)
	SessionsDir string

	// Research settings
	TotalRounds      int
	ContextRounds    int // rounds of history injected into step prompts
	StepContextChars int
	DepsContextChars int

	// Experiment dispatch settings
	DispatchWorkers           int
	DispatchMaxAttempts       int
	DispatchRetryInitial      time.Duration
	DispatchRetryMax          time.Duration
	DispatchBackoffMultiplier float64

	// Background monitor settings
	MonitorPollInterval time.Duration
	MonitorTimeout      time.Duration
	MonitorStallAfter   time.Duration

	// GPU allocation settings
	GPUMinFreeMB      int
	GPUMaxUtilization int

	// Run budget settings
	MaxAgentCalls      int
	BudgetAlertPercent float64

	// Status web UI
	WebAddr string

	// Optional YAML file with router keywords and model names
	FileConfigPath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ClaudeBin:                 getEnv("COLLAB_CLAUDE_BIN", "claude"),
		CodexBin:                  getEnv("COLLAB_CODEX_BIN", "codex"),
		ClaudeModel:               os.Getenv("COLLAB_CLAUDE_MODEL"),
		CodexModel:                os.Getenv("COLLAB_CODEX_MODEL"),
		PermissionMode:            getEnv("COLLAB_PERMISSION_MODE", "acceptEdits"),
		AgentTimeout:              time.Duration(getEnvInt("COLLAB_AGENT_TIMEOUT_SECONDS", 600)) * time.Second,
		MaxParallel:               getEnvInt("COLLAB_MAX_PARALLEL", 4),
		SessionsDir:               os.Getenv("COLLAB_SESSIONS_DIR"),
		TotalRounds:               getEnvInt("COLLAB_RESEARCH_ROUNDS", 3),
		ContextRounds:             getEnvInt("COLLAB_CONTEXT_ROUNDS", 3),
		StepContextChars:          getEnvInt("COLLAB_STEP_CONTEXT_CHARS", 1500),
		DepsContextChars:          getEnvInt("COLLAB_DEPS_CONTEXT_CHARS", 2000),
		DispatchWorkers:           getEnvInt("COLLAB_DISPATCH_WORKERS", 2),
		DispatchMaxAttempts:       getEnvInt("COLLAB_DISPATCH_MAX_ATTEMPTS", 3),
		DispatchRetryInitial:      time.Duration(getEnvInt("COLLAB_DISPATCH_RETRY_SECONDS", 15)) * time.Second,
		DispatchRetryMax:          time.Duration(getEnvInt("COLLAB_DISPATCH_RETRY_MAX_SECONDS", 300)) * time.Second,
		DispatchBackoffMultiplier: getEnvFloat("COLLAB_DISPATCH_BACKOFF_MULTIPLIER", 2.0),
		MonitorPollInterval:       time.Duration(getEnvInt("COLLAB_MONITOR_POLL_SECONDS", 5)) * time.Second,
		MonitorTimeout:            time.Duration(getEnvInt("COLLAB_MONITOR_TIMEOUT_HOURS", 24)) * time.Hour,
		MonitorStallAfter:         time.Duration(getEnvInt("COLLAB_MONITOR_STALL_MINUTES", 10)) * time.Minute,
		GPUMinFreeMB:              getEnvInt("COLLAB_GPU_MIN_FREE_MB", 4000),
		GPUMaxUtilization:         getEnvInt("COLLAB_GPU_MAX_UTILIZATION", 30),
		MaxAgentCalls:             getEnvInt("COLLAB_MAX_AGENT_CALLS", 200),
		BudgetAlertPercent:        getEnvFloat("COLLAB_BUDGET_ALERT_PERCENT", 80),
		WebAddr:                   getEnv("COLLAB_WEB_ADDR", "127.0.0.1:8787"),
		FileConfigPath:            os.Getenv("COLLAB_CONFIG_FILE"),
	}

	if cfg.SessionsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.SessionsDir = filepath.Join(home, ".collab", "sessions")
	}
	if cfg.FileConfigPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.FileConfigPath = filepath.Join(home, ".collab", "config.yaml")
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.TotalRounds <= 0 {
		c.TotalRounds = 3
	}
	if c.ContextRounds <= 0 {
		c.ContextRounds = 3
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = 2
	}
	if c.DispatchMaxAttempts <= 0 {
		c.DispatchMaxAttempts = 3
	}
	if c.DispatchRetryInitial <= 0 {
		c.DispatchRetryInitial = 15 * time.Second
	}
	if c.DispatchRetryMax <= 0 {
		c.DispatchRetryMax = 5 * time.Minute
	}
	if c.DispatchBackoffMultiplier < 1 {
		c.DispatchBackoffMultiplier = 2
	}
	if c.MonitorPollInterval <= 0 {
		c.MonitorPollInterval = 5 * time.Second
	}
	if c.MonitorTimeout <= 0 {
		c.MonitorTimeout = 24 * time.Hour
	}
	if c.MonitorStallAfter <= 0 {
		c.MonitorStallAfter = 10 * time.Minute
	}
}

// validate checks that the loaded configuration is usable
func (c *Config) validate() error {
	if c.ClaudeBin == "" {
		return fmt.Errorf("COLLAB_CLAUDE_BIN must not be empty")
	}
	if c.CodexBin == "" {
		return fmt.Errorf("COLLAB_CODEX_BIN must not be empty")
	}
	switch c.PermissionMode {
	case "acceptEdits", "bypassPermissions", "plan", "default":
	default:
		return fmt.Errorf("invalid COLLAB_PERMISSION_MODE: %s", c.PermissionMode)
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("COLLAB_AGENT_TIMEOUT_SECONDS must be greater than 0")
	}
	if c.DispatchRetryMax < c.DispatchRetryInitial {
		return fmt.Errorf("COLLAB_DISPATCH_RETRY_MAX_SECONDS must be >= COLLAB_DISPATCH_RETRY_SECONDS")
	}
	if c.GPUMaxUtilization < 0 || c.GPUMaxUtilization > 100 {
		return fmt.Errorf("COLLAB_GPU_MAX_UTILIZATION must be between 0 and 100")
	}
	if c.MaxAgentCalls <= 0 {
		return fmt.Errorf("COLLAB_MAX_AGENT_CALLS must be greater than 0")
	}
	return nil
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
