package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ClaudeBin != "claude" {
		t.Errorf("Expected claude bin 'claude', got %q", cfg.ClaudeBin)
	}
	if cfg.CodexBin != "codex" {
		t.Errorf("Expected codex bin 'codex', got %q", cfg.CodexBin)
	}
	if cfg.PermissionMode != "acceptEdits" {
		t.Errorf("Expected permission mode acceptEdits, got %q", cfg.PermissionMode)
	}
	if cfg.AgentTimeout != 10*time.Minute {
		t.Errorf("Expected 10m agent timeout, got %v", cfg.AgentTimeout)
	}
	if !strings.HasSuffix(cfg.SessionsDir, filepath.Join(".collab", "sessions")) {
		t.Errorf("Unexpected sessions dir: %q", cfg.SessionsDir)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COLLAB_CLAUDE_MODEL", "opus")
	t.Setenv("COLLAB_AGENT_TIMEOUT_SECONDS", "30")
	t.Setenv("COLLAB_RESEARCH_ROUNDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ClaudeModel != "opus" {
		t.Errorf("Expected model opus, got %q", cfg.ClaudeModel)
	}
	if cfg.AgentTimeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.AgentTimeout)
	}
	if cfg.TotalRounds != 5 {
		t.Errorf("Expected 5 rounds, got %d", cfg.TotalRounds)
	}
}

func TestLoadRejectsBadPermissionMode(t *testing.T) {
	t.Setenv("COLLAB_PERMISSION_MODE", "yolo")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid permission mode")
	}
}

func TestLoadRejectsRetryMaxBelowInitial(t *testing.T) {
	t.Setenv("COLLAB_DISPATCH_RETRY_SECONDS", "60")
	t.Setenv("COLLAB_DISPATCH_RETRY_MAX_SECONDS", "30")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when retry max < retry initial")
	}
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("COLLAB_TEST_INT", "not-a-number")

	if got := getEnvInt("COLLAB_TEST_INT", 7); got != 7 {
		t.Errorf("Expected default 7, got %d", got)
	}
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	fc, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile returned error for missing file: %v", err)
	}
	if fc.ClaudeModel != "" || len(fc.ClaudeKeywords) != 0 {
		t.Errorf("Expected empty file config, got %+v", fc)
	}
}

func TestLoadFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "claude_model: opus\ncodex_model: gpt-5-codex\nclaude_keywords:\n  - ponder\nglobal_instructions: be brief\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if fc.GlobalInstructions != "be brief" {
		t.Errorf("Unexpected global instructions: %q", fc.GlobalInstructions)
	}

	cfg := &Config{}
	cfg.Merge(fc)
	if cfg.ClaudeModel != "opus" || cfg.CodexModel != "gpt-5-codex" {
		t.Errorf("Merge did not apply models: %+v", cfg)
	}

	// Env-derived values win over the file.
	cfg2 := &Config{ClaudeModel: "haiku"}
	cfg2.Merge(fc)
	if cfg2.ClaudeModel != "haiku" {
		t.Errorf("Merge overwrote env value: %q", cfg2.ClaudeModel)
	}
}
