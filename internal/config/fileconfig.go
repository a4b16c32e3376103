package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig holds the optional YAML overrides from ~/.collab/config.yaml.
// Everything in it is optional; a missing file is not an error.
type FileConfig struct {
	ClaudeModel string `yaml:"claude_model"`
	CodexModel  string `yaml:"codex_model"`

	// Router keyword overrides. When set, they replace the built-in lists.
	ClaudeKeywords []string `yaml:"claude_keywords"`
	CodexKeywords  []string `yaml:"codex_keywords"`

	// Instructions prepended to every generated task prompt.
	GlobalInstructions string `yaml:"global_instructions"`
}

// LoadFile reads the YAML config at path. A missing file yields an empty
// FileConfig with no error.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// Merge applies the file overrides on top of the env-derived config.
func (c *Config) Merge(fc *FileConfig) {
	if fc == nil {
		return
	}
	if c.ClaudeModel == "" && fc.ClaudeModel != "" {
		c.ClaudeModel = fc.ClaudeModel
	}
	if c.CodexModel == "" && fc.CodexModel != "" {
		c.CodexModel = fc.CodexModel
	}
}
