package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file when none is given.
const DefaultPath = ".justact/config.yaml"

// Config holds all justact configuration.
type Config struct {
	// Core settings
	Name string `yaml:"name"`

	// Policy evaluation backend
	Evaluator EvaluatorConfig `yaml:"evaluator" envPrefix:"JUSTACT_EVALUATOR_"`

	// Logging
	Logging LoggingConfig `yaml:"logging" envPrefix:"JUSTACT_LOG_"`

	// Transcript export and archive
	Export ExportConfig `yaml:"export" envPrefix:"JUSTACT_EXPORT_"`

	// Interactive shell
	Repl ReplConfig `yaml:"repl" envPrefix:"JUSTACT_REPL_"`
}

// ExportConfig configures where transcripts are written.
type ExportConfig struct {
	Directory string `yaml:"directory" env:"DIR"`
	Format    string `yaml:"format" env:"FORMAT"` // jsonl, sqlite
	// Archive is the SQLite database sessions are archived to.
	Archive string `yaml:"archive" env:"ARCHIVE"`
}

// ReplConfig configures the interactive shell.
type ReplConfig struct {
	HistoryFile string `yaml:"history_file" env:"HISTORY"`
	Prompt      string `yaml:"prompt" env:"PROMPT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "justact",

		Evaluator: EvaluatorConfig{
			Backend:     BackendMangle,
			Timeout:     "10s",
			Parallelism: 4,
			FactLimit:   100000,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Export: ExportConfig{
			Directory: ".justact/exports",
			Format:    "jsonl",
			Archive:   ".justact/archive.db",
		},

		Repl: ReplConfig{
			HistoryFile: ".justact/history",
			Prompt:      "justact> ",
		},
	}
}

// Load loads configuration from a YAML file and applies JUSTACT_*
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Return defaults if config file doesn't exist
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides overwrites fields whose JUSTACT_* variable is set.
// Unset variables leave the file or default value alone.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ValidExportFormats lists the supported transcript export formats.
var ValidExportFormats = []string{"jsonl", "sqlite"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Evaluator.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if !slices.Contains(ValidExportFormats, c.Export.Format) {
		return fmt.Errorf("invalid export format: %s (valid: %v)", c.Export.Format, ValidExportFormats)
	}
	return nil
}
