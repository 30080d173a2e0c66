package config

import (
	"fmt"
	"slices"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format     string          `yaml:"format" env:"FORMAT"` // json, console
	File       string          `yaml:"file,omitempty" env:"FILE"`
	Categories map[string]bool `yaml:"categories,omitempty"` // Per-category toggles
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "console"}
)

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories that are not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

func (c LoggingConfig) validate() error {
	if c.Level != "" && !slices.Contains(validLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Level, validLevels)
	}
	if c.Format != "" && !slices.Contains(validFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Format, validFormats)
	}
	return nil
}
