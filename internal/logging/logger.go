// Package logging builds the zap loggers used across justact. Every
// subsystem logs through a named child of one base logger, and individual
// categories can be switched off from configuration.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup, config loading
	CategorySession     Category = "session"     // Session lifecycle and command dispatch
	CategoryInterpreter Category = "interpreter" // Command validation
	CategoryStore       Category = "store"       // Entity store applies
	CategoryLog         Category = "log"         // Scenario log, replay, branches
	CategoryEvaluator   Category = "evaluator"   // Evaluation bridge and backends
	CategoryExport      Category = "export"      // JSONL export and SQLite archive
	CategoryScript      Category = "script"      // Script loading and file watching
)

// Categories lists every category.
var Categories = []Category{
	CategoryBoot, CategorySession, CategoryInterpreter, CategoryStore,
	CategoryLog, CategoryEvaluator, CategoryExport, CategoryScript,
}

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "json" or "console". Empty means json.
	Format string
	// File, when set, receives log output in addition to stderr.
	File string
	// Verbose forces debug level.
	Verbose bool
	// Categories switches individual categories on or off. Categories not
	// listed are on.
	Categories map[string]bool
}

// Registry hands out per-category loggers derived from one base logger.
type Registry struct {
	base     *zap.Logger
	disabled map[Category]bool
}

// New builds the base logger from zap's production config, the way the CLI
// always has: JSON to stderr, debug level only when verbose.
func New(opts Options) (*Registry, error) {
	config := zap.NewProductionConfig()
	config.Sampling = nil

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(strings.ToLower(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	switch opts.Format {
	case "", "json":
	case "console":
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, opts.File)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return Wrap(logger, opts.Categories), nil
}

// Wrap builds a Registry around an existing logger. A nil logger is
// replaced with a no-op logger.
func Wrap(base *zap.Logger, categories map[string]bool) *Registry {
	if base == nil {
		base = zap.NewNop()
	}
	disabled := make(map[Category]bool)
	for name, on := range categories {
		if !on {
			disabled[Category(name)] = true
		}
	}
	return &Registry{base: base, disabled: disabled}
}

// Nop returns a registry whose loggers discard everything.
func Nop() *Registry {
	return Wrap(nil, nil)
}

// For returns the logger for category.
func (r *Registry) For(category Category) *zap.Logger {
	if r == nil {
		return zap.NewNop()
	}
	if r.disabled[category] {
		return zap.NewNop()
	}
	return r.base.Named(string(category))
}

// Sync flushes buffered output.
func (r *Registry) Sync() error {
	return r.base.Sync()
}

// Timer measures one operation.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation
func StartTimer(logger *zap.Logger, operation string) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{logger: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the operation took longer than
// threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" was slow",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
