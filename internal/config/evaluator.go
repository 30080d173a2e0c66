package config

import (
	"fmt"
	"slices"
	"time"
)

// Evaluator backends.
const (
	BackendMangle  = "mangle"
	BackendProcess = "process"
	BackendNone    = "none"
)

// ValidBackends lists all supported evaluator backends.
var ValidBackends = []string{BackendMangle, BackendProcess, BackendNone}

// EvaluatorConfig configures policy evaluation.
type EvaluatorConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // mangle, process, none

	// Process backend: the external evaluator binary, its arguments, its
	// working directory and the environment variables passed through.
	Command        string   `yaml:"command,omitempty" env:"COMMAND"`
	Args           []string `yaml:"args,omitempty" env:"ARGS" envSeparator:","`
	Dir            string   `yaml:"dir,omitempty" env:"DIR"`
	AllowedEnv     []string `yaml:"allowed_env,omitempty" env:"ALLOWED_ENV" envSeparator:","`
	MaxOutputBytes int64    `yaml:"max_output_bytes,omitempty" env:"MAX_OUTPUT_BYTES"`

	Timeout     string `yaml:"timeout" env:"TIMEOUT"`
	Parallelism int    `yaml:"parallelism" env:"PARALLELISM"`

	// Mangle backend: derived facts per evaluation, zero for no limit.
	FactLimit int `yaml:"fact_limit" env:"FACT_LIMIT"`
}

// GetEvaluatorTimeout returns the evaluator timeout as a duration.
func (c *Config) GetEvaluatorTimeout() time.Duration {
	d, err := time.ParseDuration(c.Evaluator.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func (e EvaluatorConfig) validate() error {
	if !slices.Contains(ValidBackends, e.Backend) {
		return fmt.Errorf("invalid evaluator backend: %s (valid: %v)", e.Backend, ValidBackends)
	}
	if e.Backend == BackendProcess && e.Command == "" {
		return fmt.Errorf("evaluator backend %q requires a command", e.Backend)
	}
	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil {
			return fmt.Errorf("invalid evaluator timeout %q: %w", e.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid evaluator timeout %q: negative", e.Timeout)
		}
	}
	if e.Parallelism < 0 {
		return fmt.Errorf("invalid evaluator parallelism: %d", e.Parallelism)
	}
	if e.FactLimit < 0 {
		return fmt.Errorf("invalid evaluator fact limit: %d", e.FactLimit)
	}
	return nil
}
