package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"justact/internal/config"
	"justact/internal/logging"
)

// app is the state shared by every subcommand once the root command has
// loaded configuration.
type app struct {
	configPath string
	verbose    bool

	cfg  *config.Config
	logs *logging.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "justact",
		Short: "justact - multi-agent scenario simulator",
		Long: `justact simulates agents that state messages, agree on them and enact
actions justified by their agreements, and checks every step against
Datalog policies.

Scenarios are typed into an interactive shell or loaded from line, Lua or
YAML scripts. Every command is recorded, so a session can be rolled back,
exported, archived and replayed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logs != nil {
				_ = a.logs.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newReplCmd(a))
	rootCmd.AddCommand(newReplayCmd(a))
	rootCmd.AddCommand(newLintPolicyCmd(a))
	rootCmd.AddCommand(newArchiveCmd(a))
	rootCmd.AddCommand(newExportCmd(a))
	return rootCmd
}

// init loads configuration and builds the logger registry.
func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}
	logs, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		Verbose:    a.verbose,
		Categories: cfg.Logging.Categories,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logs = logs
	logs.For(logging.CategoryBoot).Debug("config loaded",
		zap.String("path", a.configPath),
		zap.String("evaluator", cfg.Evaluator.Backend))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
