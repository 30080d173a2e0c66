package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"justact/internal/logging"
	"justact/internal/render"
	"justact/internal/script"
	"justact/internal/session"
)

type runOptions struct {
	watch   bool
	export  string
	save    bool
	archive bool
	strict  bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run a scenario script",
		Long: `Runs a scenario script and prints the outcome of every command.

The format follows the file extension: .lua for Lua, .yaml or .yml for YAML,
anything else for the line syntax. Rejected commands are reported and the
script carries on; a fatal evaluator failure stops it.

Example:
  justact run scenarios/paper.jact --export paper.jsonl
  justact run scenarios/paper.lua --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.watch {
				return a.watchScript(ctx, cmd.OutOrStdout(), args[0], opts)
			}
			return a.runScript(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-run whenever the script or its policy files change")
	cmd.Flags().StringVarP(&opts.export, "export", "e", "", "Write the transcript as JSON lines to this file")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Save the session in the configured export format")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "Save the session to the SQLite archive")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail when any command is rejected")
	return cmd
}

// runScript loads and runs one script in a fresh session.
func (a *app) runScript(ctx context.Context, w io.Writer, path string, opts *runOptions) error {
	logger := a.logs.For(logging.CategoryScript)
	timer := logging.StartTimer(logger, "run script")
	defer timer.Stop()

	sc, err := script.LoadFile(path)
	if err != nil {
		return err
	}
	logger.Info("script loaded",
		zap.String("path", sc.Path),
		zap.String("format", string(sc.Format)),
		zap.Int("commands", len(sc.Commands)))

	s := a.newSession(sc.Name)
	defer s.Close()

	r := render.New(w)
	results, runErr := s.Run(ctx, sc.Commands)
	for _, res := range results {
		if err := r.Print(r.Outcome(res.Outcome, res.Err)); err != nil {
			return err
		}
	}

	saveJSONL := opts.save && a.cfg.Export.Format != "sqlite"
	if saveJSONL || opts.export != "" {
		out, err := a.exportTranscript(s, opts.export)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "transcript written to %s\n", out)
	}
	if opts.archive || (opts.save && a.cfg.Export.Format == "sqlite") {
		if err := a.archiveSession(ctx, s); err != nil {
			return err
		}
		fmt.Fprintf(w, "session %s archived\n", s.ID())
	}

	if runErr != nil {
		return runErr
	}
	if rejected := session.Rejected(results); opts.strict && len(rejected) > 0 {
		return fmt.Errorf("%d of %d commands rejected", len(rejected), len(results))
	}
	return nil
}

// watchScript runs the script, then re-runs it each time one of its source
// files settles after a change.
func (a *app) watchScript(ctx context.Context, w io.Writer, path string, opts *runOptions) error {
	logger := a.logs.For(logging.CategoryScript)

	sc, err := script.LoadFile(path)
	if err != nil {
		return err
	}
	watcher, err := script.NewWatcher(logger, script.DefaultDebounce)
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(sc.Sources...); err != nil {
		return err
	}

	rerun := func() {
		if err := a.runScript(ctx, w, path, opts); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
		fmt.Fprintf(w, "watching %s for changes\n", path)
	}
	rerun()

	err = watcher.Run(ctx, func(changed string) {
		logger.Info("script changed", zap.String("path", changed))
		rerun()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
