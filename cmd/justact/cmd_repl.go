package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"justact/internal/evaluator"
	"justact/internal/logging"
	"justact/internal/render"
	"justact/internal/scenario"
	"justact/internal/script"
	"justact/internal/session"
)

const replHelp = `Scenario commands use the script line syntax, e.g.
  agent A
  say A s1 "B may read dataset X"
  agree g1 parties A,B cites s1
  check | check-all | rollback 2 | inspect

Shell commands:
  :transcript        show every command issued so far
  :branches          show timelines discarded by rollback
  :branch ID         show the state at the tip of a branch
  :at SEQ            show the state at a sequence
  :load FILE         run a script into this session
  :export [FILE]     write the transcript as JSON lines
  :archive           save the session to the archive
  :quit              leave`

// prompter is the part of liner.State the shell needs.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func newReplCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive scenario shell",
		Long: `Starts an interactive shell. Each line is one scenario command in the
script line syntax; lines starting with ':' are shell commands. Type :help
for the list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			history := a.cfg.Repl.HistoryFile
			if history != "" {
				if f, err := os.Open(history); err == nil {
					_, _ = line.ReadHistory(f)
					_ = f.Close()
				}
				defer func() {
					if err := os.MkdirAll(filepath.Dir(history), 0755); err != nil {
						return
					}
					if f, err := os.Create(history); err == nil {
						_, _ = line.WriteHistory(f)
						_ = f.Close()
					}
				}()
			}

			if name == "" {
				name = a.cfg.Name
			}
			s := a.newSession(name)
			defer s.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "justact session %s (evaluator: %s). Type :help for help.\n", s.ID(), a.cfg.Evaluator.Backend)
			return a.repl(cmd.Context(), line, cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Scenario name (default: config name)")
	return cmd
}

// repl reads commands until the input ends, :quit, or the session closes.
func (a *app) repl(ctx context.Context, in prompter, w io.Writer, s *session.Session) error {
	logger := a.logs.For(logging.CategorySession)
	r := render.New(w)
	prompt := a.cfg.Repl.Prompt

	for {
		input, err := in.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		in.AppendHistory(input)

		if strings.HasPrefix(input, ":") {
			quit, err := a.shellCommand(ctx, r, s, input)
			if err != nil {
				_ = r.Print("error: " + err.Error())
			}
			if quit {
				return nil
			}
			continue
		}

		cmd, ok, err := script.ParseLine(input, ".")
		if err != nil {
			_ = r.Print("error: " + err.Error())
			continue
		}
		if !ok {
			continue
		}
		out, err := s.Execute(ctx, cmd)
		_ = r.Print(r.Outcome(out, err))
		if err != nil && (errors.Is(err, evaluator.ErrFatal) || errors.Is(err, session.ErrSessionClosed)) {
			logger.Error("session closed", zap.Error(err))
			return err
		}
	}
}

// shellCommand handles one ':' line and reports whether the shell should
// exit.
func (a *app) shellCommand(ctx context.Context, r *render.Renderer, s *session.Session, input string) (bool, error) {
	fields := strings.Fields(strings.TrimPrefix(input, ":"))
	if len(fields) == 0 {
		return false, nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "q", "quit", "exit":
		return true, nil
	case "help", "h":
		return false, r.Print(replHelp)
	case "transcript":
		return false, r.Print(r.Transcript(s.Transcript()))
	case "branches":
		return false, r.Print(r.Branches(s.Branches()))
	case "branch":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: :branch ID")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("branch id must be an integer: %w", err)
		}
		snap, err := s.ReplayBranch(id)
		if err != nil {
			return false, err
		}
		return false, r.Print(r.Snapshot(snap))
	case "at":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: :at SEQ")
		}
		seq, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("sequence must be an integer: %w", err)
		}
		snap, err := s.Replay(scenario.Seq(seq))
		if err != nil {
			return false, err
		}
		return false, r.Print(r.Snapshot(snap))
	case "load":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: :load FILE")
		}
		sc, err := script.LoadFile(args[0])
		if err != nil {
			return false, err
		}
		results, runErr := s.Run(ctx, sc.Commands)
		for _, res := range results {
			_ = r.Print(r.Outcome(res.Outcome, res.Err))
		}
		return runErr != nil, runErr
	case "export":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		out, err := a.exportTranscript(s, path)
		if err != nil {
			return false, err
		}
		return false, r.Print("transcript written to " + out)
	case "archive":
		if err := a.archiveSession(ctx, s); err != nil {
			return false, err
		}
		return false, r.Print("session " + s.ID() + " archived")
	}
	return false, fmt.Errorf("unknown shell command %q (try :help)", name)
}
