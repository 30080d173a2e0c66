package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"justact/internal/render"
	"justact/internal/scenariolog"
	"justact/internal/session"
)

func newReplayCmd(a *app) *cobra.Command {
	var opts session.VerifyOptions
	cmd := &cobra.Command{
		Use:   "replay [transcript.jsonl]",
		Short: "Re-run an exported transcript and compare the outcomes",
		Long: `Re-issues every command of an exported transcript to a fresh session and
reports where the status, sequence or snapshot differ from the recording.

Verdicts depend on the evaluator, so they are only compared with --verdicts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer f.Close()
			records, err := scenariolog.ReadJSONL(f)
			if err != nil {
				return err
			}
			return a.verify(cmd, args[0], records, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Verdicts, "verdicts", false, "Also compare check verdicts")
	return cmd
}

// verify replays records in a fresh session and prints the differences.
func (a *app) verify(cmd *cobra.Command, name string, records []scenariolog.Record, opts session.VerifyOptions) error {
	s := a.newSession(name)
	defer s.Close()

	mismatches, err := s.Verify(cmd.Context(), records, opts)
	if err != nil {
		return err
	}
	r := render.New(cmd.OutOrStdout())
	if err := r.Print(r.Mismatches(mismatches)); err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%s: %d of %d records differ", name, len(mismatches), len(records))
	}
	return nil
}
