package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"justact/internal/render"
	"justact/internal/session"
)

func newArchiveCmd(a *app) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect sessions saved to the SQLite archive",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			r := render.New(cmd.OutOrStdout())
			return r.Print(r.Sessions(sessions))
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show the transcript and branches of an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			r := render.New(cmd.OutOrStdout())
			return r.Print(r.ArchivedSession(sess))
		},
	}

	var opts session.VerifyOptions
	replayCmd := &cobra.Command{
		Use:   "replay [session-id]",
		Short: "Re-run an archived session and compare the outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.verify(cmd, sess.ID, sess.Transcript, opts)
		},
	}
	replayCmd.Flags().BoolVar(&opts.Verdicts, "verdicts", false, "Also compare check verdicts")

	deleteCmd := &cobra.Command{
		Use:   "delete [session-id...]",
		Short: "Remove sessions from the archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}

	archiveCmd.AddCommand(listCmd, showCmd, replayCmd, deleteCmd)
	return archiveCmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [session-id]",
		Short: "Write the transcript of an archived session as JSON lines",
		Long: `Writes the transcript of an archived session as JSON lines, the format
replay reads. Without --out the file goes to the export directory, named
after the session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			path, err := a.writeTranscript(sess.ID, sess.Transcript, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transcript written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file")
	return cmd
}
