package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage research sessions",
		Long: `A session is an append-only log of searches, syntheses, notes, and
errors. One session is active at a time; search and note append to it.
The active session is tracked in a marker next to the database, or by the
CORPUS_SESSION environment variable when set.`,
	}

	cmd.AddCommand(newSessionStartCommand(rootOpts))
	cmd.AddCommand(newSessionResumeCommand(rootOpts))
	cmd.AddCommand(newSessionNoteCommand(rootOpts))
	cmd.AddCommand(newSessionExportCommand(rootOpts))
	cmd.AddCommand(newSessionListCommand(rootOpts))

	return cmd
}

func newSessionStartCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "start <name>",
		Short:         "Start a new session and make it active",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			sess, err := app.sessions().Start(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to start session", err).WithCode(ErrCodeSession)
			}
			return sessionFormatter(rootOpts, cmd).Successf(sess,
				"session %q started (%s)", sess.Name, sess.ID)
		},
	}
}

func newSessionResumeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "resume <id-or-name>",
		Short:         "Make an existing session active",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			sess, err := app.sessions().Resume(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to resume session", err).WithCode(ErrCodeSession)
			}
			return sessionFormatter(rootOpts, cmd).Successf(sess,
				"session %q resumed (%s)", sess.Name, sess.ID)
		},
	}
}

func newSessionNoteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "note <text>...",
		Short:         "Append a note to the active session",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.sessions().Note(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to record note", err).WithCode(ErrCodeSession)
			}
			return sessionFormatter(rootOpts, cmd).Successf(
				map[string]any{"event_id": id}, "note recorded (event %d)", id)
		},
	}
}

func newSessionExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:           "export [id-or-name]",
		Short:         "Export a session transcript as YAML",
		Long:          "Export the full event log of a session. With no argument the active session is exported.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create output file", err).WithCode(ErrCodeSession)
				}
				defer f.Close()
				w = f
			}

			if err := app.sessions().Export(cmd.Context(), ref, w); err != nil {
				return WrapExitError(ExitCommandError, "failed to export session", err).WithCode(ErrCodeSession)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write transcript to file instead of stdout")
	return cmd
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List sessions, most recently updated first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			sessions, err := app.store.ListSessions(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sessions", err).WithCode(ErrCodeSession)
			}
			active, err := app.sessions().Active(cmd.Context())
			if err != nil {
				active = ""
			}

			f := sessionFormatter(rootOpts, cmd)
			if rootOpts.Format == "json" {
				return f.Success(sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(f.Writer, "no sessions")
				return nil
			}
			for _, s := range sessions {
				marker := " "
				if s.ID == active {
					marker = "*"
				}
				fmt.Fprintf(f.Writer, "%s %s  %s  (updated %s)\n", marker, s.ID, s.Name, s.UpdatedAt)
			}
			return nil
		},
	}
}

func sessionFormatter(rootOpts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format: rootOpts.Format, Writer: cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), Verbose: rootOpts.Verbose,
	}
}
