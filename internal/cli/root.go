package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Debug   bool
	Format  string // "json" | "text"
	Config  string // config file path; "" loads pure defaults
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the corpus CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Durable corpus ingestion and grounded search",
		Long: `corpus ingests a local text corpus into a remote semantic index and
answers questions over it with passage-grounded, citation-checked results.

Ingestion is resumable: every file's position in the upload lifecycle is
persisted, so interrupted runs pick up where they left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	})

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "corpus.cue", "config file path")

	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewUploadCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewGlossaryCommand(opts))

	return cmd
}

// Run executes the root command and renders any failure through the output
// formatter, so JSON consumers get a structured error envelope on stdout and
// text users get a coded line on stderr. Returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	format, ferr := cmd.PersistentFlags().GetString("format")
	if ferr != nil || !isValidFormat(format) {
		format = "text"
	}
	verbose, _ := cmd.PersistentFlags().GetBool("verbose")

	w := io.Writer(stderr)
	if format == "json" {
		w = stdout
	}
	f := &OutputFormatter{Format: format, Writer: w, ErrWriter: stderr, Verbose: verbose}

	code := ErrCodeGeneric
	message := err.Error()
	var details any
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ErrCode != "" {
			code = exitErr.ErrCode
		}
		message = exitErr.Message
		if exitErr.Err != nil {
			details = exitErr.Err.Error()
		}
	}
	if renderErr := f.Error(code, message, details); renderErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
