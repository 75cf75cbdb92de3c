package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/corpus/internal/scanner"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Concurrency int
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-scan the corpus and finish any unfinished ingestion",
		Long: `Scan the configured corpus directory, then run the ingestion pool over
everything that is not yet terminal. Already-indexed files are untouched;
files stuck mid-lifecycle by a crash or pause are driven forward from their
stored state. Running backfill on a fully ingested corpus is a no-op.

Example:
  corpus backfill
  corpus backfill --concurrency 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "worker count (default from config)")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	sc := scanner.New(app.store, scanner.Conventions{Levels: app.cfg.MetadataLevels}, app.logger)
	res, err := sc.Scan(cmd.Context(), app.cfg.CorpusDir)
	if err != nil {
		return WrapExitError(ExitFailure, "scan failed", err).WithCode(ErrCodeScan)
	}
	app.logger.Info("backfill scan complete",
		"seen", res.Seen, "discovered", res.Discovered)

	return runIngestion(app, opts.RootOptions, opts.Concurrency, cmd)
}
