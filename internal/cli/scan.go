package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/corpus/internal/lifecycle"
	"github.com/roach88/corpus/internal/scanner"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan [corpus-dir]",
		Short: "Discover corpus files and record them for ingestion",
		Long: `Walk the corpus directory, hash every text file, and record new or
changed files as untracked. Unchanged files are left alone; a changed file
supersedes its previous row so old citations stay resolvable.

With no argument the configured corpus directory is scanned.

Example:
  corpus scan
  corpus scan ./lectures --verbose`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, args, cmd)
		},
	}

	return cmd
}

func runScan(opts *ScanOptions, args []string, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	root := app.cfg.CorpusDir
	if len(args) == 1 {
		root = args[0]
	}
	if _, err := os.Stat(root); err != nil {
		return WrapExitError(ExitCommandError, "corpus directory not accessible", err).WithCode(ErrCodeScan)
	}

	sc := scanner.New(app.store, scanner.Conventions{Levels: app.cfg.MetadataLevels}, app.logger)
	res, err := sc.Scan(cmd.Context(), root)
	if err != nil {
		return WrapExitError(ExitFailure, "scan failed", err).WithCode(ErrCodeScan)
	}

	counts, err := app.store.CountByState(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to summarize states", err).WithCode(ErrCodeDatabase)
	}

	formatter := &OutputFormatter{
		Format: opts.Format, Writer: cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose,
	}
	return formatter.Successf(map[string]any{
		"seen":       res.Seen,
		"discovered": res.Discovered,
		"unchanged":  res.Unchanged,
		"skipped":    res.Skipped,
		"states":     stateCounts(counts),
	}, "scanned %d files: %d discovered, %d unchanged, %d skipped\n%s",
		res.Seen, res.Discovered, res.Unchanged, res.Skipped,
		formatStateCounts(counts))
}

// stateCounts converts the typed count map to a JSON-friendly one.
func stateCounts(counts map[lifecycle.State]int) map[string]int {
	out := make(map[string]int, len(counts))
	for st, n := range counts {
		out[string(st)] = n
	}
	return out
}

// formatStateCounts renders per-state counts one per line, in lifecycle
// order, skipping empty states.
func formatStateCounts(counts map[lifecycle.State]int) string {
	var lines []string
	for _, st := range lifecycle.States {
		if n := counts[st]; n > 0 {
			lines = append(lines, fmt.Sprintf("  %s: %d", st, n))
		}
	}
	if len(lines) == 0 {
		return "  (no files tracked)"
	}
	return strings.Join(lines, "\n")
}
