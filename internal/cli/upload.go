package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/corpus/internal/ingest"
	"github.com/roach88/corpus/internal/ratelimit"
	"github.com/roach88/corpus/internal/store"
	"github.com/roach88/corpus/internal/transition"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	Concurrency int
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Drive tracked files through upload and indexing",
		Long: `Run the bounded worker pool over every non-terminal file: upload to the
index service, poll the resulting operations, and record each file's final
state. Interrupting the run is safe; re-running resumes from stored state.

When the index service reports credit exhaustion the run stops cleanly,
writes a checkpoint marker, and exits 0. Re-run after topping up.

Example:
  corpus upload
  corpus upload --concurrency 5 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "worker count (default from config)")

	return cmd
}

func runUpload(opts *UploadOptions, cmd *cobra.Command) error {
	app, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	return runIngestion(app, opts.RootOptions, opts.Concurrency, cmd)
}

// runIngestion is the shared pool run behind upload and backfill.
func runIngestion(app *app, rootOpts *RootOptions, concurrency int, cmd *cobra.Command) error {
	adapter, err := app.adapter()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.NewLimiter(ratelimit.Quotas{
		RequestsPerMinute: app.cfg.Quotas.RPM,
		TokensPerMinute:   app.cfg.Quotas.TPM,
		RequestsPerDay:    app.cfg.Quotas.RPD,
	})
	breaker := ratelimit.NewBreaker(ratelimit.BreakerConfig{
		Window:    time.Duration(app.cfg.Breaker.WindowSeconds) * time.Second,
		Threshold: app.cfg.Breaker.Threshold,
		Cooldown:  time.Duration(app.cfg.Breaker.CooldownSeconds) * time.Second,
		MinEvents: app.cfg.Breaker.MinEvents,
	})

	workers := app.cfg.Ingest.Concurrency
	if concurrency > 0 {
		workers = concurrency
	}

	pool := ingest.NewPool(app.store, adapter, transition.NewManager(app.store, app.logger),
		limiter, breaker, ingest.Config{
			Workers:      workers,
			MaxTransient: app.cfg.Ingest.MaxTransient,
			UploadTokens: app.cfg.Ingest.UploadTokens,
			MarkerPath:   app.cfg.DBPath + ".checkpoint.json",
			StoreID:      app.cfg.Index.StoreID,
		}, app.logger, &sessionNotifier{app: app})

	formatter := &OutputFormatter{
		Format: rootOpts.Format, Writer: cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), Verbose: rootOpts.Verbose,
	}

	formatter.VerboseLog("ingestion pool: %d workers, store %s", workers, app.cfg.Index.StoreID)

	runErr := pool.Run(ctx)
	counts, countErr := app.store.CountByState(cmd.Context())
	if countErr != nil {
		app.logger.Warn("failed to summarize states", "error", countErr)
	}

	switch {
	case runErr == nil:
		return formatter.Successf(map[string]any{
			"completed": pool.Completed(),
			"states":    stateCounts(counts),
		}, "ingestion complete: %d files reached a terminal state\n%s",
			pool.Completed(), formatStateCounts(counts))

	case errors.Is(runErr, ingest.ErrCreditPause):
		// A credit pause is a successful checkpointed stop, not a failure.
		return formatter.Successf(map[string]any{
			"paused":    true,
			"completed": pool.Completed(),
			"states":    stateCounts(counts),
		}, "paused: index service credits exhausted after %d files\ncheckpoint written; re-run `corpus upload` to resume\n%s",
			pool.Completed(), formatStateCounts(counts))

	case errors.Is(runErr, ingest.ErrBreakerHalted):
		return WrapExitError(ExitFailure, "error rate tripped the circuit breaker twice; halting", runErr).WithCode(ErrCodeIngest)

	case errors.Is(runErr, context.Canceled):
		return formatter.Successf(map[string]any{
			"interrupted": true,
			"completed":   pool.Completed(),
		}, "interrupted after %d files; re-run to resume", pool.Completed())

	default:
		return WrapExitError(ExitFailure, "ingestion failed", runErr).WithCode(ErrCodeIngest)
	}
}

// sessionNotifier forwards pool lifecycle notices to the active session's
// event log, when one exists.
type sessionNotifier struct {
	app *app
}

func (n *sessionNotifier) Notify(ctx context.Context, message string) {
	id, err := n.app.sessions().Active(ctx)
	if err != nil || id == "" {
		return
	}
	payload, _ := json.Marshal(map[string]string{"stage": "ingest", "error": message})
	if _, err := n.app.store.AppendEvent(ctx, id, store.EventError, string(payload)); err != nil {
		n.app.logger.Warn("failed to record pool notice", "error", err)
	}
}
