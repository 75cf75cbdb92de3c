package cli

import (
	"log/slog"
	"os"

	"github.com/roach88/corpus/internal/config"
	"github.com/roach88/corpus/internal/glossary"
	"github.com/roach88/corpus/internal/index"
	"github.com/roach88/corpus/internal/search"
	"github.com/roach88/corpus/internal/session"
	"github.com/roach88/corpus/internal/store"
)

// app bundles the shared wiring behind every command: config, logger, and
// the opened state store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
}

// newApp loads config, configures logging, and opens the database.
// Callers must Close.
func newApp(opts *RootOptions) (*app, error) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	} else if !opts.Verbose {
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err).WithCode(ErrCodeConfig)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).WithCode(ErrCodeDatabase)
	}

	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// adapter builds the real index-service adapter from config plus the
// environment credential.
func (a *app) adapter() (index.Adapter, error) {
	key, err := config.APIKey()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "missing credential", err).WithCode(ErrCodeConfig)
	}
	client, err := index.NewClient(index.ClientConfig{
		BaseURL: a.cfg.Index.BaseURL,
		StoreID: a.cfg.Index.StoreID,
		APIKey:  key,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build index client", err).WithCode(ErrCodeConfig)
	}
	return client, nil
}

// model builds the ranking/generation model client.
func (a *app) model() (search.Model, error) {
	key, err := config.APIKey()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "missing credential", err).WithCode(ErrCodeConfig)
	}
	m, err := search.NewHTTPModel(a.cfg.Model.BaseURL, key)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build model client", err).WithCode(ErrCodeConfig)
	}
	return m, nil
}

// sessions builds the session manager, markers kept next to the database.
func (a *app) sessions() *session.Manager {
	return session.NewManager(a.store, a.cfg.DBPath)
}

// glossary loads the configured glossary. A missing configuration is not an
// error; expansion is simply unavailable.
func (a *app) glossary() (*glossary.Glossary, error) {
	if a.cfg.GlossaryPath == "" {
		return nil, nil
	}
	g, err := glossary.Load(a.cfg.GlossaryPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load glossary", err).WithCode(ErrCodeGlossary)
	}
	return g, nil
}
