// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/config"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/logging"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/storage"
)

// Options are the global flags shared by every command.
type Options struct {
	ConfigPath string
	APIURL     string
	Verbose    bool
	LogStderr  bool
}

// LoadConfig reads the config file named by opts, or the default one, and
// applies the --api-url override.
func LoadConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFromPath(opts.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.APIURL != "" {
		cfg.API.BaseURL = strings.TrimRight(opts.APIURL, "/")
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --api-url: %w", err)
		}
	}
	return cfg, nil
}

// App holds the components a command works with. Build it with OpenApp and
// release it with Close.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Client   *api.Client
	Identity *identity.Store
	DB       *storage.DB
	Devis    *storage.DevisStore
	Chats    *storage.ChatStore
}

// OpenApp wires config, logging, transport, identity and storage.
// The persisted credential is restored but not verified; call
// Identity.Refresh when the command cares.
func OpenApp(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, &CommandError{Code: ExitConfigError, Err: err}
	}

	logger, err := logging.New(logging.Options{
		Path:    cfg.Log.Path,
		Level:   cfg.Log.Level,
		Verbose: opts.Verbose,
		Stderr:  opts.LogStderr,
	})
	if err != nil {
		return nil, &CommandError{Code: ExitConfigError, Err: err}
	}

	a := &App{Config: cfg, Logger: logger}

	// The store is the client's token source and the client reports
	// rejected tokens back to the store.
	var store *identity.Store
	a.Client = api.NewClient(api.Config{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout(),
		UserAgent:         cfg.API.UserAgent,
		MaxAttempts:       cfg.API.MaxAttempts,
		BackoffBase:       cfg.API.BackoffBase(),
		BackoffMax:        cfg.API.BackoffMax(),
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	}, tokenFunc(func() string { return store.Token() }), logger)
	store = identity.NewStore(a.Client, identity.NewFilePersister(cfg.Identity.CredentialsPath), logger)
	a.Client.OnUnauthorized(store.Reject)
	if err := store.Load(); err != nil {
		logger.Warn("failed to restore credential", zap.Error(err))
	}
	a.Identity = store

	db, err := storage.Open(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	a.DB = db
	a.Devis = storage.NewDevisStore(db)
	a.Chats = storage.NewChatStore(db, a.email)

	logger.Debug("app opened",
		zap.String("api", cfg.API.BaseURL),
		zap.String("db", db.Path()))
	return a, nil
}

// tokenFunc adapts a function to api.TokenSource.
type tokenFunc func() string

func (f tokenFunc) Token() string { return f() }

// email returns the signed-in user's email, or "".
func (a *App) email() string {
	snap := a.Identity.Snapshot()
	if !snap.SignedIn {
		return ""
	}
	return snap.User.Email
}

// NewAssistant returns an assistant service recording into the chat store.
func (a *App) NewAssistant() *assistant.Service {
	return assistant.NewService(a.Client, a.Chats, a.Logger)
}

// NewQuoteController returns a controller recording completed devis.
func (a *App) NewQuoteController() *quote.Controller {
	return quote.NewController(a.Client, a.Logger, quote.WithRecorder(a.Devis.Recorder(a.email)))
}

// Close releases the app's resources.
func (a *App) Close() error {
	var errs []error
	if a.Identity != nil {
		errs = append(errs, a.Identity.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Logger != nil {
		// Sync on a console sink returns EINVAL on some platforms.
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
