// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, database opening, logger construction and
// actor resolution to reduce boilerplate across commands.
package appctx

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lherron/iatisync/internal/config"
	"github.com/lherron/iatisync/internal/db"
	"github.com/lherron/iatisync/internal/logging"
	"github.com/lherron/iatisync/internal/store"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration
	Config *config.Config

	// DB is the opened database connection (nil if NeedsDB is false)
	DB *db.DB

	// Store wraps DB (nil if NeedsDB is false)
	Store *store.Store

	// Log is the process logger
	Log *logrus.Logger

	// Actor is the label recorded on import logs and events
	Actor string
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
		a.Store = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the database.
	NeedsDB bool

	// SkipMigrationCheck opens the database even when migrations are
	// pending. Used by the migrate command itself.
	SkipMigrationCheck bool
}

// DefaultOptions returns default options (DB required, migrations applied).
func DefaultOptions() Options {
	return Options{NeedsDB: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The database is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dbFlag := cmd.Flag("db"); dbFlag != nil {
		if dbPath := dbFlag.Value.String(); dbPath != "" {
			cfg.DBPath = dbPath
		}
	}

	app := &App{
		Config: cfg,
		Log:    logging.New(cfg),
		Actor:  cfg.Actor(),
	}
	if asFlag := cmd.Flag("as"); asFlag != nil {
		if as := asFlag.Value.String(); as != "" {
			app.Actor = as
		}
	}

	if !opts.NeedsDB {
		return app, nil
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if !opts.SkipMigrationCheck {
		if err := database.RequiresMigrationError(); err != nil {
			database.Close()
			return nil, err
		}
	}

	app.DB = database
	app.Store = store.New(database)
	return app, nil
}
