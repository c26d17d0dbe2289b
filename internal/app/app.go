// Package app initializes and holds the long-lived services shared by the
// commands: the configured logger, the record store and the page archive.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/config"
	"github.com/JakeFAU/telefonbuch-scraper/internal/storage/local"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store/postgres"
	"github.com/JakeFAU/telefonbuch-scraper/internal/store/sqlite"
)

// App holds the services built from one Config. It is created once per
// command and closed when the command returns.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   store.Store
	archive *local.Archive
}

// NewApp opens the store selected by cfg.Store.Driver, creates its schema
// and, when cfg.Archive.Dir is set, the page archive. It fails fast if any
// of them cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	logger.Info("store ready",
		zap.String("driver", cfg.Store.Driver),
		zap.String("table", cfg.Store.Table),
	)

	a := &App{cfg: cfg, logger: logger, store: st}
	if cfg.Archive.Dir != "" {
		archive, err := local.New(local.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init page archive: %w", err)
		}
		logger.Info("archiving raw pages", zap.String("dir", cfg.Archive.Dir))
		a.archive = archive
	}
	return a, nil
}

// NewStore opens the store for the configured driver and creates the table
// and unique index when missing.
func NewStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, Table: cfg.Table})
	case config.DriverPostgres:
		st, err = postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns})
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
	}
	return st, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the record store.
func (a *App) Store() store.Store {
	return a.store
}

// Archive returns the page archive, or nil when archiving is disabled.
func (a *App) Archive() *local.Archive {
	return a.archive
}

// Close releases the store and the archive. Errors are logged.
func (a *App) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("close page archive", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
}
