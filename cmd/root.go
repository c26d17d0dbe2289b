// Package cmd defines the CLI commands of the telefonbuch-scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/app"
	"github.com/JakeFAU/telefonbuch-scraper/internal/config"
	"github.com/JakeFAU/telefonbuch-scraper/internal/logging"
)

// runtimeKey is the context key for the loaded configuration and logger.
type runtimeKey struct{}

type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the service factory. It is a variable so tests can swap it.
var newApp = app.NewApp

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "telefonbuch-scraper",
		Short: "Scrapes the Telefonbuch Intranet directory service into a relational table.",
		Long: `telefonbuch-scraper walks every two-character search key against a locally
running Telefonbuch Intranet service, fetches every result page and stores the
flattened address records. Each key is committed atomically, so an interrupted
scrape resumes at the first key that is not yet stored.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads config and builds the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				// syncing a console stderr returns EINVAL on Linux
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); SCRAPER_* env vars override it")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newKeysCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("configuration not loaded")
	}
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so a running scrape rolls back its open key and stops the service.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
