package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/telefonbuch-scraper/internal/api"
	"github.com/JakeFAU/telefonbuch-scraper/internal/config"
	collyfetcher "github.com/JakeFAU/telefonbuch-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/telefonbuch-scraper/internal/metrics"
	"github.com/JakeFAU/telefonbuch-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/telefonbuch-scraper/internal/progress"
	"github.com/JakeFAU/telefonbuch-scraper/internal/progress/sinks"
	"github.com/JakeFAU/telefonbuch-scraper/internal/queryspace"
	"github.com/JakeFAU/telefonbuch-scraper/internal/scraper"
	"github.com/JakeFAU/telefonbuch-scraper/internal/session"
	"github.com/JakeFAU/telefonbuch-scraper/internal/supervisor"
)

const (
	probeTimeout    = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// progressRegisterer receives the run progress collectors. Tests replace it
// so repeated runs in one process do not collide.
var progressRegisterer = prometheus.DefaultRegisterer

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	var (
		onlyKeys   []string
		limitKeys  int
		archiveDir string
		listenAddr string
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes every key that is not yet stored",
		Long: `Starts (or reuses) the directory service, then walks the key space and
stores every result page of each key that has no rows yet. Keys are committed
one at a time; on error or interrupt the key in flight is rolled back.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			flags := cmd.Flags()
			if flags.Changed("only-keys") {
				cfg.Scrape.OnlyKeys = onlyKeys
			}
			if flags.Changed("limit-keys") {
				cfg.Scrape.LimitKeys = limitKeys
			}
			if flags.Changed("archive-dir") {
				cfg.Archive.Dir = archiveDir
			}
			if flags.Changed("listen") {
				cfg.Metrics.ListenAddr = listenAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runScrape(cmd.Context(), cfg, rt.logger)
		},
	}
	cmd.Flags().StringSliceVar(&onlyKeys, "only-keys", nil, "scrape only these keys, in order")
	cmd.Flags().IntVar(&limitKeys, "limit-keys", 0, "stop after this many keys that were not already stored")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "keep a compressed copy of every result page here")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "serve health, metrics and progress on this address")
	return cmd
}

func runScrape(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	space, err := queryspace.New(cfg.Query.Alphabet, cfg.Query.Length)
	if err != nil {
		return fmt.Errorf("key space: %w", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Accept:    cfg.HTTP.Accept,
		Timeout:   cfg.RequestTimeout(),
	})
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Service.RequestsPerSecond, Burst: 1})
	client, err := session.New(session.Config{
		BaseURL:      cfg.Service.BaseURL,
		PageSize:     cfg.Service.PageSize,
		PollInterval: cfg.Poll.Interval,
		PollAttempts: cfg.Poll.MaxAttempts,
		Retry: session.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Statuses:     cfg.Retry.Statuses,
		},
	}, fetcher, limiter, logger.Named("session"))
	if err != nil {
		return err
	}

	snapshot := sinks.NewSnapshotSink()
	promSink, err := sinks.NewPrometheusSink(progressRegisterer)
	if err != nil {
		return err
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		snapshot,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("close progress hub", zap.Error(cerr))
		}
	}()

	deps := scraper.Deps{
		Keys:     space,
		Client:   client,
		Store:    a.Store(),
		Progress: hub,
		Logger:   logger.Named("scraper"),
	}
	if archive := a.Archive(); archive != nil {
		deps.Archive = archive
	}

	if cfg.SupervisorEnabled() {
		sup, err := startService(ctx, cfg, fetcher, logger.Named("supervisor"))
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Service.StopTimeout+time.Second)
			defer cancel()
			if serr := sup.Stop(stopCtx); serr != nil {
				logger.Error("stop service", zap.Error(serr))
			}
		}()
		deps.Supervisor = sup
	} else {
		logger.Info("service managed externally", zap.String("base_url", cfg.Service.BaseURL))
	}

	engine, err := scraper.New(scraper.Config{
		PageSize:    cfg.Service.PageSize,
		MaxRestarts: cfg.Service.MaxRestarts,
		OnlyKeys:    cfg.Scrape.OnlyKeys,
		LimitKeys:   cfg.Scrape.LimitKeys,
	}, deps)
	if err != nil {
		return err
	}

	runCtx, stopServer := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	if cfg.Metrics.ListenAddr != "" {
		serveStatus(gctx, g, cfg, snapshot, a.Store(), logger.Named("api"))
	}
	g.Go(func() error {
		defer stopServer()
		return engine.Run(gctx)
	})
	err = g.Wait()
	stopServer()

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Warn("scrape interrupted; the key in flight was rolled back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	return nil
}

// startService launches the supervised service, reusing one that already
// answers when configured to.
func startService(
	ctx context.Context,
	cfg config.Config,
	fetcher *collyfetcher.Fetcher,
	logger *zap.Logger,
) (*supervisor.Supervisor, error) {
	sup, err := supervisor.New(supervisor.Config{
		Command:      cfg.Service.Command,
		Args:         cfg.Service.Args,
		SettleDelay:  cfg.Service.SettleDelay,
		StopTimeout:  cfg.Service.StopTimeout,
		ReuseRunning: cfg.Service.ReuseRunning,
		Probe: func(ctx context.Context) bool {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			_, err := fetcher.Fetch(probeCtx, cfg.Service.BaseURL)
			return err == nil
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := sup.Start(ctx); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			return nil, fmt.Errorf("%w at %s; stop it or set service.reuse_running", err, cfg.Service.BaseURL)
		}
		// Start may have left a process behind when the context ended mid-settle.
		_ = sup.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	return sup, nil
}

// serveStatus runs the status server until ctx ends.
func serveStatus(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.Config,
	src api.ProgressSource,
	st api.StoreReader,
	logger *zap.Logger,
) {
	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           api.NewServer(api.Config{APIKey: cfg.Metrics.APIKey}, src, st, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("status server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown", zap.Error(err))
		}
		return nil
	})
}
