package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"housefees/internal/amqp"
	"housefees/internal/archive"
	"housefees/internal/backend"
	"housefees/internal/cache"
	"housefees/internal/chat"
	"housefees/internal/cli"
	"housefees/internal/config"
	apphttp "housefees/internal/http"
	"housefees/internal/ledger"
	applog "housefees/internal/log"
	"housefees/internal/metrics"
	"housefees/internal/middleware/ratelimit"
	"housefees/internal/seed"
	"housefees/internal/services"
	"housefees/internal/telegram"
)

func main() {
	seedDir := flag.String("seed-dir", "", "read floorN.csv seed files from this directory instead of the embedded catalog")
	restoreLatest := flag.Bool("restore-latest", false, "restore the newest archived backup before serving")
	flag.Parse()

	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	if err := cfg.ValidateBot(); err != nil {
		logger.Error("Bot configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger, *seedDir, *restoreLatest); err != nil {
		logger.Error("housefees stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, seedDir string, restoreLatest bool) error {
	logger.Info("Starting housefees", "backend", cfg.DataBackend, "archive", cfg.BackupArchive, "port", cfg.Port)

	m := metrics.New(prometheus.DefaultRegisterer)

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	catalog, err := loadCatalog(seedDir)
	if err != nil {
		return err
	}
	store := ledger.NewStore(be.Persister, logger)
	res, err := store.Bootstrap(ctx, catalog)
	if err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}
	logger.Info("Ledger ready",
		"source", res.Source,
		applog.FieldUnits, res.Units,
		"duplicates", res.Duplicates)

	opts := []services.Option{services.WithMetrics(m)}
	arch, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	if arch != nil {
		opts = append(opts, services.WithArchive(arch))
	}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// The mirror worker still catches up on its interval.
			logger.Warn("AMQP unavailable, ledger events will not be published", applog.FieldError, err)
		} else {
			opts = append(opts, services.WithPublisher(client))
		}
	}
	svc := services.NewLedgerService(store, logger, opts...)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Closing ledger service failed", applog.FieldError, err)
		}
	}()
	m.SetLedger(store.Aggregate())

	if restoreLatest {
		entry, n, err := svc.RestoreLatest(ctx)
		if err != nil {
			return fmt.Errorf("restore latest backup: %w", err)
		}
		logger.Info("Restored archived backup", applog.FieldFileName, entry.Name, applog.FieldUnits, n)
	}

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.TelegramToken,
		Timeout:     cfg.TelegramTimeout,
		Concurrency: cfg.TelegramConcurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}

	sessions := chat.NewSessions(cfg.SessionTTL)
	limiter := ratelimit.NewLimiter[int64](ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		CleanupInterval:   5 * time.Minute,
	})
	handler, err := chat.NewHandler(chat.Config{
		Ledger:    svc,
		Deliverer: bot,
		Allowed:   chat.NewAllowList(cfg.AuthorizedIDs),
		Sessions:  sessions,
		Limiter:   limiter,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	caches := cache.NewManager(logger)
	caches.Register(sessions)

	checks := map[string]apphttp.Check{}
	if p, ok := be.Persister.(backend.Pinger); ok {
		checks["storage"] = p.Ping
	}
	srv := apphttp.NewServer(apphttp.Options{
		Addr:     ":" + cfg.Port,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   checks,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx, handler) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error { return caches.Run(gctx, time.Minute) })
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		cli.RunCleanup(logger, 30*time.Second, func(ctx context.Context) {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Server shutdown error", applog.FieldError, err)
			}
		})
		return nil
	})
	return g.Wait()
}

func loadCatalog(dir string) (*seed.Catalog, error) {
	if dir == "" {
		return seed.Embedded()
	}
	return seed.FromDir(dir)
}

// openArchive returns nil when archiving is disabled.
func openArchive(ctx context.Context, cfg *config.Config) (archive.Archive, error) {
	switch cfg.BackupArchive {
	case config.ArchiveFS:
		a, err := archive.NewFS(cfg.BackupDir)
		if err != nil {
			return nil, fmt.Errorf("open backup directory: %w", err)
		}
		return a, nil
	case config.ArchiveS3:
		a, err := archive.NewS3(ctx, archive.S3Config{
			Bucket:    cfg.BackupS3Bucket,
			Region:    cfg.BackupS3Region,
			Endpoint:  cfg.BackupS3Endpoint,
			PathStyle: cfg.BackupS3PathStyle,
			Prefix:    cfg.BackupS3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 archive: %w", err)
		}
		return a, nil
	default:
		return nil, nil
	}
}
