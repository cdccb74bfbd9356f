package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"housefees/internal/amqp"
	"housefees/internal/backend"
	"housefees/internal/cli"
	"housefees/internal/config"
	apphttp "housefees/internal/http"
	applog "housefees/internal/log"
	"housefees/internal/metrics"
	"housefees/internal/sheets"
	gsheet "housefees/internal/sheets/google"
	mem "housefees/internal/sheets/memory"
	"housefees/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("housefees-worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting housefees-worker", "backend", cfg.DataBackend, "interval", cfg.SyncInterval)
	if cfg.DataBackend == config.BackendMemory {
		logger.Warn("Memory backend is private to the bot process, the mirror will stay empty")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	var mirror sheets.LedgerMirror
	if cfg.MirrorEnabled() {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize google sheets mirror: %w", err)
		}
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
		mirror = client
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, mirroring in memory")
		mirror = mem.New()
	}

	w := worker.NewMirrorWorker(be.Persister, mirror, m, logger, cfg.SyncInterval)

	checks := map[string]apphttp.Check{
		"mirror": func(context.Context) error {
			if w.LastSync().IsZero() {
				return errors.New("no successful sync yet")
			}
			return nil
		},
	}
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
	g.Go(func() error { return w.Run(gctx) })

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, relying on periodic sync", applog.FieldError, err)
		} else {
			defer client.Close()
			g.Go(func() error {
				err := client.Consume(gctx, w.HandleEvent)
				if err != nil && !errors.Is(err, context.Canceled) {
					// Periodic sync keeps the mirror current without events.
					logger.Error("Message consumption failed", applog.FieldError, err)
				}
				return nil
			})
		}
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	g.Go(func() error {
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
