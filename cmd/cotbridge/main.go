package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atxtak/cotbridge/internal/api"
	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/cot"
	"github.com/atxtak/cotbridge/internal/engine"
	"github.com/atxtak/cotbridge/internal/feeds"
	"github.com/atxtak/cotbridge/internal/metrics"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/poller"
	"github.com/atxtak/cotbridge/internal/sender"
	"github.com/atxtak/cotbridge/internal/store"
	"github.com/atxtak/cotbridge/internal/utils"
)

func main() {
	var configPath string
	var dryRun bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&dryRun, "dry-run", false, "Build events but discard them instead of sending to TAK")
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting cotbridge",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Store.Backend),
		slog.Duration("interval", cfg.Poll.Interval))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var lifecycleStore store.Store
	switch cfg.Store.Backend {
	case "valkey":
		vs, err := store.NewValkeyStore(cfg.Store.Valkey, cfg.Store.Retention)
		if err != nil {
			logger.Error("valkey store unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		lifecycleStore = vs
	default:
		lifecycleStore = store.NewMemoryStore()
	}
	defer lifecycleStore.Close()

	var snd sender.Sender
	if dryRun || cfg.TAK.URL == "" {
		if !dryRun {
			logger.Warn("no TAK URL configured, events will be discarded")
		}
		snd = &sender.NopSender{}
	} else {
		takSender, err := sender.NewTAKSender(cfg.TAK, logger)
		if err != nil {
			logger.Error("failed to create TAK sender", slog.Any("error", err))
			os.Exit(1)
		}
		snd = takSender
	}
	defer snd.Close()

	eng := engine.New(logger, lifecycleStore, snd, engine.Options{
		Namespace: cfg.CoT.Namespace,
		Windows: cot.StaleWindows{
			Standard: cfg.CoT.StandardStale,
			Removal:  cfg.CoT.RemovalStale,
		},
		RefreshCeiling: cfg.CoT.RefreshCeiling,
		Retention:      cfg.Store.Retention,
	})

	statuses, err := feeds.LoadStatusMap(cfg.CoT.StatusMapPath)
	if err != nil {
		logger.Error("failed to load status map", slog.String("path", cfg.CoT.StatusMapPath), slog.Any("error", err))
		os.Exit(1)
	}

	sodaClient := feeds.NewClient(cfg.SODA)
	normalizer := feeds.NewNormalizer(statuses, sodaClient.PermalinkFor)

	pollers := make([]*poller.Poller, 0, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		pollers = append(pollers, poller.New(
			logger, kind, sodaClient, normalizer, eng,
			cfg.CoT.Namespace, cfg.Poll.Lookback, cfg.SODA.Timeout,
		))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := poller.StartScheduler(ctx, logger, cfg.Poll.Interval, pollers...)
	if err != nil {
		logger.Error("failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	server := api.NewServer(cfg.Server, api.Deps{
		Logger:    logger,
		Engine:    eng,
		Pollers:   pollers,
		Sender:    snd,
		Store:     lifecycleStore,
		Scheduler: scheduler,
		Config:    cfg,
	})

	go func() {
		logger.Info("control server listening", slog.String("address", cfg.Server.Address))
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("control server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control server shutdown", slog.Any("error", err))
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("cotbridge stopped")
}
