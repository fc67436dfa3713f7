package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kallerud/artmarket/internal/auction"
	"github.com/kallerud/artmarket/internal/catalog"
	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/config"
	"github.com/kallerud/artmarket/internal/health"
	"github.com/kallerud/artmarket/internal/leader"
	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/notify"
	"github.com/kallerud/artmarket/internal/server"
	"github.com/kallerud/artmarket/internal/settlement"
	"github.com/kallerud/artmarket/internal/store"
	"github.com/kallerud/artmarket/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/kallerud/artmarket/internal/store/memstore"
	_ "github.com/kallerud/artmarket/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	st, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer st.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	// Notification sinks: structured log always, Discord when configured.
	sinks := []notify.Sink{&notify.LogSink{Logger: logger}}
	if cfg.Notify.DiscordToken != "" {
		announcer, announcerErr := notify.NewAnnouncer(cfg.Notify, logger)
		if announcerErr != nil {
			logger.WarnContext(ctx, "discord announcer unavailable", slog.Any("error", announcerErr))
		} else {
			defer announcer.Close()
			sinks = append(sinks, announcer)
		}
	}
	dispatcher := notify.NewDispatcher(logger, sinks...)

	auctions := auction.NewService(st, dispatcher, logger, tp.TracerProvider, clk)
	cat := catalog.NewService(st, dispatcher, cfg.Market.FeeRate, logger, tp.TracerProvider)
	led := ledger.NewService(st, logger, tp.TracerProvider)
	processor := settlement.NewProcessor(st, dispatcher, cfg.Market.FeeRate, logger, tp.TracerProvider, clk)
	scheduler, err := settlement.NewScheduler(processor, st, cfg.Market.ReconcileInterval, logger, tp.MeterProvider, clk)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	// Ops endpoints run on their own listener on every replica.
	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "database", Check: st.Ping},
	)
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.OpsPort),
		Handler:           healthHandler.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "starting ops server", slog.Int("port", cfg.Server.OpsPort))
		if listenErr := opsServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "ops server error", slog.Any("error", listenErr))
		}
	}()

	// Public API.
	srv := server.New(auctions, cat, led, scheduler, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "starting api server", slog.Int("port", cfg.Server.Port))
		if listenErr := apiServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "api server error", slog.Any("error", listenErr))
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "artmarket is running", slog.String("version", version))

	// The reconciliation loop runs on one replica only when leader
	// election is enabled; the API serves everywhere.
	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled for reconciliation scheduler")
		go func() {
			if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, scheduler.Run, func() {
				logger.Info("lost leadership, stopping scheduler")
			}); leaderErr != nil {
				logger.ErrorContext(ctx, "leader election error", slog.Any("error", leaderErr))
			}
		}()
	} else {
		go scheduler.Run(ctx)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", slog.Any("error", err))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
