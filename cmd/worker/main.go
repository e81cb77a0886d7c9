package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modaluna/modaluna-backend/internal/consumers"
	"github.com/modaluna/modaluna-backend/internal/notifications"
	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/pkg/config"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/metrics"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

// The worker drains the transactional outbox and fans events out to
// in-process consumers: restock subscription notifications and order
// status notifications.
func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	conn := dbClient.DB()
	registry := prometheus.NewRegistry()
	commerceMetrics := metrics.NewCommerceMetrics(registry)
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)

	stockSvc, err := stock.NewService(dbClient, stock.NewRepository(conn), publisher)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock service", err)
		os.Exit(1)
	}
	notificationsSvc, err := notifications.NewService(dbClient, notifications.NewRepository(conn), stockSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	dispatcher, err := consumers.NewDispatcher(cfg, outbox.NewRepository(conn), logg, commerceMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}
	dispatcher.Register(enums.EventVariantRestocked, consumers.NewRestockHandler(notificationsSvc, logg))
	dispatcher.Register(enums.EventOrderStatusChanged, consumers.NewOrderStatusHandler(notificationsSvc))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"batch_size": cfg.Outbox.BatchSize,
		"poll_ms":    cfg.Outbox.PollIntervalMS,
	})
	logg.Info(logCtx, "starting outbox worker")

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(logCtx, "outbox worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(logCtx, "outbox worker stopped")
}
