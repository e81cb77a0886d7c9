package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modaluna/modaluna-backend/api/routes"
	"github.com/modaluna/modaluna-backend/internal/cart"
	"github.com/modaluna/modaluna-backend/internal/checkout"
	"github.com/modaluna/modaluna-backend/internal/notifications"
	"github.com/modaluna/modaluna-backend/internal/orders"
	"github.com/modaluna/modaluna-backend/internal/pricing"
	"github.com/modaluna/modaluna-backend/internal/returns"
	"github.com/modaluna/modaluna-backend/internal/stock"
	"github.com/modaluna/modaluna-backend/internal/webhooks/fulfillment"
	"github.com/modaluna/modaluna-backend/pkg/config"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/metrics"
	"github.com/modaluna/modaluna-backend/pkg/migrate"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
	"github.com/modaluna/modaluna-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	registry := prometheus.NewRegistry()
	commerceMetrics := metrics.NewCommerceMetrics(registry)
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)

	stockSvc, err := stock.NewService(dbClient, stock.NewRepository(conn), publisher)
	exitOnError(logg, "stock service", err)

	pricingSvc, err := pricing.NewService(dbClient, pricing.NewRepository(conn))
	exitOnError(logg, "pricing service", err)

	cartSvc, err := cart.NewService(dbClient, cart.NewRepository(conn), stockSvc, pricingSvc)
	exitOnError(logg, "cart service", err)

	ordersRepo := orders.NewRepository(conn)
	ordersSvc, err := orders.NewService(dbClient, ordersRepo, stockSvc, publisher)
	exitOnError(logg, "orders service", err)

	checkoutSvc, err := checkout.NewService(
		dbClient,
		checkout.NewRepository(conn),
		cart.NewRepository(conn),
		ordersRepo,
		stockSvc,
		pricingSvc,
		publisher,
		commerceMetrics,
	)
	exitOnError(logg, "checkout service", err)

	returnsSvc, err := returns.NewService(dbClient, returns.NewRepository(conn), ordersRepo)
	exitOnError(logg, "returns service", err)

	notificationsSvc, err := notifications.NewService(dbClient, notifications.NewRepository(conn), stockSvc)
	exitOnError(logg, "notifications service", err)

	fulfillmentSvc, err := fulfillment.NewService(
		ordersRepo,
		ordersSvc,
		redisClient,
		cfg.Webhook.IdempotencyTTL,
		logg,
		commerceMetrics,
	)
	exitOnError(logg, "fulfillment service", err)

	addr := ":" + cfg.App.Port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, routes.Services{
			Stock:         stockSvc,
			Pricing:       pricingSvc,
			Cart:          cartSvc,
			Checkout:      checkoutSvc,
			Orders:        ordersSvc,
			Returns:       returnsSvc,
			Notifications: notificationsSvc,
			Fulfillment:   fulfillmentSvc,
		}),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		logg.Info(ctx, "shutting down api server")
		timeout, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(timeout); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func exitOnError(logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}
