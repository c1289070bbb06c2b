package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/leadledger-backend/api/routes"
	"github.com/angelmondragon/leadledger-backend/internal/catalog"
	"github.com/angelmondragon/leadledger-backend/internal/checkout"
	"github.com/angelmondragon/leadledger-backend/internal/ledger"
	"github.com/angelmondragon/leadledger-backend/internal/reference"
	gatewaywebhook "github.com/angelmondragon/leadledger-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/leadledger-backend/pkg/config"
	"github.com/angelmondragon/leadledger-backend/pkg/db"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
	"github.com/angelmondragon/leadledger-backend/pkg/metrics"
	"github.com/angelmondragon/leadledger-backend/pkg/migrate"
	"github.com/angelmondragon/leadledger-backend/pkg/redis"
	"github.com/angelmondragon/leadledger-backend/pkg/retrywriter"
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	codec := reference.NewCodec(reference.CodecParams{
		Logger:  logg,
		Metrics: webhookMetrics,
	})

	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Repo:     catalog.NewRepository(dbClient.DB()),
		Cache:    redisClient,
		CacheTTL: cfg.Catalog.CacheTTL,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:       ledger.NewRepository(dbClient.DB()),
		Catalog:    catalogService,
		TxRunner:   dbClient,
		Logger:     logg,
		PeriodDays: cfg.Gateway.PeriodDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	writer := retrywriter.New(retrywriter.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffStep: cfg.Retry.Backoff,
	}, logg)

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Repo:                 gatewaywebhook.NewRepository(dbClient.DB()),
		Ledger:               ledgerService,
		Codec:                codec,
		Catalog:              catalogService,
		TxRunner:             dbClient,
		Writer:               writer,
		Logger:               logg,
		Metrics:              webhookMetrics,
		WebhookToken:         cfg.Gateway.WebhookToken,
		AmountToleranceCents: cfg.Gateway.AmountToleranceCents,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Catalog: catalogService,
		Codec:   codec,
		Gateway: cfg.Gateway,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			catalogService,
			checkoutService,
			ledgerService,
			webhookService,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
