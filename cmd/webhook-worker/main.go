package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/internal/payments"
	"github.com/vendalivre/vendalivre-backend/internal/webhooks"
	"github.com/vendalivre/vendalivre-backend/internal/webhooks/gateway"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/db"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
	"github.com/vendalivre/vendalivre-backend/pkg/mercadopago"
	"github.com/vendalivre/vendalivre-backend/pkg/metrics"
	"github.com/vendalivre/vendalivre-backend/pkg/migrate"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
	"github.com/vendalivre/vendalivre-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "webhook-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "webhook-worker"

	logg = logger.New(logger.Options{
		ServiceName: "webhook-worker",
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

	mpOptions := []mercadopago.Option{}
	if cfg.MercadoPago.BaseURL != "" {
		mpOptions = append(mpOptions, mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL))
	}
	mpClient, err := mercadopago.NewClient(cfg.MercadoPago.AccessToken, mpOptions...)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercado pago client", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersService, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(
		payments.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		ordersService,
		mpClient,
		cfg.MercadoPago,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	webhookService, err := webhooks.NewService(
		webhooks.NewRepository(dbClient.DB()),
		dbClient,
		paymentsService,
		gateway.NewRegistry(cfg.Webhooks),
		redisClient,
		metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		logg,
		cfg.Webhooks,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting webhook worker")

	serveMetrics(ctx, logg, cfg.App.MetricsPort)

	if err := run(ctx, logg, webhookService, cfg.Webhooks); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "webhook worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "webhook worker shutting down gracefully")
}

func run(ctx context.Context, logg *logger.Logger, service *webhooks.Service, cfg config.WebhooksConfig) error {
	interval := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			processed, err := service.ProcessPending(ctx, cfg.BatchSize)
			if err != nil {
				logg.Error(ctx, "webhook batch failed", err)
				continue
			}
			if processed > 0 {
				logg.Info(logg.WithField(ctx, "processed", processed), "webhook batch processed")
			}
		}
	}
}

// serveMetrics exposes /metrics when a metrics port is configured.
func serveMetrics(ctx context.Context, logg *logger.Logger, port string) {
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
}
