package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendalivre/vendalivre-backend/internal/cron"
	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/internal/payments"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/db"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
	"github.com/vendalivre/vendalivre-backend/pkg/mercadopago"
	"github.com/vendalivre/vendalivre-backend/pkg/metrics"
	"github.com/vendalivre/vendalivre-backend/pkg/migrate"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
	"github.com/vendalivre/vendalivre-backend/pkg/redis"
)

const lockKeyFormat = "vl:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	ordersService, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	paymentsService, err := payments.NewService(paymentsRepo, dbClient, outboxService, ordersService, mpClient, cfg.MercadoPago)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	paymentExpiry, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:   logg,
		DB:       dbClient,
		Reader:   paymentsRepo,
		Payments: paymentsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment expiry job", err)
		os.Exit(1)
	}

	abandonedOrders, err := cron.NewAbandonedOrderJob(cron.AbandonedOrderJobParams{
		Logger: logg,
		Reader: ordersService,
		Orders: ordersService,
		TTL:    cfg.Checkout.AbandonedOrderTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create abandoned order job", err)
		os.Exit(1)
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		Outbox:    outboxRepo,
		Retention: cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(paymentExpiry, abandonedOrders, outboxRetention),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	serveMetrics(ctx, logg, cfg.App.MetricsPort)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
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
