package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vendalivre/vendalivre-backend/api/routes"
	checkoutsvc "github.com/vendalivre/vendalivre-backend/internal/checkout"
	"github.com/vendalivre/vendalivre-backend/internal/coupons"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

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

	mpOptions := []mercadopago.Option{}
	if cfg.MercadoPago.BaseURL != "" {
		mpOptions = append(mpOptions, mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL))
	}
	if cfg.MercadoPago.NotificationURL != "" {
		mpOptions = append(mpOptions, mercadopago.WithNotificationURL(cfg.MercadoPago.NotificationURL))
	}
	mpClient, err := mercadopago.NewClient(cfg.MercadoPago.AccessToken, mpOptions...)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercado pago client", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	couponService := coupons.NewService(coupons.NewRepository(dbClient.DB()))

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

	checkoutService, err := checkoutsvc.NewService(dbClient, couponService, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			ordersService,
			paymentsService,
			webhookService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
