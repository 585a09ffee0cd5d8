package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inkwellbooks/bookstore-backend/api/routes"
	"github.com/inkwellbooks/bookstore-backend/internal/books"
	checkoutsvc "github.com/inkwellbooks/bookstore-backend/internal/checkout"
	"github.com/inkwellbooks/bookstore-backend/internal/dashboard"
	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	"github.com/inkwellbooks/bookstore-backend/internal/orders"
	"github.com/inkwellbooks/bookstore-backend/internal/payments"
	stripewebhook "github.com/inkwellbooks/bookstore-backend/internal/webhooks/stripe"
	"github.com/inkwellbooks/bookstore-backend/pkg/config"
	"github.com/inkwellbooks/bookstore-backend/pkg/db"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
	"github.com/inkwellbooks/bookstore-backend/pkg/metrics"
	"github.com/inkwellbooks/bookstore-backend/pkg/migrate"
	"github.com/inkwellbooks/bookstore-backend/pkg/ordernum"
	"github.com/inkwellbooks/bookstore-backend/pkg/outbox"
	"github.com/inkwellbooks/bookstore-backend/pkg/redis"
	"github.com/inkwellbooks/bookstore-backend/pkg/stripe"
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	stripeGateway, err := gateway.NewStripeGateway(stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	bookRepo := books.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	orderNumbers := ordernum.NewGenerator(redisClient)
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	checkoutService, err := checkoutsvc.NewService(
		dbClient,
		ordersRepo,
		bookRepo,
		nil,
		outboxService,
		stripeGateway,
		orderNumbers,
		cfg.Checkout.Currency,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(
		dbClient,
		ordersRepo,
		stripeGateway,
		outboxService,
		nil,
		paymentMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	dashboardService, err := dashboard.NewService(dbClient.DB(), bookRepo, cfg.Dashboard)
	if err != nil {
		logg.Error(context.Background(), "failed to create dashboard service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
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
		Handler: routes.NewRouter(routes.RouterParams{
			Config:           cfg,
			Logger:           logg,
			DB:               dbClient,
			Redis:            redisClient,
			CheckoutService:  checkoutService,
			PaymentsService:  paymentsService,
			DashboardService: dashboardService,
			OrdersRepo:       ordersRepo,
			WebhookParser:    stripeGateway,
			WebhookGuard:     webhookGuard,
			PaymentMetrics:   paymentMetrics,
			RateLimiter:      redisClient,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
