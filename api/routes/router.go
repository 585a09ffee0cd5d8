package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkwellbooks/bookstore-backend/api/controllers"
	webhookcontrollers "github.com/inkwellbooks/bookstore-backend/api/controllers/webhooks"
	"github.com/inkwellbooks/bookstore-backend/api/middleware"
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
	"github.com/inkwellbooks/bookstore-backend/pkg/redis"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               db.Pinger
	Redis            redis.Pinger
	CheckoutService  checkoutsvc.Service
	PaymentsService  payments.Service
	DashboardService *dashboard.Service
	OrdersRepo       orders.Repository
	WebhookParser    gateway.WebhookParser
	WebhookGuard     *stripewebhook.IdempotencyGuard
	PaymentMetrics   *metrics.PaymentMetrics
	RateLimiter      middleware.RateLimiter
}

// Checkout traffic is bursty but human-driven; a per-user window this size
// only trips on runaway clients.
const (
	checkoutRateLimit  = 30
	checkoutRateWindow = time.Minute
)

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.WebhookParser, p.PaymentsService, p.WebhookGuard, p.PaymentMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(middleware.RateLimit(p.RateLimiter, "checkout", checkoutRateLimit, checkoutRateWindow, logg)).
			Post("/checkout", controllers.Checkout(p.CheckoutService, logg))
		r.Post("/payments/confirm", controllers.ConfirmPayment(p.PaymentsService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(p.OrdersRepo, logg))
			r.Get("/{orderId}", controllers.OrderDetail(p.OrdersRepo, logg))
			r.With(middleware.RateLimit(p.RateLimiter, "checkout", checkoutRateLimit, checkoutRateWindow, logg)).
				Post("/{orderId}/payment-intent", controllers.RequestPaymentIntent(p.CheckoutService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/stats", controllers.AdminDashboardStats(p.DashboardService, logg))
			r.Get("/recent-orders", controllers.AdminRecentOrders(p.DashboardService, logg))
			r.Get("/activities", controllers.AdminActivities(p.DashboardService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/{orderId}/ship", controllers.AdminShipOrder(p.PaymentsService, logg))
			r.Post("/{orderId}/deliver", controllers.AdminDeliverOrder(p.PaymentsService, logg))
			r.Post("/{orderId}/cancel", controllers.AdminCancelOrder(p.PaymentsService, logg))
		})
	})

	return r
}
