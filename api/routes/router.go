package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vendalivre/vendalivre-backend/api/controllers"
	webhookcontrollers "github.com/vendalivre/vendalivre-backend/api/controllers/webhooks"
	"github.com/vendalivre/vendalivre-backend/api/middleware"
	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/internal/payments"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/db"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
	"github.com/vendalivre/vendalivre-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redis.Pinger,
	checkoutService controllers.CheckoutService,
	ordersService orders.Service,
	paymentsService payments.Service,
	webhookService webhookcontrollers.IngestService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/{gateway}", webhookcontrollers.GatewayWebhook(webhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(ordersService, logg))
			r.Get("/stats", controllers.OrderStats(ordersService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersService, logg))
			r.Get("/{orderId}/events", controllers.OrderEvents(ordersService, logg))

			r.Post("/{orderId}/confirm", controllers.ConfirmOrder(ordersService, logg))
			r.Post("/{orderId}/ship", controllers.ShipOrder(ordersService, logg))
			r.Post("/{orderId}/deliver", controllers.DeliverOrder(ordersService, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(ordersService, logg))
			r.Post("/{orderId}/mark-paid", controllers.MarkOrderPaid(ordersService, logg))
			r.Post("/{orderId}/archive", controllers.ArchiveOrder(ordersService, logg))

			r.Post("/{orderId}/items", controllers.AddOrderItem(ordersService, logg))
			r.Delete("/{orderId}/items/{itemId}", controllers.RemoveOrderItem(ordersService, logg))
			r.Post("/{orderId}/notes", controllers.AddOrderNote(ordersService, logg))

			r.Get("/{orderId}/payments", controllers.ListOrderPayments(paymentsService, logg))
			r.Post("/{orderId}/payments", controllers.CreatePayment(paymentsService, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{paymentId}", controllers.PaymentDetail(paymentsService, logg))
			r.Post("/{paymentId}/refund", controllers.RefundPayment(paymentsService, logg))
			r.Post("/{paymentId}/reconcile", controllers.ReconcilePayment(paymentsService, logg))
		})
	})

	return r
}
