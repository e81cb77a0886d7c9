package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modaluna/modaluna-backend/api/controllers"
	webhookcontrollers "github.com/modaluna/modaluna-backend/api/controllers/webhooks"
	"github.com/modaluna/modaluna-backend/api/middleware"
	cartsvc "github.com/modaluna/modaluna-backend/internal/cart"
	checkoutsvc "github.com/modaluna/modaluna-backend/internal/checkout"
	notificationsvc "github.com/modaluna/modaluna-backend/internal/notifications"
	ordersvc "github.com/modaluna/modaluna-backend/internal/orders"
	pricingsvc "github.com/modaluna/modaluna-backend/internal/pricing"
	returnsvc "github.com/modaluna/modaluna-backend/internal/returns"
	stocksvc "github.com/modaluna/modaluna-backend/internal/stock"
	fulfillmentsvc "github.com/modaluna/modaluna-backend/internal/webhooks/fulfillment"
	"github.com/modaluna/modaluna-backend/pkg/config"
	"github.com/modaluna/modaluna-backend/pkg/db"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/redis"
)

type Services struct {
	Stock         stocksvc.Service
	Pricing       pricingsvc.Service
	Cart          cartsvc.Service
	Checkout      checkoutsvc.Service
	Orders        ordersvc.Service
	Returns       returnsvc.Service
	Notifications notificationsvc.Service
	Fulfillment   fulfillmentsvc.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	registry *prometheus.Registry,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/fulfillment", webhookcontrollers.FulfillmentWebhook(svcs.Fulfillment, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// public catalog pricing
		r.Get("/products/{productId}/price", controllers.ProductPrice(svcs.Pricing, logg))
		r.Get("/products/{productId}/installments", controllers.InstallmentQuote(svcs.Pricing, logg))
		r.Get("/variants/{variantId}/stock", controllers.VariantStock(svcs.Stock, logg))

		// carts accept guest sessions as well as signed-in users
		r.Group(func(r chi.Router) {
			r.Use(middleware.Identify(cfg.JWT, logg))
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.CartFetch(svcs.Cart, logg))
				r.Delete("/", controllers.CartAbandon(svcs.Cart, logg))
				r.Get("/totals", controllers.CartTotals(svcs.Cart, logg))
				r.Post("/items", controllers.CartAddItem(svcs.Cart, logg))
				r.Patch("/items/{itemId}", controllers.CartUpdateItem(svcs.Cart, logg))
				r.Delete("/items/{itemId}", controllers.CartRemoveItem(svcs.Cart, logg))
				r.Post("/items/{itemId}/tried-on", controllers.CartMarkTriedOn(svcs.Cart, logg))
			})
		})

		// everything past the cart requires a signed-in user
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Post("/cart/merge", controllers.CartMerge(svcs.Cart, logg))
			r.Post("/checkout", controllers.Checkout(svcs.Checkout, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.OrderList(svcs.Orders, logg))
				r.Get("/{orderId}", controllers.OrderDetail(svcs.Orders, logg))
				r.Post("/{orderId}/cancel", controllers.OrderCancel(svcs.Orders, logg))
				r.Get("/{orderId}/returns", controllers.ReturnList(svcs.Returns, logg))
				r.Post("/{orderId}/returns", controllers.ReturnCreate(svcs.Returns, logg))
			})
			r.Get("/returns/{returnId}", controllers.ReturnDetail(svcs.Returns, logg))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.NotificationList(svcs.Notifications, logg))
				r.Post("/read-all", controllers.NotificationMarkAllRead(svcs.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.NotificationMarkRead(svcs.Notifications, logg))
			})
			r.Post("/variants/{variantId}/restock-subscriptions", controllers.RestockSubscribe(svcs.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Put("/variants/{variantId}/stock", controllers.AdminSetStock(svcs.Stock, logg))
		r.Post("/products/{productId}/price", controllers.SetPrice(svcs.Pricing, logg))
		r.Get("/products/{productId}/price/history", controllers.PriceHistory(svcs.Pricing, logg))
		r.Get("/returns/metrics", controllers.ReturnMetrics(svcs.Returns, logg))
	})

	return r
}
