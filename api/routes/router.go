package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gastonanderson039-glitch/supermarketpro/api/controllers"
	"github.com/gastonanderson039-glitch/supermarketpro/api/middleware"
	notifsvc "github.com/gastonanderson039-glitch/supermarketpro/internal/notifications"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/redis"
)

// Deps carries every collaborator the HTTP surface needs. cmd/api builds one
// after wiring the domain services together.
type Deps struct {
	DB      db.Pinger
	Redis   *redis.Client
	Metrics http.Handler

	Cart          controllers.CartService
	Checkout      controllers.CheckoutService
	Orders        controllers.OrderService
	Payments      controllers.PaymentService
	Wallet        controllers.WalletService
	Promotions    controllers.PromotionService
	Notifications notifsvc.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Redis-backed middleware degrades to a pass-through when no client is
	// wired, e.g. in handler tests.
	idempotency := passthrough
	rateLimit := passthrough
	if deps.Redis != nil {
		idempotency = middleware.Idempotency(deps.Redis, logg)
		webhookPolicy := middleware.NewRateLimitPolicy(
			"payment-webhook",
			cfg.Payments.WebhookWindow,
			cfg.Payments.WebhookIPLimit,
		)
		rateLimit = middleware.RateLimit(webhookPolicy, deps.Redis, logg)
	}

	// Provider webhook: authenticated by provider signature upstream, rate
	// limited by IP here.
	r.With(rateLimit).
		Post("/api/v1/payments/confirm", controllers.PaymentConfirm(deps.Payments, logg))

	// Cart and checkout accept either a customer JWT or a guest session token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(idempotency)

		r.Route("/api/v1/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(deps.Cart, logg))
			r.Delete("/", controllers.CartClear(deps.Cart, logg))
			r.Post("/items", controllers.CartAddItem(deps.Cart, logg))
			r.Patch("/items/{productId}", controllers.CartUpdateItem(deps.Cart, logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(deps.Cart, logg))
			r.Post("/discounts", controllers.CartApplyDiscount(deps.Cart, logg))
			r.Delete("/discounts/{code}", controllers.CartRemoveDiscount(deps.Cart, logg))
		})

		r.Post("/api/v1/checkout", controllers.Checkout(deps.Checkout, logg))
	})

	// Everything below requires a verified bearer token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(idempotency)

		r.Route("/api/v1/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Get("/{orderId}/history", controllers.OrderHistory(deps.Orders, logg))
			r.Post("/{orderId}/transition", controllers.OrderTransition(deps.Orders, logg))
			r.Post("/{orderId}/assign", controllers.OrderAssignAgent(deps.Orders, logg))
			r.Post("/{orderId}/reassign", controllers.OrderReassignAgent(deps.Orders, logg))
			r.Post("/{orderId}/delivery-status", controllers.OrderDeliveryStatus(deps.Orders, logg))
		})

		r.Route("/api/v1/payments", func(r chi.Router) {
			r.Post("/{paymentId}/refund", controllers.PaymentRefund(deps.Payments, logg))
			r.Get("/by-order/{orderId}", controllers.PaymentByOrder(deps.Payments, logg))
		})

		r.Route("/api/v1/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletFetch(deps.Wallet, logg))
			r.Post("/transactions", controllers.WalletCreateTransaction(deps.Wallet, logg))
		})

		r.Route("/api/v1/promotions", func(r chi.Router) {
			r.Get("/{code}", controllers.PromotionFetch(deps.Promotions, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("admin", logg))
				r.Post("/", controllers.PromotionCreate(deps.Promotions, logg))
				r.Get("/", controllers.PromotionList(deps.Promotions, logg))
				r.Delete("/{promotionId}", controllers.PromotionDeactivate(deps.Promotions, logg))
			})
		})

		r.Route("/api/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationList(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.NotificationMarkRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.NotificationMarkAllRead(deps.Notifications, logg))
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
