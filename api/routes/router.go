package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-backend/api/controllers"
	campaigncontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/campaigns"
	ordercontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/payments"
	sellerordercontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/sellerorders"
	webhookcontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/internal/shipments"
	"github.com/angelmondragon/marketplace-backend/internal/webhooks"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// Store backs request idempotency and rate limiting.
type Store interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Deps groups everything the HTTP surface dispatches to.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	Pingers   map[string]controllers.Pinger
	Store     Store
	Gatherer  prometheus.Gatherer
	Orders    orders.Service
	Campaigns campaigns.Service
	Payments  payments.Service
	Shipments shipments.Service
	Webhooks  webhooks.Processor
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	var idempotencyStore pkgredis.IdempotencyStore
	var limiterStore interface {
		IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	}
	if d.Store != nil {
		idempotencyStore = d.Store
		limiterStore = d.Store
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	callbackPolicy := middleware.NewRateLimitPolicy("payment-callback", cfg.RateLimit.Window, cfg.RateLimit.CallbackPerIP, 0)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.Window, 0, cfg.RateLimit.CheckoutPerUser)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Pingers))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Unauthenticated provider and bank callbacks; authenticity comes from
	// the payload signature or the 3DS reference.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(callbackPolicy, limiterStore, logg))
		r.Post("/api/v1/payments/webhook/{provider}", webhookcontrollers.Receive(d.Webhooks, logg))
		r.Post("/api/v1/payments/gateway/3ds/complete", paymentcontrollers.Complete3DS(d.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		// Idempotency sits behind each role check so a forbidden caller
		// never claims a key.
		idempotent := middleware.Idempotency(idempotencyStore, logg)

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleBuyer), idempotent)
			r.With(middleware.RateLimit(checkoutPolicy, limiterStore, logg)).Post("/checkout", ordercontrollers.Checkout(d.Orders, logg))
			r.Get("/", ordercontrollers.List(d.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(d.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(d.Orders, logg))
			r.Post("/{orderId}/complete", ordercontrollers.Complete(d.Orders, logg))
		})

		r.With(middleware.RequireRole(logg, enums.RoleBuyer)).Post("/campaigns/preview", campaigncontrollers.Preview(d.Campaigns, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleBuyer), idempotent)
				r.Post("/intents", paymentcontrollers.CreateIntent(d.Payments, logg))
				r.Get("/intents/{intentId}", paymentcontrollers.GetIntent(d.Payments, logg))
				r.Get("/intents/{intentId}/events", paymentcontrollers.ListEvents(d.Payments, logg))
				r.Post("/intents/{intentId}/authorize", paymentcontrollers.Authorize(d.Payments, logg))
				r.Post("/intents/{intentId}/cancel", paymentcontrollers.Cancel(d.Payments, logg))
				r.Post("/intents/{intentId}/3ds/confirm", paymentcontrollers.Confirm3DS(d.Payments, logg))
				r.Post("/gateway/3ds/initialize", paymentcontrollers.Initialize3DS(d.Payments, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleAdmin), idempotent)
				r.Post("/intents/{intentId}/capture", paymentcontrollers.Capture(d.Payments, logg))
				r.Post("/intents/{intentId}/refund", paymentcontrollers.Refund(d.Payments, logg))
			})
		})

		r.Route("/seller/orders/{sellerOrderId}", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller), idempotent)
			r.Get("/", sellerordercontrollers.Detail(d.Shipments, logg))
			r.Patch("/status", sellerordercontrollers.UpdateStatus(d.Shipments, logg))
			r.Post("/ship", sellerordercontrollers.Ship(d.Shipments, logg))
			r.Post("/deliver", sellerordercontrollers.Deliver(d.Shipments, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Get("/webhooks/reconciliation", webhookcontrollers.Reconciliation(d.Webhooks, logg))
	})

	return r
}
