// Package app assembles the checkout-to-fulfillment services for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/internal/shipments"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/square"
)

// Services is the wired domain layer shared by the API and the cron worker.
type Services struct {
	Metrics   *metrics.DomainMetrics
	Outbox    *outbox.Service
	Campaigns campaigns.Service
	Orders    orders.Service
	Payments  payments.Service
	Shipments shipments.Service
}

// Build wires the services. Construction runs leaf first because payments
// needs the order lifecycle and shipments, and orders needs payments.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client, reg prometheus.Registerer) (*Services, error) {
	if cfg == nil || client == nil {
		return nil, fmt.Errorf("config and db client required")
	}
	domainMetrics := metrics.NewDomainMetrics(reg)
	outboxSvc := outbox.NewService(outbox.NewRepository(client.DB()), logg)

	gateway, err := NewGateway(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}

	orderRepo := orders.NewRepository(client.DB())
	cartRepo := orders.NewCartRepository(client.DB())
	lifecycle, err := orders.NewLifecycle(orderRepo)
	if err != nil {
		return nil, fmt.Errorf("order lifecycle: %w", err)
	}

	shipmentSvc, err := shipments.NewService(shipments.Deps{
		Tx:      client,
		Repo:    shipments.NewRepository(client.DB()),
		Orders:  lifecycle,
		Stock:   cartRepo,
		Outbox:  outboxSvc,
		Metrics: domainMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("shipments service: %w", err)
	}

	paymentSvc, err := payments.NewService(payments.Deps{
		Tx:             client,
		Repo:           payments.NewRepository(client.DB()),
		Gateway:        gateway,
		Orders:         lifecycle,
		Fulfillment:    shipmentSvc,
		Outbox:         outboxSvc,
		Metrics:        domainMetrics,
		Logger:         logg,
		GatewayTimeout: cfg.Payments.GatewayTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	engine, err := campaigns.NewEngine(campaigns.NewRepository(client.DB()),
		campaigns.WithMetrics(domainMetrics),
		campaigns.WithLogger(logg),
	)
	if err != nil {
		return nil, fmt.Errorf("campaign engine: %w", err)
	}
	campaignSvc, err := campaigns.NewService(engine, cartRepo)
	if err != nil {
		return nil, fmt.Errorf("campaigns service: %w", err)
	}

	orderSvc, err := orders.NewService(orders.Deps{
		Tx:        client,
		Repo:      orderRepo,
		Carts:     cartRepo,
		Campaigns: engine,
		Payments:  paymentSvc,
		Outbox:    outboxSvc,
		Pricing:   cfg.Pricing,
		Metrics:   domainMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	return &Services{
		Metrics:   domainMetrics,
		Outbox:    outboxSvc,
		Campaigns: campaignSvc,
		Orders:    orderSvc,
		Payments:  paymentSvc,
		Shipments: shipmentSvc,
	}, nil
}

// NewGateway selects the payment gateway named by MARKET_PAYMENTS_PROVIDER.
func NewGateway(ctx context.Context, cfg *config.Config, logg *logger.Logger) (payments.Gateway, error) {
	provider, err := enums.ParsePaymentProvider(cfg.Payments.Provider)
	if err != nil {
		return nil, fmt.Errorf("payments provider: %w", err)
	}
	switch provider {
	case enums.PaymentProviderSquare:
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		return payments.NewSquareGateway(client), nil
	default:
		return payments.NewSandboxGateway(cfg.Payments.ThreeDSReturnURL), nil
	}
}
