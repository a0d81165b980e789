package payments

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderEffects applies the order side of captures and refunds inside the
// payment transaction.
type OrderEffects interface {
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID uint) error
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uint, full bool, amountCents int64) error
}

// FulfillmentStarter opens one shipment per seller order once an order is paid.
type FulfillmentStarter interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, orderID uint) error
}
