package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// PaymentIntent tracks the single payment attempt for an order.
type PaymentIntent struct {
	ID                  uint                  `gorm:"column:id;primaryKey"`
	OrderID             uint                  `gorm:"column:order_id;not null;uniqueIndex:ux_payment_intents_order_id"`
	BuyerID             uint                  `gorm:"column:buyer_id;not null;index"`
	AmountCents         int64                 `gorm:"column:amount_cents;not null"`
	RefundedAmountCents int64                 `gorm:"column:refunded_amount_cents;not null;default:0"`
	Currency            string                `gorm:"column:currency;not null;default:'USD'"`
	Status              enums.PaymentStatus   `gorm:"column:status;not null"`
	Method              enums.PaymentMethod   `gorm:"column:method;not null"`
	Provider            enums.PaymentProvider `gorm:"column:provider;not null"`
	ExternalReference   *string               `gorm:"column:external_reference;uniqueIndex:ux_payment_intents_external_reference"`
	Requires3DS         bool                  `gorm:"column:requires_3ds;not null;default:false"`
	RedirectURL         *string               `gorm:"column:redirect_url"`
	FailureReason       *string               `gorm:"column:failure_reason"`
	ThreeDSStartedAt    *time.Time            `gorm:"column:three_ds_started_at"`
	AuthorizedAt        *time.Time            `gorm:"column:authorized_at"`
	CapturedAt          *time.Time            `gorm:"column:captured_at"`
	CancelledAt         *time.Time            `gorm:"column:cancelled_at"`
	RefundedAt          *time.Time            `gorm:"column:refunded_at"`
	FailedAt            *time.Time            `gorm:"column:failed_at"`
	CreatedAt           time.Time             `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time             `gorm:"column:updated_at;not null"`
	DeletedAt           gorm.DeletedAt        `gorm:"column:deleted_at;index"`
}

// RefundableCents is what is left to refund.
func (p PaymentIntent) RefundableCents() int64 {
	return p.AmountCents - p.RefundedAmountCents
}
