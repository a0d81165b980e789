package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Order is the buyer-facing aggregate produced by one checkout.
type Order struct {
	ID                uint              `gorm:"column:id;primaryKey"`
	BuyerID           uint              `gorm:"column:buyer_id;not null;index"`
	OrderNumber       string            `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	Status            enums.OrderStatus `gorm:"column:status;not null"`
	Currency          string            `gorm:"column:currency;not null;default:'USD'"`
	SubtotalCents     int64             `gorm:"column:subtotal_cents;not null"`
	ShippingCostCents int64             `gorm:"column:shipping_cost_cents;not null;default:0"`
	TaxCents          int64             `gorm:"column:tax_cents;not null;default:0"`
	DiscountCents     int64             `gorm:"column:discount_cents;not null;default:0"`
	TotalCents        int64             `gorm:"column:total_cents;not null"`
	ShippingAddress   string            `gorm:"column:shipping_address;not null"`
	BillingAddress    string            `gorm:"column:billing_address;not null"`
	CouponCode        *string           `gorm:"column:coupon_code"`
	CancelReason      *string           `gorm:"column:cancel_reason"`
	CancelledBy       *uint             `gorm:"column:cancelled_by"`
	CancelledAt       *time.Time        `gorm:"column:cancelled_at"`
	PaidAt            *time.Time        `gorm:"column:paid_at"`
	ShippedAt         *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time        `gorm:"column:delivered_at"`
	CompletedAt       *time.Time        `gorm:"column:completed_at"`
	CreatedAt         time.Time         `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;not null"`
	DeletedAt         gorm.DeletedAt    `gorm:"column:deleted_at;index"`
}

// ExpectedTotal is subtotal + shipping + tax - discount.
func (o Order) ExpectedTotal() int64 {
	return o.SubtotalCents + o.ShippingCostCents + o.TaxCents - o.DiscountCents
}
