package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// SellerOrder is one seller's portion of an order.
type SellerOrder struct {
	ID                uint                    `gorm:"column:id;primaryKey"`
	OrderID           uint                    `gorm:"column:order_id;not null;index"`
	SellerID          uint                    `gorm:"column:seller_id;not null;index"`
	Status            enums.SellerOrderStatus `gorm:"column:status;not null"`
	SubtotalCents     int64                   `gorm:"column:subtotal_cents;not null"`
	ShippingCostCents int64                   `gorm:"column:shipping_cost_cents;not null;default:0"`
	ShippedAt         *time.Time              `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time              `gorm:"column:delivered_at"`
	CancelledAt       *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;not null"`
	DeletedAt         gorm.DeletedAt          `gorm:"column:deleted_at;index"`
}
