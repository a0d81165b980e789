package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Shipment follows one seller order from the warehouse to the buyer.
type Shipment struct {
	ID             uint                 `gorm:"column:id;primaryKey"`
	SellerOrderID  uint                 `gorm:"column:seller_order_id;not null;uniqueIndex:ux_shipments_seller_order_id"`
	Carrier        *string              `gorm:"column:carrier"`
	TrackingNumber *string              `gorm:"column:tracking_number"`
	Status         enums.ShipmentStatus `gorm:"column:status;not null"`
	ShippedAt      *time.Time           `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time           `gorm:"column:delivered_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;not null"`
	DeletedAt      gorm.DeletedAt       `gorm:"column:deleted_at;index"`
}
