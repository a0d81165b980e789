package models

import (
	"time"

	"gorm.io/gorm"
)

// SellerOrderItem snapshots a purchased listing. Rows are never updated.
type SellerOrderItem struct {
	ID             uint           `gorm:"column:id;primaryKey"`
	SellerOrderID  uint           `gorm:"column:seller_order_id;not null;index"`
	ListingID      uint           `gorm:"column:listing_id;not null"`
	ProductID      uint           `gorm:"column:product_id;not null"`
	CategoryID     uint           `gorm:"column:category_id;not null"`
	Title          string         `gorm:"column:title;not null"`
	UnitPriceCents int64          `gorm:"column:unit_price_cents;not null"`
	Quantity       int            `gorm:"column:quantity;not null"`
	LineTotalCents int64          `gorm:"column:line_total_cents;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index"`
}
