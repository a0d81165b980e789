package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Listing is a seller's offer for a product. Catalog management lives elsewhere;
// checkout only reads prices and decrements stock.
type Listing struct {
	ID                uint              `gorm:"column:id;primaryKey"`
	SellerID          uint              `gorm:"column:seller_id;not null;index"`
	ProductID         uint              `gorm:"column:product_id;not null"`
	CategoryID        uint              `gorm:"column:category_id;not null"`
	Title             string            `gorm:"column:title;not null"`
	PriceCents        int64             `gorm:"column:price_cents;not null"`
	StockQuantity     int               `gorm:"column:stock_quantity;not null;default:0"`
	LowStockThreshold int               `gorm:"column:low_stock_threshold;not null;default:5"`
	StockStatus       enums.StockStatus `gorm:"column:stock_status;not null"`
	IsActive          bool              `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time         `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;not null"`
	DeletedAt         gorm.DeletedAt    `gorm:"column:deleted_at;index"`
}

// CartItem is a line in a buyer's cart.
type CartItem struct {
	ID        uint           `gorm:"column:id;primaryKey"`
	UserID    uint           `gorm:"column:user_id;not null;index"`
	ListingID uint           `gorm:"column:listing_id;not null"`
	Quantity  int            `gorm:"column:quantity;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}
