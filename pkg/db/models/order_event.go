package models

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderEvent is the append-only order audit trail.
type OrderEvent struct {
	ID            uint                 `gorm:"column:id;primaryKey"`
	OrderID       uint                 `gorm:"column:order_id;not null;index"`
	SellerOrderID *uint                `gorm:"column:seller_order_id"`
	Type          enums.OrderEventType `gorm:"column:type;not null"`
	Message       string               `gorm:"column:message;not null"`
	ActorID       *uint                `gorm:"column:actor_id"`
	CreatedAt     time.Time            `gorm:"column:created_at;not null"`
}
