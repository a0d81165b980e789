package models

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// ShipmentEvent is an append-only shipment audit row.
type ShipmentEvent struct {
	ID             uint                  `gorm:"column:id;primaryKey"`
	ShipmentID     uint                  `gorm:"column:shipment_id;not null;index"`
	FromStatus     *enums.ShipmentStatus `gorm:"column:from_status"`
	Status         enums.ShipmentStatus  `gorm:"column:status;not null"`
	Carrier        *string               `gorm:"column:carrier"`
	TrackingNumber *string               `gorm:"column:tracking_number"`
	Note           *string               `gorm:"column:note"`
	ActorID        uint                  `gorm:"column:actor_id;not null"`
	CreatedAt      time.Time             `gorm:"column:created_at;not null"`
}
