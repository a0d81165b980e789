package models

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// PaymentEvent is an append-only record of a payment transition or gateway attempt.
type PaymentEvent struct {
	ID              uint                     `gorm:"column:id;primaryKey"`
	PaymentIntentID uint                     `gorm:"column:payment_intent_id;not null;index;uniqueIndex:ux_payment_events_refund,priority:1"`
	FromStatus      *enums.PaymentStatus     `gorm:"column:from_status"`
	Status          enums.PaymentStatus      `gorm:"column:status;not null"`
	Source          enums.PaymentEventSource `gorm:"column:source;not null"`
	AmountCents     int64                    `gorm:"column:amount_cents;not null;default:0"`
	Reason          *string                  `gorm:"column:reason"`
	GatewayRefundID *string                  `gorm:"column:gateway_refund_id;uniqueIndex:ux_payment_events_refund,priority:2"`
	Payload         string                   `gorm:"column:payload;type:jsonb;not null;default:'{}'"`
	CreatedAt       time.Time                `gorm:"column:created_at;not null"`
}
