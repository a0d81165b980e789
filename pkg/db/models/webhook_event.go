package models

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// WebhookEvent is the durable de-duplication ledger for provider callbacks.
// Rejected rows double as the manual reconciliation queue.
type WebhookEvent struct {
	ID              uint                  `gorm:"column:id;primaryKey"`
	Provider        enums.PaymentProvider `gorm:"column:provider;not null;uniqueIndex:ux_webhook_events_provider_event"`
	EventID         string                `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_events_provider_event"`
	EventType       string                `gorm:"column:event_type;not null"`
	PaymentIntentID *uint                 `gorm:"column:payment_intent_id;index"`
	Outcome         enums.WebhookOutcome  `gorm:"column:outcome;not null"`
	Detail          *string               `gorm:"column:detail"`
	Payload         string                `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt       time.Time             `gorm:"column:created_at;not null"`
}
