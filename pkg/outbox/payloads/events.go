package payloads

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderPlacedEvent is emitted once checkout commits.
type OrderPlacedEvent struct {
	OrderID        uint   `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	BuyerID        uint   `json:"buyer_id"`
	SellerOrderIDs []uint `json:"seller_order_ids"`
	TotalCents     int64  `json:"total_cents"`
	DiscountCents  int64  `json:"discount_cents"`
	Currency       string `json:"currency"`
}

// OrderCancelledEvent is emitted when a buyer, admin or expiry job cancels an order.
type OrderCancelledEvent struct {
	OrderID     uint      `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// OrderCompletedEvent is emitted when the buyer confirms receipt.
type OrderCompletedEvent struct {
	OrderID     uint      `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CompletedAt time.Time `json:"completed_at"`
}

// PaymentStatusChangedEvent mirrors every applied payment transition.
type PaymentStatusChangedEvent struct {
	PaymentIntentID uint                     `json:"payment_intent_id"`
	OrderID         uint                     `json:"order_id"`
	From            enums.PaymentStatus      `json:"from"`
	To              enums.PaymentStatus      `json:"to"`
	Source          enums.PaymentEventSource `json:"source"`
	AmountCents     int64                    `json:"amount_cents"`
}

// ShipmentStatusChangedEvent mirrors shipment progress to subscribers.
type ShipmentStatusChangedEvent struct {
	ShipmentID     uint                 `json:"shipment_id"`
	SellerOrderID  uint                 `json:"seller_order_id"`
	OrderID        uint                 `json:"order_id"`
	Status         enums.ShipmentStatus `json:"status"`
	Carrier        string               `json:"carrier,omitempty"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
}
