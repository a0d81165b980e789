package sellerorders

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/shipments"
)

type sellerOrderResponse struct {
	ID            uint              `json:"id"`
	OrderID       uint              `json:"order_id"`
	SellerID      uint              `json:"seller_id"`
	Status        string            `json:"status"`
	SubtotalCents int64             `json:"subtotal_cents"`
	ShippedAt     *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
	Items         []itemResponse    `json:"items"`
	Shipment      *shipmentResponse `json:"shipment,omitempty"`
	Events        []eventResponse   `json:"events"`
}

type itemResponse struct {
	ListingID      uint   `json:"listing_id"`
	Title          string `json:"title"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type shipmentResponse struct {
	ID             uint       `json:"id"`
	Status         string     `json:"status"`
	Carrier        *string    `json:"carrier,omitempty"`
	TrackingNumber *string    `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

type eventResponse struct {
	FromStatus     *string   `json:"from_status,omitempty"`
	Status         string    `json:"status"`
	Carrier        *string   `json:"carrier,omitempty"`
	TrackingNumber *string   `json:"tracking_number,omitempty"`
	Note           *string   `json:"note,omitempty"`
	ActorID        uint      `json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func newSellerOrderResponse(d *shipments.Detail) sellerOrderResponse {
	if d == nil {
		return sellerOrderResponse{}
	}
	so := d.SellerOrder
	out := sellerOrderResponse{
		ID:            so.ID,
		OrderID:       so.OrderID,
		SellerID:      so.SellerID,
		Status:        string(so.Status),
		SubtotalCents: so.SubtotalCents,
		ShippedAt:     so.ShippedAt,
		DeliveredAt:   so.DeliveredAt,
		CancelledAt:   so.CancelledAt,
		Items:         make([]itemResponse, 0, len(d.Items)),
		Events:        make([]eventResponse, 0, len(d.Events)),
	}
	for _, item := range d.Items {
		out.Items = append(out.Items, itemResponse{
			ListingID:      item.ListingID,
			Title:          item.Title,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents,
		})
	}
	if d.Shipment != nil {
		out.Shipment = &shipmentResponse{
			ID:             d.Shipment.ID,
			Status:         string(d.Shipment.Status),
			Carrier:        d.Shipment.Carrier,
			TrackingNumber: d.Shipment.TrackingNumber,
			ShippedAt:      d.Shipment.ShippedAt,
			DeliveredAt:    d.Shipment.DeliveredAt,
		}
	}
	for _, ev := range d.Events {
		var from *string
		if ev.FromStatus != nil {
			s := string(*ev.FromStatus)
			from = &s
		}
		out.Events = append(out.Events, eventResponse{
			FromStatus:     from,
			Status:         string(ev.Status),
			Carrier:        ev.Carrier,
			TrackingNumber: ev.TrackingNumber,
			Note:           ev.Note,
			ActorID:        ev.ActorID,
			CreatedAt:      ev.CreatedAt,
		})
	}
	return out
}
