package orders

import (
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	internalorders "github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

type orderResponse struct {
	ID                uint       `json:"id"`
	OrderNumber       string     `json:"order_number"`
	BuyerID           uint       `json:"buyer_id"`
	Status            string     `json:"status"`
	Currency          string     `json:"currency"`
	SubtotalCents     int64      `json:"subtotal_cents"`
	ShippingCostCents int64      `json:"shipping_cost_cents"`
	TaxCents          int64      `json:"tax_cents"`
	DiscountCents     int64      `json:"discount_cents"`
	TotalCents        int64      `json:"total_cents"`
	ShippingAddress   string     `json:"shipping_address"`
	BillingAddress    string     `json:"billing_address"`
	CouponCode        *string    `json:"coupon_code,omitempty"`
	CancelReason      *string    `json:"cancel_reason,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type sellerOrderResponse struct {
	ID                uint           `json:"id"`
	SellerID          uint           `json:"seller_id"`
	Status            string         `json:"status"`
	SubtotalCents     int64          `json:"subtotal_cents"`
	ShippingCostCents int64          `json:"shipping_cost_cents"`
	Items             []itemResponse `json:"items"`
}

type itemResponse struct {
	ID             uint   `json:"id"`
	ListingID      uint   `json:"listing_id"`
	ProductID      uint   `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type eventResponse struct {
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	SellerOrderID *uint     `json:"seller_order_id,omitempty"`
	ActorID       *uint     `json:"actor_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type orderDetailResponse struct {
	orderResponse
	SellerOrders []sellerOrderResponse `json:"seller_orders"`
	Events       []eventResponse       `json:"events"`
}

type checkoutResponse struct {
	orderDetailResponse
	Campaigns *campaigns.Result `json:"campaigns,omitempty"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func newOrderResponse(o models.Order) orderResponse {
	return orderResponse{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		BuyerID:           o.BuyerID,
		Status:            string(o.Status),
		Currency:          o.Currency,
		SubtotalCents:     o.SubtotalCents,
		ShippingCostCents: o.ShippingCostCents,
		TaxCents:          o.TaxCents,
		DiscountCents:     o.DiscountCents,
		TotalCents:        o.TotalCents,
		ShippingAddress:   o.ShippingAddress,
		BillingAddress:    o.BillingAddress,
		CouponCode:        o.CouponCode,
		CancelReason:      o.CancelReason,
		PaidAt:            o.PaidAt,
		ShippedAt:         o.ShippedAt,
		DeliveredAt:       o.DeliveredAt,
		CompletedAt:       o.CompletedAt,
		CancelledAt:       o.CancelledAt,
		CreatedAt:         o.CreatedAt,
	}
}

func newOrderDetailResponse(d *internalorders.OrderDetail) orderDetailResponse {
	if d == nil {
		return orderDetailResponse{}
	}
	sellerOrders := make([]sellerOrderResponse, 0, len(d.SellerOrders))
	for _, so := range d.SellerOrders {
		items := make([]itemResponse, 0, len(so.Items))
		for _, item := range so.Items {
			items = append(items, itemResponse{
				ID:             item.ID,
				ListingID:      item.ListingID,
				ProductID:      item.ProductID,
				Title:          item.Title,
				UnitPriceCents: item.UnitPriceCents,
				Quantity:       item.Quantity,
				LineTotalCents: item.LineTotalCents,
			})
		}
		sellerOrders = append(sellerOrders, sellerOrderResponse{
			ID:                so.ID,
			SellerID:          so.SellerID,
			Status:            string(so.Status),
			SubtotalCents:     so.SubtotalCents,
			ShippingCostCents: so.ShippingCostCents,
			Items:             items,
		})
	}
	events := make([]eventResponse, 0, len(d.Events))
	for _, ev := range d.Events {
		events = append(events, eventResponse{
			Type:          string(ev.Type),
			Message:       ev.Message,
			SellerOrderID: ev.SellerOrderID,
			ActorID:       ev.ActorID,
			CreatedAt:     ev.CreatedAt,
		})
	}
	return orderDetailResponse{
		orderResponse: newOrderResponse(d.Order),
		SellerOrders:  sellerOrders,
		Events:        events,
	}
}

func newCheckoutResponse(res *internalorders.CheckoutResult) checkoutResponse {
	if res == nil {
		return checkoutResponse{}
	}
	return checkoutResponse{
		orderDetailResponse: newOrderDetailResponse(&res.OrderDetail),
		Campaigns:           res.Campaigns,
	}
}
