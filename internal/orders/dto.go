package orders

import (
	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// CheckoutInput is what the buyer submits besides the cart itself.
type CheckoutInput struct {
	ShippingAddressID uint
	BillingAddressID  *uint
	CouponCode        string
}

// SellerOrderDetail bundles a seller order with its item snapshots.
type SellerOrderDetail struct {
	models.SellerOrder
	Items []models.SellerOrderItem
}

// OrderDetail is the full read model for one order.
type OrderDetail struct {
	Order        models.Order
	SellerOrders []SellerOrderDetail
	Events       []models.OrderEvent
}

// CheckoutResult is returned when checkout commits.
type CheckoutResult struct {
	OrderDetail
	Campaigns *campaigns.Result
}

// OrderList is a cursor page of orders.
type OrderList struct {
	Orders     []models.Order
	NextCursor string
}
