package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// Lifecycle applies the order-level effects of payment and shipment transitions.
// Every method runs inside the caller's transaction.
type Lifecycle struct {
	repo Repository
}

// NewLifecycle wires the lifecycle helper.
func NewLifecycle(repo Repository) (*Lifecycle, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &Lifecycle{repo: repo}, nil
}

// MarkPaid moves a pending order to paid and its seller orders to ready_to_ship.
func (l *Lifecycle) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uint) error {
	repo := l.repo.WithTx(tx)
	now := repo.Now()
	ok, err := repo.TransitionOrder(ctx, orderID, []enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusPaid, map[string]any{"paid_at": now})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
	}
	if !ok {
		return l.conflict(ctx, repo, orderID, "order is not awaiting payment")
	}
	if _, err := repo.TransitionSellerOrders(ctx, orderID,
		[]enums.SellerOrderStatus{enums.SellerOrderStatusPlaced},
		enums.SellerOrderStatusReadyToShip, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark seller orders ready")
	}
	return appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypePaid, "Payment captured", nil)
}

// MarkRefunded records a refund. A full refund moves the order and its seller
// orders to refunded; a partial one only appends to the audit trail.
func (l *Lifecycle) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uint, full bool, amountCents int64) error {
	repo := l.repo.WithTx(tx)
	if !full {
		msg := fmt.Sprintf("Partial refund of %d cents", amountCents)
		return appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypePartiallyRefunded, msg, nil)
	}
	_, err := repo.TransitionOrder(ctx, orderID, []enums.OrderStatus{
		enums.OrderStatusPaid,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
		enums.OrderStatusCompleted,
	}, enums.OrderStatusRefunded, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order refunded")
	}
	if _, err := repo.TransitionSellerOrders(ctx, orderID, []enums.SellerOrderStatus{
		enums.SellerOrderStatusPlaced,
		enums.SellerOrderStatusReadyToShip,
		enums.SellerOrderStatusShipped,
		enums.SellerOrderStatusDelivered,
	}, enums.SellerOrderStatusRefunded, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark seller orders refunded")
	}
	msg := fmt.Sprintf("Refunded %d cents", amountCents)
	return appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypeRefunded, msg, nil)
}

// Rollup derives the order status from its seller orders: all active ones
// delivered makes the order delivered, all shipped (or further) makes it shipped.
func (l *Lifecycle) Rollup(ctx context.Context, tx *gorm.DB, orderID uint, actorID *uint) error {
	repo := l.repo.WithTx(tx)
	sellerOrders, err := repo.FindSellerOrders(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller orders")
	}

	active, shipped, delivered := 0, 0, 0
	for _, so := range sellerOrders {
		switch so.Status {
		case enums.SellerOrderStatusCancelled, enums.SellerOrderStatusRefunded:
			continue
		case enums.SellerOrderStatusDelivered:
			delivered++
			shipped++
		case enums.SellerOrderStatusShipped:
			shipped++
		}
		active++
	}
	if active == 0 {
		return nil
	}

	now := repo.Now()
	if delivered == active {
		ok, err := repo.TransitionOrder(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusShipped},
			enums.OrderStatusDelivered, map[string]any{"delivered_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "roll up delivered")
		}
		if ok {
			return appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypeDelivered, "All shipments delivered", actorID)
		}
		return nil
	}
	if shipped == active {
		ok, err := repo.TransitionOrder(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusPaid},
			enums.OrderStatusShipped, map[string]any{"shipped_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "roll up shipped")
		}
		if ok {
			return appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypeShipped, "All shipments shipped", actorID)
		}
	}
	return nil
}

// DropSellerOrder takes an already cancelled seller order out of its pending
// parent inside tx. The remaining totals are repriced; discount and tax shrink
// in proportion to the taxable subtotal left. When no active seller order
// remains the parent is cancelled and cancelled reports true. Once the order
// has a payment intent its amount is fixed, so the drop is a Conflict.
func (l *Lifecycle) DropSellerOrder(ctx context.Context, tx *gorm.DB, sellerOrder models.SellerOrder, actorID *uint) (*models.Order, bool, error) {
	repo := l.repo.WithTx(tx)
	order, err := repo.FindOrder(ctx, sellerOrder.OrderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	sellerOrders, err := repo.FindSellerOrders(ctx, order.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller orders")
	}
	active := 0
	for _, so := range sellerOrders {
		if so.ID == sellerOrder.ID {
			continue
		}
		if so.Status != enums.SellerOrderStatusCancelled && so.Status != enums.SellerOrderStatusRefunded {
			active++
		}
	}

	now := repo.Now()
	var updates map[string]any
	to := enums.OrderStatusPending
	if active == 0 {
		to = enums.OrderStatusCancelled
		updates = map[string]any{
			"cancelled_at":  now,
			"cancel_reason": "all seller orders cancelled",
		}
		if actorID != nil {
			updates["cancelled_by"] = *actorID
		}
	} else {
		updates = repriceWithout(*order, sellerOrder)
	}
	// The guarded update locks the order row before the intent check, so a
	// concurrent CreateIntent either sees the new total or blocks this drop.
	ok, err := repo.TransitionOrder(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPending}, to, updates)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reprice order")
	}
	if !ok {
		return nil, false, l.conflict(ctx, repo, order.ID, "seller orders can only be cancelled while the order awaits payment")
	}
	hasIntent, err := repo.HasPaymentIntent(ctx, order.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	if hasIntent {
		return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "order already has a payment intent; cancel the whole order instead").WithDetails(map[string]any{
			"order_id":        order.ID,
			"seller_order_id": sellerOrder.ID,
		})
	}
	if to == enums.OrderStatusCancelled {
		if err := appendEvent(ctx, repo, order.ID, nil, enums.OrderEventTypeCancelled, "Order cancelled: all seller orders cancelled", actorID); err != nil {
			return nil, false, err
		}
	}
	updated, err := repo.FindOrder(ctx, order.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
	}
	return updated, to == enums.OrderStatusCancelled, nil
}

// repriceWithout returns the order columns once dropped no longer counts.
func repriceWithout(order models.Order, dropped models.SellerOrder) map[string]any {
	subtotal := order.SubtotalCents - dropped.SubtotalCents
	shipping := order.ShippingCostCents - dropped.ShippingCostCents
	if subtotal < 0 {
		subtotal = 0
	}
	if shipping < 0 {
		shipping = 0
	}
	discount := scaleCents(order.DiscountCents, subtotal, order.SubtotalCents)
	if discount > subtotal {
		discount = subtotal
	}
	tax := scaleCents(order.TaxCents, subtotal-discount, order.SubtotalCents-order.DiscountCents)
	return map[string]any{
		"subtotal_cents":      subtotal,
		"shipping_cost_cents": shipping,
		"discount_cents":      discount,
		"tax_cents":           tax,
		"total_cents":         subtotal + shipping + tax - discount,
	}
}

// scaleCents is amount*num/den rounded half-up to the cent.
func scaleCents(amount, num, den int64) int64 {
	if amount <= 0 || num <= 0 || den <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(num)).
		Div(decimal.NewFromInt(den)).
		Round(0).
		IntPart()
}

// AppendEvent adds a row to the order's audit trail inside tx.
func (l *Lifecycle) AppendEvent(ctx context.Context, tx *gorm.DB, orderID uint, sellerOrderID *uint, typ enums.OrderEventType, msg string, actorID *uint) error {
	return appendEvent(ctx, l.repo.WithTx(tx), orderID, sellerOrderID, typ, msg, actorID)
}

func (l *Lifecycle) conflict(ctx context.Context, repo Repository, orderID uint, msg string) error {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, msg).WithDetails(map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

func appendEvent(ctx context.Context, repo Repository, orderID uint, sellerOrderID *uint, typ enums.OrderEventType, msg string, actorID *uint) error {
	event := &models.OrderEvent{
		OrderID:       orderID,
		SellerOrderID: sellerOrderID,
		Type:          typ,
		Message:       msg,
		ActorID:       actorID,
	}
	if err := repo.CreateEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append order event")
	}
	return nil
}
