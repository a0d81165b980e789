package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/checkout"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

const (
	systemCancelReason = "payment not completed in time"
	maxCancelReasonLen = 500
)

// Service orchestrates checkout and the buyer-facing order lifecycle.
type Service interface {
	Checkout(ctx context.Context, caller auth.Caller, input CheckoutInput) (*CheckoutResult, error)
	Get(ctx context.Context, caller auth.Caller, orderID uint) (*OrderDetail, error)
	List(ctx context.Context, caller auth.Caller, params pagination.Params) (*OrderList, error)
	Cancel(ctx context.Context, caller auth.Caller, orderID uint, reason string) (*OrderDetail, error)
	Complete(ctx context.Context, caller auth.Caller, orderID uint) (*OrderDetail, error)
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Deps groups the collaborators of the orders service.
type Deps struct {
	Tx        txRunner
	Repo      Repository
	Carts     CartRepository
	Campaigns campaignEngine
	Payments  PaymentReleaser
	Outbox    outboxPublisher
	Pricing   config.PricingConfig
	Metrics   *metrics.DomainMetrics
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	repo      Repository
	carts     CartRepository
	campaigns campaignEngine
	payments  PaymentReleaser
	outbox    outboxPublisher
	pricing   config.PricingConfig
	metrics   *metrics.DomainMetrics
	logg      *logger.Logger
}

// NewService validates deps and builds the orders service.
func NewService(d Deps) (Service, error) {
	if d.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if d.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if d.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if d.Campaigns == nil {
		return nil, fmt.Errorf("campaign engine required")
	}
	if d.Payments == nil {
		return nil, fmt.Errorf("payment releaser required")
	}
	if d.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if strings.TrimSpace(d.Pricing.Currency) == "" {
		d.Pricing.Currency = "USD"
	}
	return &service{
		tx:        d.Tx,
		repo:      d.Repo,
		carts:     d.Carts,
		campaigns: d.Campaigns,
		payments:  d.Payments,
		outbox:    d.Outbox,
		pricing:   d.Pricing,
		metrics:   d.Metrics,
		logg:      d.Logger,
	}, nil
}

func (s *service) Checkout(ctx context.Context, caller auth.Caller, input CheckoutInput) (*CheckoutResult, error) {
	result, err := s.checkout(ctx, caller, input)
	if err != nil {
		s.metrics.CheckoutFailed(string(pkgerrors.As(err).Code()))
		return nil, err
	}
	s.metrics.OrderPlaced()
	return result, nil
}

func (s *service) checkout(ctx context.Context, caller auth.Caller, input CheckoutInput) (*CheckoutResult, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	if input.ShippingAddressID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required")
	}

	var (
		orderID  uint
		resolved *campaigns.Result
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		carts := s.carts.WithTx(tx)

		shipping, billing, err := s.loadAddresses(ctx, carts, caller.UserID, input)
		if err != nil {
			return err
		}

		items, err := carts.ListCartItems(ctx, caller.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		merged := mergeCartItems(items)
		ids := make([]uint, 0, len(merged))
		for _, item := range items {
			if !containsID(ids, item.ListingID) {
				ids = append(ids, item.ListingID)
			}
		}
		listings, err := carts.FindListings(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load listings")
		}

		checks := make([]checkout.StockValidationInput, 0, len(ids))
		lines := make([]campaigns.Line, 0, len(ids))
		for _, id := range ids {
			listing, ok := listings[id]
			checks = append(checks, checkout.StockValidationInput{
				ListingID: id,
				Title:     listing.Title,
				Available: listing.StockQuantity,
				Requested: merged[id],
				Active:    ok && listing.IsActive,
			})
			if ok {
				lines = append(lines, lineFor(listing, merged[id]))
			}
		}
		if err := checkout.ValidateStock(checks); err != nil {
			return err
		}

		resolved, err = s.campaigns.ResolveTx(ctx, tx, caller.UserID, lines, input.CouponCode)
		if err != nil {
			return err
		}

		groups := groupBySeller(lines)
		totals := computeTotals(s.pricing, groups, resolved.DiscountCents, resolved.FreeShipping)

		order := &models.Order{
			BuyerID:           caller.UserID,
			Status:            enums.OrderStatusPending,
			Currency:          s.pricing.Currency,
			SubtotalCents:     totals.SubtotalCents,
			ShippingCostCents: totals.ShippingCostCents,
			TaxCents:          totals.TaxCents,
			DiscountCents:     totals.DiscountCents,
			TotalCents:        totals.TotalCents,
			ShippingAddress:   shipping.Snapshot(),
			BillingAddress:    billing.Snapshot(),
			CouponCode:        resolved.CouponCode,
		}
		if err := insertWithOrderNumber(ctx, tx, repo, order); err != nil {
			return err
		}
		orderID = order.ID

		sellerOrderIDs := make([]uint, 0, len(groups))
		for _, group := range groups {
			sellerOrder := &models.SellerOrder{
				OrderID:           order.ID,
				SellerID:          group.SellerID,
				Status:            enums.SellerOrderStatusPlaced,
				SubtotalCents:     group.SubtotalCents,
				ShippingCostCents: totals.ShippingPerSeller,
			}
			if err := repo.CreateSellerOrder(ctx, sellerOrder); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create seller order")
			}
			sellerOrderIDs = append(sellerOrderIDs, sellerOrder.ID)

			snapshot := make([]models.SellerOrderItem, 0, len(group.Lines))
			for _, line := range group.Lines {
				snapshot = append(snapshot, models.SellerOrderItem{
					SellerOrderID:  sellerOrder.ID,
					ListingID:      line.ListingID,
					ProductID:      line.ProductID,
					CategoryID:     line.CategoryID,
					Title:          listings[line.ListingID].Title,
					UnitPriceCents: line.UnitPriceCents,
					Quantity:       line.Quantity,
					LineTotalCents: line.TotalCents(),
				})
			}
			if err := repo.CreateItems(ctx, snapshot); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create seller order items")
			}
		}

		for _, line := range lines {
			ok, err := carts.DecrementStock(ctx, line.ListingID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decrement stock")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").WithDetails(map[string]any{
					"violations": []checkout.StockViolationDetail{{
						ListingID:    line.ListingID,
						Title:        listings[line.ListingID].Title,
						RequestedQty: line.Quantity,
						Reason:       "insufficient_stock",
					}},
				})
			}
		}

		if err := s.campaigns.RecordUsage(ctx, tx, caller.UserID, order.ID, resolved); err != nil {
			return err
		}
		actor := caller.UserID
		if err := appendEvent(ctx, repo, order.ID, nil, enums.OrderEventTypePlaced, "Order placed", &actor); err != nil {
			return err
		}
		if err := carts.ClearCart(ctx, caller.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear cart")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(caller),
			OccurredAt:    order.CreatedAt,
			Data: payloads.OrderPlacedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				BuyerID:        order.BuyerID,
				SellerOrderIDs: sellerOrderIDs,
				TotalCents:     order.TotalCents,
				DiscountCents:  order.DiscountCents,
				Currency:       order.Currency,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	detail, err := s.detail(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     orderID,
		"order_number": detail.Order.OrderNumber,
		"buyer_id":     caller.UserID,
		"total_cents":  detail.Order.TotalCents,
	})
	s.logg.Info(logCtx, "order placed")
	return &CheckoutResult{OrderDetail: *detail, Campaigns: resolved}, nil
}

func (s *service) loadAddresses(ctx context.Context, carts CartRepository, userID uint, input CheckoutInput) (*models.Address, *models.Address, error) {
	shipping, err := carts.FindAddress(ctx, userID, input.ShippingAddressID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipping address not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping address")
	}
	if input.BillingAddressID == nil || *input.BillingAddressID == input.ShippingAddressID {
		return shipping, shipping, nil
	}
	billing, err := carts.FindAddress(ctx, userID, *input.BillingAddressID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing address not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing address")
	}
	return shipping, billing, nil
}

func (s *service) Get(ctx context.Context, caller auth.Caller, orderID uint) (*OrderDetail, error) {
	order, err := s.loadOwned(ctx, s.repo, caller, orderID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, s.repo, order.ID)
}

func (s *service) List(ctx context.Context, caller auth.Caller, params pagination.Params) (*OrderList, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	var buyerID *uint
	if !caller.IsAdmin() {
		id := caller.UserID
		buyerID = &id
	}
	rows, next, err := s.repo.ListOrders(ctx, buyerID, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return &OrderList{Orders: rows, NextCursor: next}, nil
}

// Cancel is allowed only while the order awaits payment. Stock returns to the
// listings and the payment intent is settled in the same transaction.
func (s *service) Cancel(ctx context.Context, caller auth.Caller, orderID uint, reason string) (*OrderDetail, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxCancelReasonLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel reason too long")
	}
	if _, err := s.loadOwned(ctx, s.repo, caller, orderID); err != nil {
		return nil, err
	}
	release, err := s.cancel(ctx, caller, orderID, reason)
	if err != nil {
		return nil, err
	}
	if release != nil {
		release(ctx)
	}
	return s.detail(ctx, s.repo, orderID)
}

func (s *service) cancel(ctx context.Context, caller auth.Caller, orderID uint, reason string) (func(context.Context), error) {
	var release func(context.Context)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		carts := s.carts.WithTx(tx)
		now := repo.Now()

		updates := map[string]any{"cancelled_at": now}
		if reason != "" {
			updates["cancel_reason"] = reason
		}
		if caller.UserID != 0 {
			updates["cancelled_by"] = caller.UserID
		}
		ok, err := repo.TransitionOrder(ctx, orderID, []enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusCancelled, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
		}
		if !ok {
			order, ferr := repo.FindOrder(ctx, orderID)
			if ferr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, ferr, "load order")
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "only pending orders can be cancelled").WithDetails(map[string]any{
				"order_id": orderID,
				"status":   order.Status,
			})
		}

		sellerOrders, err := repo.FindSellerOrders(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller orders")
		}
		ids := make([]uint, 0, len(sellerOrders))
		for _, so := range sellerOrders {
			ids = append(ids, so.ID)
		}
		items, err := repo.FindItems(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller order items")
		}
		for _, item := range items {
			if err := carts.RestoreStock(ctx, item.ListingID, item.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore stock")
			}
		}
		if _, err := repo.TransitionSellerOrders(ctx, orderID,
			[]enums.SellerOrderStatus{enums.SellerOrderStatusPlaced, enums.SellerOrderStatusReadyToShip},
			enums.SellerOrderStatusCancelled, map[string]any{"cancelled_at": now}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel seller orders")
		}

		release, err = s.payments.CancelForOrder(ctx, tx, orderID, caller)
		if err != nil {
			return err
		}

		msg := "Order cancelled"
		if reason != "" {
			msg = "Order cancelled: " + reason
		}
		var actor *uint
		if caller.UserID != 0 {
			id := caller.UserID
			actor = &id
		}
		if err := appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypeCancelled, msg, actor); err != nil {
			return err
		}

		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actorRef(caller),
			OccurredAt:    now,
			Data: payloads.OrderCancelledEvent{
				OrderID:     orderID,
				OrderNumber: order.OrderNumber,
				Reason:      reason,
				CancelledAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID), "order cancelled")
	return release, nil
}

// Complete records the buyer's confirmation of receipt.
func (s *service) Complete(ctx context.Context, caller auth.Caller, orderID uint) (*OrderDetail, error) {
	if _, err := s.loadOwned(ctx, s.repo, caller, orderID); err != nil {
		return nil, err
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := repo.Now()
		ok, err := repo.TransitionOrder(ctx, orderID, []enums.OrderStatus{enums.OrderStatusDelivered}, enums.OrderStatusCompleted, map[string]any{"completed_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "only delivered orders can be completed")
		}
		actor := caller.UserID
		if err := appendEvent(ctx, repo, orderID, nil, enums.OrderEventTypeCompleted, "Receipt confirmed", &actor); err != nil {
			return err
		}
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actorRef(caller),
			OccurredAt:    now,
			Data: payloads.OrderCompletedEvent{
				OrderID:     orderID,
				OrderNumber: order.OrderNumber,
				CompletedAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, s.repo, orderID)
}

// ExpirePending cancels orders still pending at cutoff. Orders that moved on in
// the meantime are skipped.
func (s *service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	pending, err := s.repo.FindPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find pending orders")
	}
	system := auth.Caller{Role: enums.RoleAdmin}
	expired := 0
	for _, order := range pending {
		release, err := s.cancel(ctx, system, order.ID, systemCancelReason)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				s.logg.Warn(s.logg.WithField(ctx, "order_id", order.ID), "pending order changed state before expiry")
				continue
			}
			return expired, err
		}
		if release != nil {
			release(ctx)
		}
		expired++
	}
	return expired, nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, caller auth.Caller, orderID uint) (*models.Order, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if !caller.IsAdmin() && order.BuyerID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another buyer")
	}
	return order, nil
}

func (s *service) detail(ctx context.Context, repo Repository, orderID uint) (*OrderDetail, error) {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	sellerOrders, err := repo.FindSellerOrders(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller orders")
	}
	ids := make([]uint, 0, len(sellerOrders))
	for _, so := range sellerOrders {
		ids = append(ids, so.ID)
	}
	items, err := repo.FindItems(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller order items")
	}
	bySeller := make(map[uint][]models.SellerOrderItem, len(sellerOrders))
	for _, item := range items {
		bySeller[item.SellerOrderID] = append(bySeller[item.SellerOrderID], item)
	}
	events, err := repo.FindEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order events")
	}

	out := &OrderDetail{Order: *order, Events: events}
	for _, so := range sellerOrders {
		out.SellerOrders = append(out.SellerOrders, SellerOrderDetail{SellerOrder: so, Items: bySeller[so.ID]})
	}
	return out, nil
}

func actorRef(caller auth.Caller) *outbox.ActorRef {
	if caller.UserID == 0 {
		return &outbox.ActorRef{Role: "system"}
	}
	return &outbox.ActorRef{UserID: caller.UserID, Role: string(caller.Role)}
}

func containsID(ids []uint, id uint) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
