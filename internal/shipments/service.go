package shipments

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
)

// Status values accepted by UpdateStatus.
const (
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

// Service moves seller orders through fulfillment.
type Service interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, orderID uint) error
	Get(ctx context.Context, caller auth.Caller, sellerOrderID uint) (*Detail, error)
	Ship(ctx context.Context, caller auth.Caller, sellerOrderID uint, input ShipInput) (*Detail, error)
	Deliver(ctx context.Context, caller auth.Caller, sellerOrderID uint, note string) (*Detail, error)
	UpdateStatus(ctx context.Context, caller auth.Caller, sellerOrderID uint, input StatusInput) (*Detail, error)
}

// ShipInput carries the carrier hand-off details.
type ShipInput struct {
	Carrier        string
	TrackingNumber string
	Note           string
}

// StatusInput is the generic status update; carrier fields apply to shipped.
type StatusInput struct {
	Status         string
	Carrier        string
	TrackingNumber string
	Note           string
}

// Detail is a seller order with its shipment and audit trail.
type Detail struct {
	SellerOrder models.SellerOrder
	Items       []models.SellerOrderItem
	Shipment    *models.Shipment
	Events      []models.ShipmentEvent
}

// OrderTracker keeps the parent order in step with its seller orders.
type OrderTracker interface {
	Rollup(ctx context.Context, tx *gorm.DB, orderID uint, actorID *uint) error
	AppendEvent(ctx context.Context, tx *gorm.DB, orderID uint, sellerOrderID *uint, typ enums.OrderEventType, msg string, actorID *uint) error
	DropSellerOrder(ctx context.Context, tx *gorm.DB, sellerOrder models.SellerOrder, actorID *uint) (*models.Order, bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Deps groups the collaborators of the shipments service.
type Deps struct {
	Tx      txRunner
	Repo    Repository
	Orders  OrderTracker
	Stock   orders.CartRepository
	Outbox  outboxPublisher
	Metrics *metrics.DomainMetrics
	Logger  *logger.Logger
}

type service struct {
	tx      txRunner
	repo    Repository
	orders  OrderTracker
	stock   orders.CartRepository
	outbox  outboxPublisher
	metrics *metrics.DomainMetrics
	logg    *logger.Logger
}

// NewService validates deps and builds the shipments service.
func NewService(d Deps) (Service, error) {
	if d.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if d.Repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if d.Orders == nil {
		return nil, fmt.Errorf("order tracker required")
	}
	if d.Stock == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if d.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return &service{
		tx:      d.Tx,
		repo:    d.Repo,
		orders:  d.Orders,
		stock:   d.Stock,
		outbox:  d.Outbox,
		metrics: d.Metrics,
		logg:    d.Logger,
	}, nil
}

// CreateForOrder opens a shipment for every seller order that is ready to ship.
// Seller orders that already have one are skipped.
func (s *service) CreateForOrder(ctx context.Context, tx *gorm.DB, orderID uint) error {
	repo := s.repo.WithTx(tx)
	sellerOrders, err := repo.FindSellerOrders(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller orders")
	}
	for _, so := range sellerOrders {
		if so.Status != enums.SellerOrderStatusReadyToShip {
			continue
		}
		if _, err := repo.FindShipment(ctx, so.ID); err == nil {
			continue
		} else if !db.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
		}
		shipment := &models.Shipment{SellerOrderID: so.ID, Status: enums.ShipmentStatusCreated}
		if err := repo.CreateShipment(ctx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create shipment")
		}
		if err := repo.CreateEvent(ctx, &models.ShipmentEvent{
			ShipmentID: shipment.ID,
			Status:     enums.ShipmentStatusCreated,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append shipment event")
		}
		if err := s.emit(ctx, tx, auth.Caller{}, so, shipment); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, caller auth.Caller, sellerOrderID uint) (*Detail, error) {
	if _, err := s.loadScoped(ctx, s.repo, caller, sellerOrderID); err != nil {
		return nil, err
	}
	return s.detail(ctx, sellerOrderID)
}

func (s *service) Ship(ctx context.Context, caller auth.Caller, sellerOrderID uint, input ShipInput) (*Detail, error) {
	carrier := strings.TrimSpace(input.Carrier)
	tracking := strings.TrimSpace(input.TrackingNumber)
	if carrier == "" || tracking == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking_number are required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, shipment, err := s.loadForTransition(ctx, repo, caller, sellerOrderID)
		if err != nil {
			return err
		}
		now := repo.Now()
		updates := map[string]any{"carrier": carrier, "tracking_number": tracking}

		switch shipment.Status {
		case enums.ShipmentStatusDelivered:
			return pkgerrors.New(pkgerrors.CodeConflict, "shipment was already delivered").WithDetails(map[string]any{
				"shipment_id": shipment.ID,
			})
		case enums.ShipmentStatusShipped:
			ok, err := repo.TransitionShipment(ctx, shipment.ID, enums.ShipmentStatusShipped, enums.ShipmentStatusShipped, updates)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipment")
			}
			if !ok {
				return changedConcurrently(shipment)
			}
		default:
			updates["shipped_at"] = now
			ok, err := repo.TransitionShipment(ctx, shipment.ID, enums.ShipmentStatusCreated, enums.ShipmentStatusShipped, updates)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipment")
			}
			if !ok {
				return changedConcurrently(shipment)
			}
			ok, err = repo.TransitionSellerOrder(ctx, so.ID,
				[]enums.SellerOrderStatus{enums.SellerOrderStatusReadyToShip},
				enums.SellerOrderStatusShipped, map[string]any{"shipped_at": now})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark seller order shipped")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "seller order is not ready to ship").WithDetails(map[string]any{
					"seller_order_id": so.ID,
					"status":          so.Status,
				})
			}
		}

		from := shipment.Status
		if err := repo.CreateEvent(ctx, &models.ShipmentEvent{
			ShipmentID:     shipment.ID,
			FromStatus:     &from,
			Status:         enums.ShipmentStatusShipped,
			Carrier:        &carrier,
			TrackingNumber: &tracking,
			Note:           optional(input.Note),
			ActorID:        caller.UserID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append shipment event")
		}
		msg := fmt.Sprintf("Shipped via %s (%s)", carrier, tracking)
		if err := s.orders.AppendEvent(ctx, tx, so.OrderID, &so.ID, enums.OrderEventTypeShipped, msg, actorID(caller)); err != nil {
			return err
		}
		if err := s.orders.Rollup(ctx, tx, so.OrderID, actorID(caller)); err != nil {
			return err
		}

		shipment.Status = enums.ShipmentStatusShipped
		shipment.Carrier = &carrier
		shipment.TrackingNumber = &tracking
		return s.emit(ctx, tx, caller, *so, shipment)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ShipmentTransition(string(enums.ShipmentStatusShipped))
	return s.detail(ctx, sellerOrderID)
}

func (s *service) Deliver(ctx context.Context, caller auth.Caller, sellerOrderID uint, note string) (*Detail, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, shipment, err := s.loadForTransition(ctx, repo, caller, sellerOrderID)
		if err != nil {
			return err
		}
		if shipment.Status != enums.ShipmentStatusShipped {
			return pkgerrors.Newf(pkgerrors.CodeConflict, "illegal shipment transition %s -> %s", shipment.Status, enums.ShipmentStatusDelivered).WithDetails(map[string]any{
				"shipment_id": shipment.ID,
			})
		}

		now := repo.Now()
		ok, err := repo.TransitionShipment(ctx, shipment.ID, enums.ShipmentStatusShipped, enums.ShipmentStatusDelivered, map[string]any{"delivered_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update shipment")
		}
		if !ok {
			return changedConcurrently(shipment)
		}
		ok, err = repo.TransitionSellerOrder(ctx, so.ID,
			[]enums.SellerOrderStatus{enums.SellerOrderStatusShipped},
			enums.SellerOrderStatusDelivered, map[string]any{"delivered_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark seller order delivered")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "seller order is not in transit").WithDetails(map[string]any{
				"seller_order_id": so.ID,
				"status":          so.Status,
			})
		}

		from := shipment.Status
		if err := repo.CreateEvent(ctx, &models.ShipmentEvent{
			ShipmentID: shipment.ID,
			FromStatus: &from,
			Status:     enums.ShipmentStatusDelivered,
			Note:       optional(note),
			ActorID:    caller.UserID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append shipment event")
		}
		if err := s.orders.AppendEvent(ctx, tx, so.OrderID, &so.ID, enums.OrderEventTypeDelivered, "Delivered", actorID(caller)); err != nil {
			return err
		}
		if err := s.orders.Rollup(ctx, tx, so.OrderID, actorID(caller)); err != nil {
			return err
		}

		shipment.Status = enums.ShipmentStatusDelivered
		return s.emit(ctx, tx, caller, *so, shipment)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ShipmentTransition(string(enums.ShipmentStatusDelivered))
	return s.detail(ctx, sellerOrderID)
}

func (s *service) UpdateStatus(ctx context.Context, caller auth.Caller, sellerOrderID uint, input StatusInput) (*Detail, error) {
	switch strings.ToLower(strings.TrimSpace(input.Status)) {
	case StatusShipped:
		return s.Ship(ctx, caller, sellerOrderID, ShipInput{Carrier: input.Carrier, TrackingNumber: input.TrackingNumber, Note: input.Note})
	case StatusDelivered:
		return s.Deliver(ctx, caller, sellerOrderID, input.Note)
	case StatusCancelled:
		return s.cancelPlaced(ctx, caller, sellerOrderID, input.Note)
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported status %q", input.Status)
}

// cancelPlaced lets a seller decline a seller order before the buyer starts
// paying. Stock goes back and the parent order is repriced, or cancelled when
// it has no seller order left.
func (s *service) cancelPlaced(ctx context.Context, caller auth.Caller, sellerOrderID uint, note string) (*Detail, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, err := s.loadScoped(ctx, repo, caller, sellerOrderID)
		if err != nil {
			return err
		}
		ok, err := repo.TransitionSellerOrder(ctx, so.ID,
			[]enums.SellerOrderStatus{enums.SellerOrderStatusPlaced},
			enums.SellerOrderStatusCancelled, map[string]any{"cancelled_at": repo.Now()})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel seller order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "only placed seller orders can be cancelled").WithDetails(map[string]any{
				"seller_order_id": so.ID,
				"status":          so.Status,
			})
		}

		items, err := repo.FindItems(ctx, so.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller order items")
		}
		stock := s.stock.WithTx(tx)
		for _, item := range items {
			if err := stock.RestoreStock(ctx, item.ListingID, item.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore stock")
			}
		}

		msg := "Seller order cancelled"
		if trimmed := strings.TrimSpace(note); trimmed != "" {
			msg += ": " + trimmed
		}
		if err := s.orders.AppendEvent(ctx, tx, so.OrderID, &so.ID, enums.OrderEventTypeCancelled, msg, actorID(caller)); err != nil {
			return err
		}

		order, cancelled, err := s.orders.DropSellerOrder(ctx, tx, *so, actorID(caller))
		if err != nil {
			return err
		}
		if !cancelled {
			return nil
		}
		now := repo.Now()
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(caller),
			OccurredAt:    now,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Reason:      deref(order.CancelReason),
				CancelledAt: now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, sellerOrderID)
}

func (s *service) loadScoped(ctx context.Context, repo Repository, caller auth.Caller, sellerOrderID uint) (*models.SellerOrder, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	so, err := repo.FindSellerOrder(ctx, sellerOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller order")
	}
	if !caller.IsAdmin() && so.SellerID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller order belongs to another seller")
	}
	return so, nil
}

func (s *service) loadForTransition(ctx context.Context, repo Repository, caller auth.Caller, sellerOrderID uint) (*models.SellerOrder, *models.Shipment, error) {
	so, err := s.loadScoped(ctx, repo, caller, sellerOrderID)
	if err != nil {
		return nil, nil, err
	}
	shipment, err := repo.FindShipment(ctx, so.ID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeConflict, "seller order is not ready to ship").WithDetails(map[string]any{
				"seller_order_id": so.ID,
				"status":          so.Status,
			})
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
	}
	return so, shipment, nil
}

func (s *service) detail(ctx context.Context, sellerOrderID uint) (*Detail, error) {
	so, err := s.repo.FindSellerOrder(ctx, sellerOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller order")
	}
	items, err := s.repo.FindItems(ctx, so.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller order items")
	}
	out := &Detail{SellerOrder: *so, Items: items}
	shipment, err := s.repo.FindShipment(ctx, so.ID)
	if err != nil {
		if db.IsNotFound(err) {
			return out, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment")
	}
	events, err := s.repo.ListEvents(ctx, shipment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipment events")
	}
	out.Shipment = shipment
	out.Events = events
	return out, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, caller auth.Caller, so models.SellerOrder, shipment *models.Shipment) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentStatusChanged,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Actor:         actorRef(caller),
		OccurredAt:    s.repo.Now(),
		Data: payloads.ShipmentStatusChangedEvent{
			ShipmentID:     shipment.ID,
			SellerOrderID:  so.ID,
			OrderID:        so.OrderID,
			Status:         shipment.Status,
			Carrier:        deref(shipment.Carrier),
			TrackingNumber: deref(shipment.TrackingNumber),
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit shipment event")
	}
	return nil
}

func changedConcurrently(shipment *models.Shipment) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "shipment changed concurrently").WithDetails(map[string]any{
		"shipment_id": shipment.ID,
	})
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func actorID(caller auth.Caller) *uint {
	if caller.UserID == 0 {
		return nil
	}
	id := caller.UserID
	return &id
}

func actorRef(caller auth.Caller) *outbox.ActorRef {
	if caller.UserID == 0 {
		return &outbox.ActorRef{Role: "system"}
	}
	return &outbox.ActorRef{UserID: caller.UserID, Role: string(caller.Role)}
}
