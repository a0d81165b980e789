package shipments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fixture struct {
	client    *db.Client
	svc       Service
	lifecycle *orders.Lifecycle
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.New(t)
	lifecycle, err := orders.NewLifecycle(orders.NewRepositoryWithClock(client.DB(), clock))
	require.NoError(t, err)
	svc, err := NewService(Deps{
		Tx:     client,
		Repo:   NewRepositoryWithClock(client.DB(), clock),
		Orders: lifecycle,
		Stock:  orders.NewCartRepository(client.DB()),
		Outbox: outbox.NewService(outbox.NewRepository(client.DB()), nil),
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, lifecycle: lifecycle}
}

// order seeds a pending order with one seller order per seller, each holding
// two units of a fresh listing.
func (f fixture) order(t *testing.T, sellers ...uint) (models.Order, []models.SellerOrder) {
	t.Helper()
	order := models.Order{
		BuyerID:         42,
		OrderNumber:     "ORD-20260301-000001",
		Status:          enums.OrderStatusPending,
		Currency:        "USD",
		SubtotalCents:   2000 * int64(len(sellers)),
		TotalCents:      2000 * int64(len(sellers)),
		ShippingAddress: "1 Main St",
		BillingAddress:  "1 Main St",
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
	require.NoError(t, f.client.DB().Create(&order).Error)

	var out []models.SellerOrder
	for _, sellerID := range sellers {
		listing := models.Listing{SellerID: sellerID, ProductID: 1, CategoryID: 1, Title: "mug", PriceCents: 1000, StockQuantity: 3, LowStockThreshold: 5, StockStatus: enums.StockStatusLowStock, IsActive: true, CreatedAt: fixedNow, UpdatedAt: fixedNow}
		require.NoError(t, f.client.DB().Create(&listing).Error)
		so := models.SellerOrder{OrderID: order.ID, SellerID: sellerID, Status: enums.SellerOrderStatusPlaced, SubtotalCents: 2000, CreatedAt: fixedNow, UpdatedAt: fixedNow}
		require.NoError(t, f.client.DB().Create(&so).Error)
		item := models.SellerOrderItem{SellerOrderID: so.ID, ListingID: listing.ID, ProductID: 1, CategoryID: 1, Title: "mug", UnitPriceCents: 1000, Quantity: 2, LineTotalCents: 2000, CreatedAt: fixedNow, UpdatedAt: fixedNow}
		require.NoError(t, f.client.DB().Create(&item).Error)
		out = append(out, so)
	}
	return order, out
}

// pay marks the order paid and opens shipments the way a capture does.
func (f fixture) pay(t *testing.T, orderID uint) {
	t.Helper()
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := f.lifecycle.MarkPaid(context.Background(), tx, orderID); err != nil {
			return err
		}
		return f.svc.CreateForOrder(context.Background(), tx, orderID)
	}))
}

func (f fixture) orderStatus(t *testing.T, id uint) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, f.client.DB().First(&order, id).Error)
	return order.Status
}

func seller(id uint) auth.Caller { return auth.Caller{UserID: id, Role: enums.RoleSeller} }

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, pkgerrors.As(err).Code(), err.Error())
}

func TestCreateForOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order, sos := f.order(t, 1, 2)
	f.pay(t, order.ID)

	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return f.svc.CreateForOrder(context.Background(), tx, order.ID)
	}))
	var count int64
	require.NoError(t, f.client.DB().Model(&models.Shipment{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	detail, err := f.svc.Get(context.Background(), seller(1), sos[0].ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Shipment)
	assert.Equal(t, enums.ShipmentStatusCreated, detail.Shipment.Status)
	assert.Len(t, detail.Events, 1)
	assert.Len(t, detail.Items, 1)
}

func TestShipAndDeliverRollsOrderUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, sos := f.order(t, 1, 2)
	f.pay(t, order.ID)

	detail, err := f.svc.Ship(ctx, seller(1), sos[0].ID, ShipInput{Carrier: "UPS", TrackingNumber: "1Z999"})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusShipped, detail.Shipment.Status)
	assert.Equal(t, enums.SellerOrderStatusShipped, detail.SellerOrder.Status)
	require.NotNil(t, detail.Shipment.ShippedAt)
	assert.Equal(t, enums.OrderStatusPaid, f.orderStatus(t, order.ID))

	_, err = f.svc.UpdateStatus(ctx, seller(2), sos[1].ID, StatusInput{Status: "shipped", Carrier: "USPS", TrackingNumber: "9400"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, f.orderStatus(t, order.ID))

	_, err = f.svc.Deliver(ctx, seller(1), sos[0].ID, "left at door")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, f.orderStatus(t, order.ID))

	detail, err = f.svc.UpdateStatus(ctx, seller(2), sos[1].ID, StatusInput{Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusDelivered, detail.Shipment.Status)
	assert.Equal(t, enums.OrderStatusDelivered, f.orderStatus(t, order.ID))
	require.Len(t, detail.Events, 3)
	assert.Equal(t, enums.ShipmentStatusShipped, *detail.Events[2].FromStatus)

	var outboxRows int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventShipmentStatusChanged).Count(&outboxRows).Error)
	assert.Equal(t, int64(6), outboxRows)
}

func TestShipValidationAndGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, sos := f.order(t, 1)

	_, err := f.svc.Ship(ctx, seller(1), sos[0].ID, ShipInput{Carrier: "UPS"})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = f.svc.Ship(ctx, seller(1), sos[0].ID, ShipInput{Carrier: "UPS", TrackingNumber: "1Z"})
	requireCode(t, err, pkgerrors.CodeConflict)

	f.pay(t, order.ID)
	_, err = f.svc.Ship(ctx, seller(9), sos[0].ID, ShipInput{Carrier: "UPS", TrackingNumber: "1Z"})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.Deliver(ctx, seller(1), sos[0].ID, "")
	requireCode(t, err, pkgerrors.CodeConflict)

	_, err = f.svc.Ship(ctx, auth.Caller{UserID: 77, Role: enums.RoleAdmin}, sos[0].ID, ShipInput{Carrier: "UPS", TrackingNumber: "1Z"})
	require.NoError(t, err)
	detail, err := f.svc.Ship(ctx, seller(1), sos[0].ID, ShipInput{Carrier: "FedEx", TrackingNumber: "7777"})
	require.NoError(t, err)
	assert.Equal(t, "FedEx", *detail.Shipment.Carrier)
	assert.Equal(t, enums.ShipmentStatusShipped, detail.Shipment.Status)
	assert.Len(t, detail.Events, 3)

	_, err = f.svc.Deliver(ctx, seller(1), sos[0].ID, "")
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, seller(1), sos[0].ID, ShipInput{Carrier: "UPS", TrackingNumber: "1Z"})
	requireCode(t, err, pkgerrors.CodeConflict)

	_, err = f.svc.UpdateStatus(ctx, seller(1), sos[0].ID, StatusInput{Status: "lost"})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCancelPlacedSellerOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, sos := f.order(t, 1)

	detail, err := f.svc.UpdateStatus(ctx, seller(1), sos[0].ID, StatusInput{Status: "cancelled", Note: "out of stock"})
	require.NoError(t, err)
	assert.Equal(t, enums.SellerOrderStatusCancelled, detail.SellerOrder.Status)

	var listing models.Listing
	require.NoError(t, f.client.DB().First(&listing, detail.Items[0].ListingID).Error)
	assert.Equal(t, 5, listing.StockQuantity)

	var events []models.OrderEvent
	require.NoError(t, f.client.DB().Where("order_id = ?", order.ID).Order("id").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "Seller order cancelled: out of stock", events[0].Message)
	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))

	_, err = f.svc.UpdateStatus(ctx, seller(1), sos[0].ID, StatusInput{Status: "cancelled"})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestSellerCancelRepricesOrderAndCancelsWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, sos := f.order(t, 1, 2)
	require.NoError(t, f.client.DB().Model(&models.SellerOrder{}).Where("order_id = ?", order.ID).Update("shipping_cost_cents", 500).Error)
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
		"shipping_cost_cents": 1000,
		"discount_cents":      400,
		"tax_cents":           288,
		"total_cents":         4888,
	}).Error)

	_, err := f.svc.UpdateStatus(ctx, seller(1), sos[0].ID, StatusInput{Status: "cancelled"})
	require.NoError(t, err)

	var repriced models.Order
	require.NoError(t, f.client.DB().First(&repriced, order.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, repriced.Status)
	assert.Equal(t, int64(2000), repriced.SubtotalCents)
	assert.Equal(t, int64(500), repriced.ShippingCostCents)
	assert.Equal(t, int64(200), repriced.DiscountCents)
	assert.Equal(t, int64(144), repriced.TaxCents)
	assert.Equal(t, int64(2444), repriced.TotalCents)
	assert.Equal(t, repriced.ExpectedTotal(), repriced.TotalCents)

	_, err = f.svc.UpdateStatus(ctx, seller(2), sos[1].ID, StatusInput{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))

	var cancelledRows int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCancelled).Count(&cancelledRows).Error)
	assert.Equal(t, int64(1), cancelledRows)

	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.lifecycle.MarkPaid(ctx, tx, order.ID)
	})
	requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))
}

func TestSellerCancelRejectedOnceBuyerStartsPaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, sos := f.order(t, 1, 2)
	intent := models.PaymentIntent{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		AmountCents: order.TotalCents,
		Currency:    "USD",
		Status:      enums.PaymentStatusAuthorized,
		Method:      enums.PaymentMethodCard,
		Provider:    enums.PaymentProviderSandbox,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
	require.NoError(t, f.client.DB().Create(&intent).Error)

	_, err := f.svc.UpdateStatus(ctx, seller(1), sos[0].ID, StatusInput{Status: "cancelled"})
	requireCode(t, err, pkgerrors.CodeConflict)

	detail, err := f.svc.Get(ctx, seller(1), sos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SellerOrderStatusPlaced, detail.SellerOrder.Status)

	var listing models.Listing
	require.NoError(t, f.client.DB().First(&listing, detail.Items[0].ListingID).Error)
	assert.Equal(t, 3, listing.StockQuantity)

	var unchanged models.Order
	require.NoError(t, f.client.DB().First(&unchanged, order.ID).Error)
	assert.Equal(t, order.TotalCents, unchanged.TotalCents)
}

func TestDeliverRequiresSellerOrderInTransit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, sos := f.order(t, 1)
	f.pay(t, order.ID)
	_, err := f.svc.Ship(ctx, seller(1), sos[0].ID, ShipInput{Carrier: "UPS", TrackingNumber: "1Z"})
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Model(&models.SellerOrder{}).Where("id = ?", sos[0].ID).Update("status", enums.SellerOrderStatusRefunded).Error)

	_, err = f.svc.Deliver(ctx, seller(1), sos[0].ID, "")
	requireCode(t, err, pkgerrors.CodeConflict)

	detail, err := f.svc.Get(ctx, seller(1), sos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ShipmentStatusShipped, detail.Shipment.Status)
	assert.Equal(t, enums.SellerOrderStatusRefunded, detail.SellerOrder.Status)
}
