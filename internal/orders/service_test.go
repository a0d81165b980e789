package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type stubReleaser struct {
	calls    []uint
	released int
	err      error
}

func (s *stubReleaser) CancelForOrder(_ context.Context, _ *gorm.DB, orderID uint, _ auth.Caller) (func(context.Context), error) {
	s.calls = append(s.calls, orderID)
	if s.err != nil {
		return nil, s.err
	}
	return func(context.Context) { s.released++ }, nil
}

type fixture struct {
	client    *db.Client
	svc       Service
	repo      Repository
	campaigns campaigns.Repository
	payments  *stubReleaser
}

func newFixture(t *testing.T, pricing config.PricingConfig) fixture {
	t.Helper()
	client := dbtest.New(t)
	repo := NewRepositoryWithClock(client.DB(), clock)
	campaignRepo := campaigns.NewRepository(client.DB())
	engine, err := campaigns.NewEngine(campaignRepo, campaigns.WithClock(clock))
	require.NoError(t, err)
	payments := &stubReleaser{}

	svc, err := NewService(Deps{
		Tx:        client,
		Repo:      repo,
		Carts:     NewCartRepository(client.DB()),
		Campaigns: engine,
		Payments:  payments,
		Outbox:    outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Pricing:   pricing,
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, repo: repo, campaigns: campaignRepo, payments: payments}
}

func (f fixture) listing(t *testing.T, sellerID uint, priceCents int64, stock int) models.Listing {
	t.Helper()
	l := models.Listing{
		SellerID:          sellerID,
		ProductID:         sellerID*100 + uint(stock),
		CategoryID:        7,
		Title:             "listing",
		PriceCents:        priceCents,
		StockQuantity:     stock,
		LowStockThreshold: 5,
		StockStatus:       enums.StockStatusFor(stock, 5),
		IsActive:          true,
	}
	require.NoError(t, f.client.DB().Create(&l).Error)
	return l
}

func (f fixture) addToCart(t *testing.T, userID, listingID uint, qty int) {
	t.Helper()
	require.NoError(t, f.client.DB().Create(&models.CartItem{UserID: userID, ListingID: listingID, Quantity: qty}).Error)
}

func (f fixture) address(t *testing.T, userID uint) models.Address {
	t.Helper()
	a := models.Address{UserID: userID, FullName: "Ada Buyer", Line1: "1 Main St", City: "Austin", Region: "TX", PostalCode: "78701", Country: "US"}
	require.NoError(t, f.client.DB().Create(&a).Error)
	return a
}

func (f fixture) reloadListing(t *testing.T, id uint) models.Listing {
	t.Helper()
	var l models.Listing
	require.NoError(t, f.client.DB().First(&l, id).Error)
	return l
}

func buyer(id uint) auth.Caller { return auth.Caller{UserID: id, Role: enums.RoleBuyer} }

func TestCheckoutTwoSellersWithStackedCampaigns(t *testing.T) {
	f := newFixture(t, config.PricingConfig{ShippingFeeCents: 700, Currency: "USD"})
	ctx := context.Background()
	for _, c := range []models.Campaign{
		{Name: "ten off", Type: enums.CampaignTypePercentage, Scope: enums.CampaignScopeAllProducts, DiscountPercent: decimal.NewFromInt(10), Priority: 10, IsStackable: true},
		{Name: "ship free", Type: enums.CampaignTypeFreeShipping, Scope: enums.CampaignScopeAllProducts, Priority: 5},
	} {
		c.IsActive = true
		c.StartDate = fixedNow.Add(-time.Hour)
		c.EndDate = fixedNow.Add(time.Hour)
		require.NoError(t, f.campaigns.Create(ctx, &c))
	}

	a := f.listing(t, 1, 10000, 5)
	b := f.listing(t, 2, 5000, 1)
	f.addToCart(t, 42, a.ID, 2)
	f.addToCart(t, 42, b.ID, 1)
	addr := f.address(t, 42)

	res, err := f.svc.Checkout(ctx, buyer(42), CheckoutInput{ShippingAddressID: addr.ID})
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, "ORD-20260301-000001", order.OrderNumber)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, int64(25000), order.SubtotalCents)
	assert.Equal(t, int64(2500), order.DiscountCents)
	assert.Equal(t, int64(0), order.ShippingCostCents)
	assert.Equal(t, int64(22500), order.TotalCents)
	assert.Equal(t, order.ExpectedTotal(), order.TotalCents)
	assert.Equal(t, "Ada Buyer, 1 Main St, Austin TX 78701, US", order.ShippingAddress)
	assert.Equal(t, order.ShippingAddress, order.BillingAddress)

	require.Len(t, res.SellerOrders, 2)
	assert.Equal(t, int64(20000), res.SellerOrders[0].SubtotalCents)
	assert.Equal(t, int64(5000), res.SellerOrders[1].SubtotalCents)
	for _, so := range res.SellerOrders {
		var sum int64
		for _, item := range so.Items {
			assert.Equal(t, item.UnitPriceCents*int64(item.Quantity), item.LineTotalCents)
			sum += item.LineTotalCents
		}
		assert.Equal(t, so.SubtotalCents, sum)
		assert.Equal(t, enums.SellerOrderStatusPlaced, so.Status)
	}

	require.Len(t, res.Events, 1)
	assert.Equal(t, enums.OrderEventTypePlaced, res.Events[0].Type)
	assert.Equal(t, "Order placed", res.Events[0].Message)
	require.Len(t, res.Campaigns.Applied, 2)

	la := f.reloadListing(t, a.ID)
	assert.Equal(t, 3, la.StockQuantity)
	assert.Equal(t, enums.StockStatusLowStock, la.StockStatus)
	lb := f.reloadListing(t, b.ID)
	assert.Equal(t, 0, lb.StockQuantity)
	assert.Equal(t, enums.StockStatusOutOfStock, lb.StockStatus)

	var cartCount, usageCount, outboxCount int64
	require.NoError(t, f.client.DB().Model(&models.CartItem{}).Where("user_id = ?", 42).Count(&cartCount).Error)
	require.NoError(t, f.client.DB().Model(&models.CampaignUsage{}).Where("order_id = ?", order.ID).Count(&usageCount).Error)
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderPlaced).Count(&outboxCount).Error)
	assert.Zero(t, cartCount)
	assert.Equal(t, int64(2), usageCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestCheckoutInsufficientStockLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	ok := f.listing(t, 1, 1000, 10)
	short := f.listing(t, 2, 1000, 1)
	f.addToCart(t, 5, ok.ID, 3)
	f.addToCart(t, 5, short.ID, 2)
	addr := f.address(t, 5)

	_, err := f.svc.Checkout(context.Background(), buyer(5), CheckoutInput{ShippingAddressID: addr.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	assert.Equal(t, 10, f.reloadListing(t, ok.ID).StockQuantity)
	assert.Equal(t, 1, f.reloadListing(t, short.ID).StockQuantity)

	var orders, cart int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, f.client.DB().Model(&models.CartItem{}).Count(&cart).Error)
	assert.Zero(t, orders)
	assert.Equal(t, int64(2), cart)
}

func TestCheckoutValidatesInput(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	addr := f.address(t, 5)

	_, err := f.svc.Checkout(context.Background(), buyer(5), CheckoutInput{ShippingAddressID: addr.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "empty cart")

	_, err = f.svc.Checkout(context.Background(), buyer(5), CheckoutInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "missing address")

	other := f.address(t, 6)
	l := f.listing(t, 1, 1000, 3)
	f.addToCart(t, 5, l.ID, 1)
	_, err = f.svc.Checkout(context.Background(), buyer(5), CheckoutInput{ShippingAddressID: other.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "foreign address")
}

func TestCheckoutAppliesShippingAndTax(t *testing.T) {
	f := newFixture(t, config.PricingConfig{ShippingFeeCents: 500, TaxRateBps: 825, Currency: "USD"})
	l := f.listing(t, 1, 5000, 10)
	f.addToCart(t, 9, l.ID, 1)
	f.addToCart(t, 9, l.ID, 1)
	addr := f.address(t, 9)

	res, err := f.svc.Checkout(context.Background(), buyer(9), CheckoutInput{ShippingAddressID: addr.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Order.SubtotalCents)
	assert.Equal(t, int64(500), res.Order.ShippingCostCents)
	assert.Equal(t, int64(825), res.Order.TaxCents)
	assert.Equal(t, int64(11325), res.Order.TotalCents)
	require.Len(t, res.SellerOrders, 1)
	require.Len(t, res.SellerOrders[0].Items, 1)
	assert.Equal(t, 2, res.SellerOrders[0].Items[0].Quantity)
	assert.Equal(t, int64(500), res.SellerOrders[0].ShippingCostCents)
}

func TestOrderNumbersIncrementPerDay(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	l := f.listing(t, 1, 1000, 10)
	addr := f.address(t, 3)

	var numbers []string
	for i := 0; i < 2; i++ {
		f.addToCart(t, 3, l.ID, 1)
		res, err := f.svc.Checkout(context.Background(), buyer(3), CheckoutInput{ShippingAddressID: addr.ID})
		require.NoError(t, err)
		numbers = append(numbers, res.Order.OrderNumber)
	}
	assert.Equal(t, []string{"ORD-20260301-000001", "ORD-20260301-000002"}, numbers)
}

func TestNextOrderNumber(t *testing.T) {
	assert.Equal(t, "ORD-20260301-000001", nextOrderNumber("ORD-20260301-", ""))
	assert.Equal(t, "ORD-20260301-000043", nextOrderNumber("ORD-20260301-", "ORD-20260301-000042"))
	assert.Equal(t, "ORD-20260302-000001", nextOrderNumber("ORD-20260302-", "ORD-20260301-000042"))
}

func placeOrder(t *testing.T, f fixture, userID uint, qty int) (*CheckoutResult, models.Listing) {
	t.Helper()
	l := f.listing(t, 1, 1000, 10)
	f.addToCart(t, userID, l.ID, qty)
	addr := f.address(t, userID)
	res, err := f.svc.Checkout(context.Background(), buyer(userID), CheckoutInput{ShippingAddressID: addr.ID})
	require.NoError(t, err)
	return res, l
}

func TestCancelRestoresStockAndReleasesPayment(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	res, l := placeOrder(t, f, 11, 4)
	assert.Equal(t, 6, f.reloadListing(t, l.ID).StockQuantity)

	_, err := f.svc.Cancel(context.Background(), buyer(12), res.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	detail, err := f.svc.Cancel(context.Background(), buyer(11), res.Order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, detail.Order.Status)
	require.NotNil(t, detail.Order.CancelReason)
	assert.Equal(t, "changed my mind", *detail.Order.CancelReason)
	require.NotNil(t, detail.Order.CancelledBy)
	assert.Equal(t, uint(11), *detail.Order.CancelledBy)
	for _, so := range detail.SellerOrders {
		assert.Equal(t, enums.SellerOrderStatusCancelled, so.Status)
	}
	restored := f.reloadListing(t, l.ID)
	assert.Equal(t, 10, restored.StockQuantity)
	assert.Equal(t, enums.StockStatusInStock, restored.StockStatus)
	assert.Equal(t, []uint{res.Order.ID}, f.payments.calls)
	assert.Equal(t, 1, f.payments.released)
	assert.Equal(t, enums.OrderEventTypeCancelled, detail.Events[len(detail.Events)-1].Type)

	_, err = f.svc.Cancel(context.Background(), buyer(11), res.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCancelRollsBackWhenPaymentCannotBeReleased(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	res, l := placeOrder(t, f, 11, 4)
	f.payments.err = pkgerrors.New(pkgerrors.CodeConflict, "payment already captured")

	_, err := f.svc.Cancel(context.Background(), buyer(11), res.Order.ID, "")
	require.Error(t, err)
	assert.Equal(t, 6, f.reloadListing(t, l.ID).StockQuantity)

	detail, err := f.svc.Get(context.Background(), buyer(11), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, detail.Order.Status)
}

func TestCompleteRequiresDelivered(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	res, _ := placeOrder(t, f, 11, 1)

	_, err := f.svc.Complete(context.Background(), buyer(11), res.Order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", res.Order.ID).Update("status", enums.OrderStatusDelivered).Error)
	detail, err := f.svc.Complete(context.Background(), buyer(11), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, detail.Order.Status)
	assert.NotNil(t, detail.Order.CompletedAt)
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	res, _ := placeOrder(t, f, 11, 1)

	_, err := f.svc.Get(context.Background(), buyer(99), res.Order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	detail, err := f.svc.Get(context.Background(), auth.Caller{UserID: 1, Role: enums.RoleAdmin}, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, detail.Order.ID)

	_, err = f.svc.Get(context.Background(), buyer(11), 9999)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListPagesNewestFirst(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	for i := 0; i < 3; i++ {
		o := models.Order{
			BuyerID:       21,
			OrderNumber:   fmt.Sprintf("ORD-20260301-%06d", i+1),
			Status:        enums.OrderStatusPending,
			Currency:      "USD",
			SubtotalCents: 100,
			TotalCents:    100,
			CreatedAt:     fixedNow.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, f.client.DB().Create(&o).Error)
	}
	require.NoError(t, f.client.DB().Create(&models.Order{BuyerID: 22, OrderNumber: "ORD-X", Status: enums.OrderStatusPending, Currency: "USD", CreatedAt: fixedNow}).Error)

	page, err := f.svc.List(context.Background(), buyer(21), pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.True(t, page.Orders[0].CreatedAt.After(page.Orders[1].CreatedAt))
	require.NotEmpty(t, page.NextCursor)

	next, err := f.svc.List(context.Background(), buyer(21), pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Orders, 1)
	assert.Empty(t, next.NextCursor)

	all, err := f.svc.List(context.Background(), auth.Caller{UserID: 1, Role: enums.RoleAdmin}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, all.Orders, 4)

	_, err = f.svc.List(context.Background(), buyer(21), pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestExpirePendingCancelsOldOrders(t *testing.T) {
	f := newFixture(t, config.PricingConfig{Currency: "USD"})
	res, l := placeOrder(t, f, 11, 2)

	n, err := f.svc.ExpirePending(context.Background(), fixedNow.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.ExpirePending(context.Background(), fixedNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	detail, err := f.svc.Get(context.Background(), buyer(11), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, detail.Order.Status)
	assert.Nil(t, detail.Order.CancelledBy)
	assert.Equal(t, 10, f.reloadListing(t, l.ID).StockQuantity)
}
