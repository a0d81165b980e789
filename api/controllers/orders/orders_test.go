package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	internalorders "github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

type stubOrdersService struct {
	checkout func(ctx context.Context, caller auth.Caller, input internalorders.CheckoutInput) (*internalorders.CheckoutResult, error)
	get      func(ctx context.Context, caller auth.Caller, orderID uint) (*internalorders.OrderDetail, error)
	list     func(ctx context.Context, caller auth.Caller, params pagination.Params) (*internalorders.OrderList, error)
	cancel   func(ctx context.Context, caller auth.Caller, orderID uint, reason string) (*internalorders.OrderDetail, error)
}

func (s *stubOrdersService) Checkout(ctx context.Context, caller auth.Caller, input internalorders.CheckoutInput) (*internalorders.CheckoutResult, error) {
	return s.checkout(ctx, caller, input)
}

func (s *stubOrdersService) Get(ctx context.Context, caller auth.Caller, orderID uint) (*internalorders.OrderDetail, error) {
	return s.get(ctx, caller, orderID)
}

func (s *stubOrdersService) List(ctx context.Context, caller auth.Caller, params pagination.Params) (*internalorders.OrderList, error) {
	return s.list(ctx, caller, params)
}

func (s *stubOrdersService) Cancel(ctx context.Context, caller auth.Caller, orderID uint, reason string) (*internalorders.OrderDetail, error) {
	return s.cancel(ctx, caller, orderID, reason)
}

func (s *stubOrdersService) Complete(ctx context.Context, caller auth.Caller, orderID uint) (*internalorders.OrderDetail, error) {
	panic("not implemented")
}

func (s *stubOrdersService) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	panic("not implemented")
}

var buyer = auth.Caller{UserID: 7, Role: enums.RoleBuyer}

func newRequest(method, target, body string, caller *auth.Caller, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	if caller != nil {
		ctx = middleware.WithCaller(ctx, *caller)
	}
	return req.WithContext(ctx)
}

func sampleDetail() *internalorders.OrderDetail {
	return &internalorders.OrderDetail{
		Order: models.Order{
			ID:            11,
			OrderNumber:   "ORD-20260301-000001",
			BuyerID:       7,
			Status:        enums.OrderStatusPending,
			SubtotalCents: 25000,
			DiscountCents: 2500,
			TotalCents:    22500,
		},
		SellerOrders: []internalorders.SellerOrderDetail{
			{
				SellerOrder: models.SellerOrder{ID: 21, SellerID: 1, Status: enums.SellerOrderStatusPlaced, SubtotalCents: 20000},
				Items:       []models.SellerOrderItem{{ID: 31, ListingID: 4, Title: "Widget", UnitPriceCents: 10000, Quantity: 2, LineTotalCents: 20000}},
			},
		},
	}
}

func TestCheckoutReturnsCreatedOrder(t *testing.T) {
	var got internalorders.CheckoutInput
	svc := &stubOrdersService{
		checkout: func(ctx context.Context, caller auth.Caller, input internalorders.CheckoutInput) (*internalorders.CheckoutResult, error) {
			assert.Equal(t, buyer, caller)
			got = input
			return &internalorders.CheckoutResult{
				OrderDetail: *sampleDetail(),
				Campaigns:   &campaigns.Result{SubtotalCents: 25000, DiscountCents: 2500},
			}, nil
		},
	}

	req := newRequest(http.MethodPost, "/api/v1/orders/checkout", `{"shipping_address_id":3,"coupon_code":"  SAVE10 "}`, &buyer, nil)
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, uint(3), got.ShippingAddressID)
	assert.Equal(t, "SAVE10", got.CouponCode)

	var body struct {
		Data struct {
			ID           uint   `json:"id"`
			TotalCents   int64  `json:"total_cents"`
			Status       string `json:"status"`
			SellerOrders []struct {
				Items []struct {
					LineTotalCents int64 `json:"line_total_cents"`
				} `json:"items"`
			} `json:"seller_orders"`
			Campaigns struct {
				DiscountCents int64 `json:"discount_cents"`
			} `json:"campaigns"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, uint(11), body.Data.ID)
	assert.Equal(t, int64(22500), body.Data.TotalCents)
	assert.Equal(t, "pending", body.Data.Status)
	require.Len(t, body.Data.SellerOrders, 1)
	assert.Equal(t, int64(20000), body.Data.SellerOrders[0].Items[0].LineTotalCents)
	assert.Equal(t, int64(2500), body.Data.Campaigns.DiscountCents)
}

func TestCheckoutValidatesBody(t *testing.T) {
	svc := &stubOrdersService{}
	req := newRequest(http.MethodPost, "/api/v1/orders/checkout", `{"shipping_address_id":0}`, &buyer, nil)
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCheckoutRequiresCaller(t *testing.T) {
	req := newRequest(http.MethodPost, "/api/v1/orders/checkout", `{"shipping_address_id":3}`, nil, nil)
	resp := httptest.NewRecorder()
	Checkout(&stubOrdersService{}, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestDetailMapsServiceErrors(t *testing.T) {
	svc := &stubOrdersService{
		get: func(ctx context.Context, caller auth.Caller, orderID uint) (*internalorders.OrderDetail, error) {
			assert.Equal(t, uint(11), orderID)
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}
	req := newRequest(http.MethodGet, "/api/v1/orders/11", "", &buyer, map[string]string{"orderId": "11"})
	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	req = newRequest(http.MethodGet, "/api/v1/orders/abc", "", &buyer, map[string]string{"orderId": "abc"})
	resp = httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListPassesPagination(t *testing.T) {
	svc := &stubOrdersService{
		list: func(ctx context.Context, caller auth.Caller, params pagination.Params) (*internalorders.OrderList, error) {
			assert.Equal(t, 5, params.Limit)
			assert.Equal(t, "abc", params.Cursor)
			return &internalorders.OrderList{Orders: []models.Order{sampleDetail().Order}, NextCursor: "next"}, nil
		},
	}
	req := newRequest(http.MethodGet, "/api/v1/orders?limit=5&cursor=abc", "", &buyer, nil)
	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Orders     []map[string]any `json:"orders"`
			NextCursor string           `json:"next_cursor"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Len(t, body.Data.Orders, 1)
	assert.Equal(t, "next", body.Data.NextCursor)
}

func TestCancelAcceptsEmptyBody(t *testing.T) {
	var reason string
	svc := &stubOrdersService{
		cancel: func(ctx context.Context, caller auth.Caller, orderID uint, r string) (*internalorders.OrderDetail, error) {
			reason = r
			d := sampleDetail()
			d.Order.Status = enums.OrderStatusCancelled
			return d, nil
		},
	}
	req := newRequest(http.MethodPost, "/api/v1/orders/11/cancel", "", &buyer, map[string]string{"orderId": "11"})
	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Empty(t, reason)

	req = newRequest(http.MethodPost, "/api/v1/orders/11/cancel", `{"reason":"changed my mind"}`, &buyer, map[string]string{"orderId": "11"})
	resp = httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "changed my mind", reason)
}
