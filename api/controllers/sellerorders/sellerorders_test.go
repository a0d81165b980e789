package sellerorders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/internal/shipments"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

type stubShipments struct {
	shipments.Service
	ship   func(id uint, in shipments.ShipInput) (*shipments.Detail, error)
	status func(id uint, in shipments.StatusInput) (*shipments.Detail, error)
}

func (s *stubShipments) Ship(_ context.Context, _ auth.Caller, id uint, in shipments.ShipInput) (*shipments.Detail, error) {
	return s.ship(id, in)
}

func (s *stubShipments) UpdateStatus(_ context.Context, _ auth.Caller, id uint, in shipments.StatusInput) (*shipments.Detail, error) {
	return s.status(id, in)
}

var seller = auth.Caller{UserID: 4, Role: enums.RoleSeller}

func sellerReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rc := chi.NewRouteContext()
	rc.URLParams.Add("sellerOrderId", "12")
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	return req.WithContext(middleware.WithCaller(ctx, seller))
}

func TestShipRendersShipment(t *testing.T) {
	carrier, tracking := "UPS", "1Z999"
	svc := &stubShipments{
		ship: func(id uint, in shipments.ShipInput) (*shipments.Detail, error) {
			assert.Equal(t, uint(12), id)
			assert.Equal(t, "UPS", in.Carrier)
			return &shipments.Detail{
				SellerOrder: models.SellerOrder{ID: 12, SellerID: 4, Status: enums.SellerOrderStatusShipped},
				Shipment:    &models.Shipment{ID: 2, Status: enums.ShipmentStatusShipped, Carrier: &carrier, TrackingNumber: &tracking},
			}, nil
		},
	}
	resp := httptest.NewRecorder()
	Ship(svc, nil).ServeHTTP(resp, sellerReq(`{"carrier":" UPS ","tracking_number":"1Z999"}`))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Data struct {
			Status   string `json:"status"`
			Shipment struct {
				Status         string `json:"status"`
				TrackingNumber string `json:"tracking_number"`
			} `json:"shipment"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "shipped", body.Data.Status)
	assert.Equal(t, "shipped", body.Data.Shipment.Status)
	assert.Equal(t, "1Z999", body.Data.Shipment.TrackingNumber)
}

func TestShipRequiresTracking(t *testing.T) {
	resp := httptest.NewRecorder()
	Ship(&stubShipments{}, nil).ServeHTTP(resp, sellerReq(`{"carrier":"UPS"}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateStatusValidatesAndMapsConflicts(t *testing.T) {
	svc := &stubShipments{
		status: func(id uint, in shipments.StatusInput) (*shipments.Detail, error) {
			assert.Equal(t, "delivered", in.Status)
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "shipment must be shipped before delivery")
		},
	}
	resp := httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(resp, sellerReq(`{"status":"returned"}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	UpdateStatus(svc, nil).ServeHTTP(resp, sellerReq(`{"status":"delivered"}`))
	assert.Equal(t, http.StatusConflict, resp.Code)
}
