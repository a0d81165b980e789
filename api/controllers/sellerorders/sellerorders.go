package sellerorders

import (
	"net/http"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/shipments"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type shipRequest struct {
	Carrier        string `json:"carrier" validate:"required,max=64"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=128"`
	Note           string `json:"note,omitempty" validate:"max=500"`
}

type deliverRequest struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

type statusRequest struct {
	Status         string `json:"status" validate:"required,oneof=shipped delivered cancelled"`
	Carrier        string `json:"carrier,omitempty" validate:"max=64"`
	TrackingNumber string `json:"tracking_number,omitempty" validate:"max=128"`
	Note           string `json:"note,omitempty" validate:"max=500"`
}

// Detail returns a seller order with its shipment and audit trail.
func Detail(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := sellerOrderRequest(w, r, svc, logg)
		if !ok {
			return
		}
		detail, err := svc.Get(r.Context(), caller, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerOrderResponse(detail))
	}
}

func Ship(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := sellerOrderRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload shipRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Ship(r.Context(), caller, id, shipments.ShipInput{
			Carrier:        validators.SanitizeString(payload.Carrier, 64),
			TrackingNumber: validators.SanitizeString(payload.TrackingNumber, 128),
			Note:           validators.SanitizeString(payload.Note, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerOrderResponse(detail))
	}
}

func Deliver(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := sellerOrderRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload deliverRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		detail, err := svc.Deliver(r.Context(), caller, id, validators.SanitizeString(payload.Note, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerOrderResponse(detail))
	}
}

// UpdateStatus dispatches shipped, delivered and cancelled updates.
func UpdateStatus(svc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := sellerOrderRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.UpdateStatus(r.Context(), caller, id, shipments.StatusInput{
			Status:         payload.Status,
			Carrier:        validators.SanitizeString(payload.Carrier, 64),
			TrackingNumber: validators.SanitizeString(payload.TrackingNumber, 128),
			Note:           validators.SanitizeString(payload.Note, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerOrderResponse(detail))
	}
}

func sellerOrderRequest(w http.ResponseWriter, r *http.Request, svc shipments.Service, logg *logger.Logger) (auth.Caller, uint, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipments service unavailable"))
		return auth.Caller{}, 0, false
	}
	caller, err := middleware.RequestCaller(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Caller{}, 0, false
	}
	id, err := validators.ParseIDParam(r, "sellerOrderId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Caller{}, 0, false
	}
	return caller, id, true
}
