package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/modaluna/modaluna-backend/api/middleware"
	"github.com/modaluna/modaluna-backend/api/responses"
	"github.com/modaluna/modaluna-backend/api/validators"
	"github.com/modaluna/modaluna-backend/internal/checkout"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/logger"
)

type checkoutRequest struct {
	CartID            uuid.UUID `json:"cartId" validate:"required"`
	ShippingAddressID uuid.UUID `json:"shippingAddressId" validate:"required"`
	ExternalRef       *string   `json:"externalRef,omitempty"`
}

// Checkout converts the named cart into a pending order.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.InitCheckout(r.Context(), userID, checkout.Input{
			CartID:            req.CartID,
			ShippingAddressID: req.ShippingAddressID,
			ExternalRef:       req.ExternalRef,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderView(order))
	}
}

func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}
