package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/modaluna/modaluna-backend/api/responses"
	"github.com/modaluna/modaluna-backend/api/validators"
	"github.com/modaluna/modaluna-backend/internal/stock"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/logger"
)

type setStockRequest struct {
	Stock int `json:"stock" validate:"min=0"`
}

// AdminSetStock overwrites a variant's stock level. Crossing from zero to
// positive queues restock notifications for subscribers.
func AdminSetStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id"))
			return
		}
		var req setStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		variant, err := svc.SetStock(r.Context(), variantID, req.Stock)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVariantView(variant))
	}
}

// VariantStock reports a variant's live stock level.
func VariantStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id"))
			return
		}
		variant, err := svc.GetVariant(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVariantView(variant))
	}
}
