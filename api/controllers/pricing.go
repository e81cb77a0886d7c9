package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modaluna/modaluna-backend/api/responses"
	"github.com/modaluna/modaluna-backend/api/validators"
	"github.com/modaluna/modaluna-backend/internal/pricing"
	"github.com/modaluna/modaluna-backend/pkg/enums"
	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/logger"
)

const defaultHistoryLimit = 50

// ProductPrice resolves the effective price at an instant. The optional
// `at` query parameter (RFC 3339) defaults to now.
func ProductPrice(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		at := time.Now()
		if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "at must be an RFC 3339 timestamp"))
				return
			}
			at = parsed
		}

		resolved, err := svc.CurrentPrice(r.Context(), productID, at)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"productId": resolved.ProductID,
			"price":     resolved.Price,
			"currency":  resolved.Currency,
			"source":    resolved.Source,
			"validFrom": resolved.ValidFrom,
			"validTo":   resolved.ValidTo,
		})
	}
}

func PriceHistory(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		limit := defaultHistoryLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = value
		}

		records, err := svc.History(r.Context(), productID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]priceRecordView, 0, len(records))
		for i := range records {
			views = append(views, newPriceRecordView(&records[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

type setPriceRequest struct {
	Price     decimal.Decimal `json:"price" validate:"required"`
	Currency  enums.Currency  `json:"currency" validate:"required"`
	ValidFrom time.Time       `json:"validFrom" validate:"required"`
	ValidTo   *time.Time      `json:"validTo,omitempty"`
}

// SetPrice opens a new price interval, closing any currently open one.
func SetPrice(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}
		var req setPriceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.SetPrice(r.Context(), productID, pricing.SetPriceInput{
			Price:     req.Price,
			Currency:  req.Currency,
			ValidFrom: req.ValidFrom,
			ValidTo:   req.ValidTo,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPriceRecordView(record))
	}
}

// InstallmentQuote prices an installment plan off the product's current
// price: count payments of ceil(price*(1+rate/100)/count).
func InstallmentQuote(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		count, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("count")))
		if err != nil || count < 1 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "count must be a positive integer"))
			return
		}
		rate := decimal.Zero
		if raw := strings.TrimSpace(r.URL.Query().Get("surchargeRate")); raw != "" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid surcharge rate"))
				return
			}
			rate = parsed
		}

		resolved, err := svc.CurrentPrice(r.Context(), productID, time.Now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := pricing.CalculateInstallments(resolved.Price, count, rate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"productId": productID,
			"basePrice": resolved.Price,
			"currency":  resolved.Currency,
			"plan":      plan,
		})
	}
}
