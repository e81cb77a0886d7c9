package webhooks

import (
	"net/http"

	"github.com/modaluna/modaluna-backend/api/responses"
	"github.com/modaluna/modaluna-backend/api/validators"
	"github.com/modaluna/modaluna-backend/internal/webhooks/fulfillment"
	"github.com/modaluna/modaluna-backend/pkg/logger"
)

// FulfillmentWebhook ingests shipping-provider status callbacks. Every
// outcome short of an internal error is acknowledged with 200 so the
// provider stops retrying; the result field says what actually happened.
func FulfillmentWebhook(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event fulfillment.Event
		if err := validators.DecodeJSONBody(r, &event); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.HandleEvent(r.Context(), event)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"result": string(result)})
	}
}
