package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/modaluna/modaluna-backend/pkg/db/models"
	"github.com/modaluna/modaluna-backend/pkg/logger"
	"github.com/modaluna/modaluna-backend/pkg/outbox"
)

type restockNotifier interface {
	FanOutRestock(ctx context.Context, variantID uuid.UUID) (int, error)
}

type orderStatusNotifier interface {
	NotifyOrderStatus(ctx context.Context, userID, orderID uuid.UUID) error
}

// NewRestockHandler turns variant_restocked events into back-in-stock
// notifications for everyone subscribed to the variant.
func NewRestockHandler(notifier restockNotifier, logg *logger.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
		var data outbox.VariantRestockedData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return fmt.Errorf("decode restock payload: %w", err)
		}
		if data.VariantID == uuid.Nil {
			return fmt.Errorf("restock payload missing variant id")
		}

		notified, err := notifier.FanOutRestock(ctx, data.VariantID)
		if err != nil {
			return fmt.Errorf("restock fan-out: %w", err)
		}
		if logg != nil && notified > 0 {
			logCtx := logg.WithFields(ctx, map[string]any{
				"variant_id": data.VariantID.String(),
				"sku":        data.SKU,
				"notified":   notified,
			})
			logg.Info(logCtx, "restock subscribers notified")
		}
		return nil
	})
}

// NewOrderStatusHandler records an in-app notification for every order
// status change.
func NewOrderStatusHandler(notifier orderStatusNotifier) Handler {
	return HandlerFunc(func(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
		var data outbox.OrderStatusChangedData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}
		if data.OrderID == uuid.Nil || data.UserID == uuid.Nil {
			return fmt.Errorf("status payload missing ids")
		}
		if err := notifier.NotifyOrderStatus(ctx, data.UserID, data.OrderID); err != nil {
			return fmt.Errorf("order status notification: %w", err)
		}
		return nil
	})
}
