package outbox

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// OrderCreatedData is the payload for order.created events.
type OrderCreatedData struct {
	OrderID     uuid.UUID       `json:"orderId"`
	UserID      uuid.UUID       `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    enums.Currency  `json:"currency"`
	ItemCount   int             `json:"itemCount"`
}

// OrderStatusChangedData is the payload for order.status_changed events.
type OrderStatusChangedData struct {
	OrderID    uuid.UUID         `json:"orderId"`
	UserID     uuid.UUID         `json:"userId"`
	FromStatus enums.OrderStatus `json:"fromStatus"`
	ToStatus   enums.OrderStatus `json:"toStatus"`
}

// VariantRestockedData is the payload for variant.restocked events, emitted
// when a variant's stock crosses from zero back to positive.
type VariantRestockedData struct {
	VariantID uuid.UUID `json:"variantId"`
	SKU       string    `json:"sku"`
	NewStock  int       `json:"newStock"`
}
