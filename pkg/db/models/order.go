package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Order is the immutable record of a completed checkout. Only Status mutates
// after creation, and only through the order state machine. Cancellation is a
// status, never a deletion. ExternalRef correlates fulfillment webhooks.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status            enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	TotalAmount       decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency          enums.Currency    `gorm:"column:currency;not null;default:'USD'"`
	ShippingAddressID uuid.UUID         `gorm:"column:shipping_address_id;type:uuid;not null"`
	ExternalRef       *string           `gorm:"column:external_ref;index"`
	Items             []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
