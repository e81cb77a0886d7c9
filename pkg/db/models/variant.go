package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Variant is a purchasable unit (product + size + color). Stock is the single
// source of truth for sellability and is mutated exclusively by the stock
// ledger's conditional updates.
type Variant struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID     uuid.UUID        `gorm:"column:product_id;type:uuid;not null;index"`
	SKU           string           `gorm:"column:sku;not null;uniqueIndex"`
	Size          *string          `gorm:"column:size"`
	Color         *string          `gorm:"column:color"`
	Stock         int              `gorm:"column:stock;not null;default:0;check:stock >= 0"`
	PriceOverride *decimal.Decimal `gorm:"column:price_override;type:numeric(12,2)"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
