package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is one line of a cart, keyed by (cart_id, variant_id). Adding the
// same variant twice increments Quantity instead of creating a second row.
// UnitPrice is the price displayed when the line was added; checkout
// re-resolves the authoritative price and never trusts this snapshot.
type CartItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID    uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_variant"`
	VariantID uuid.UUID       `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_variant"`
	Quantity  int             `gorm:"column:quantity;not null;check:quantity >= 1"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TriedOn3D bool            `gorm:"column:tried_on_3d;not null;default:false"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
