package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Product is a catalog entry. The catalog itself is owned elsewhere; checkout
// only reads the name, base price and currency, and walks down to variants.
type Product struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string          `gorm:"column:name;not null"`
	Description *string         `gorm:"column:description"`
	BasePrice   decimal.Decimal `gorm:"column:base_price;type:numeric(12,2);not null"`
	Currency    enums.Currency  `gorm:"column:currency;not null;default:'USD'"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true"`
	Variants    []Variant       `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
