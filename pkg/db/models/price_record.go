package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// PriceRecord is one interval of a product's bitemporal price history.
// Validity is the half-open interval [ValidFrom, ValidTo); a nil ValidTo
// means the record is still current. Records are never deleted, only closed
// when superseded, so historical prices stay queryable.
type PriceRecord struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency  enums.Currency  `gorm:"column:currency;not null;default:'USD'"`
	ValidFrom time.Time       `gorm:"column:valid_from;not null"`
	ValidTo   *time.Time      `gorm:"column:valid_to"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// Covers reports whether the record's interval contains the given instant.
func (p PriceRecord) Covers(at time.Time) bool {
	if at.Before(p.ValidFrom) {
		return false
	}
	return p.ValidTo == nil || at.Before(*p.ValidTo)
}
