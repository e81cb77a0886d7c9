package models

import (
	"time"

	"github.com/google/uuid"
)

// RestockSubscription registers a user's interest in a sold-out variant.
// The restock fan-out creates one notification per subscription when the
// variant's stock goes from zero back to positive.
type RestockSubscription struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_restock_subs_user_variant"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_restock_subs_user_variant"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
