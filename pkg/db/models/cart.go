package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Cart is the mutable pre-purchase basket. It belongs to either an
// authenticated user or an anonymous session, never both. Partial unique
// indexes enforce at most one active cart per user and per session.
type Cart struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    *uuid.UUID       `gorm:"column:user_id;type:uuid;index"`
	SessionID *string          `gorm:"column:session_id;index"`
	Status    enums.CartStatus `gorm:"column:status;not null;default:'active'"`
	Currency  enums.Currency   `gorm:"column:currency;not null;default:'USD'"`
	Items     []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
