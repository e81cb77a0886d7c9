package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/modaluna/modaluna-backend/pkg/enums"
)

// Return records a post-delivery return request. TriedOn3D copies the try-on
// flag frozen on the originating order items so return-rate metrics can be
// segmented without re-joining cart history.
type Return struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID                  `gorm:"column:order_id;type:uuid;not null;index"`
	Reason         string                     `gorm:"column:reason;not null"`
	ReasonCategory enums.ReturnReasonCategory `gorm:"column:reason_category;not null;default:'other'"`
	TriedOn3D      bool                       `gorm:"column:tried_on_3d;not null;default:false"`
	Status         enums.ReturnStatus         `gorm:"column:status;not null;default:'pending'"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
